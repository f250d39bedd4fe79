package solver

import (
	"math"
)

// A gap in the section's virtual address space, [First, First+Size).
type span struct {
	First uint64
	Size  uint64
}

func (s span) end() uint64 {
	return s.First + s.Size
}

type freeNode struct {
	span

	prev *freeNode
	next *freeNode
}

// The available virtual address space, as an ascending list of disjoint
// gaps.  The trailing node acts as an unbounded sentinel; every placement
// request can fall back to it, so first-fit scans always terminate.
type freeList struct {
	head *freeNode
	tail *freeNode
}

// MaxUint64/2 rather than MaxUint64 to keep offset arithmetic on the
// sentinel from overflowing.
func newFreeList() *freeList {
	list := &freeList{}
	list.insertBefore(
		nil,
		span{
			First: 0,
			Size:  math.MaxUint64 / 2,
		})
	return list
}

// Inserts a new node before the given node and returns it.  A nil before
// appends to the tail.
func (list *freeList) insertBefore(before *freeNode, value span) *freeNode {
	node := &freeNode{
		span: value,
	}

	if before == nil {
		node.prev = list.tail
		if list.tail != nil {
			list.tail.next = node
		} else {
			list.head = node
		}
		list.tail = node
		return node
	}

	node.prev = before.prev
	node.next = before
	if before.prev != nil {
		before.prev.next = node
	} else {
		list.head = node
	}
	before.prev = node
	return node
}

func (list *freeList) remove(node *freeNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		list.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		list.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

// Splits node into [First, First+offset) | [First+offset, end).  node is
// left on the second piece.
func (list *freeList) splitAt(node *freeNode, offset uint64) {
	list.insertBefore(
		node,
		span{
			First: node.First,
			Size:  offset,
		})
	node.First += offset
	node.Size -= offset
}

// Captured before a removal so the removal can be reversed: the half-open
// node range [start, end) that replaced the original node, and the
// original node's value.
type rollBackInfo struct {
	start *freeNode // nil means the list's end
	end   *freeNode // exclusive; nil means the list's end
	value span
}

// Reserves [node.First+offset, node.First+offset+size), removing it from
// the free list.  Returns rollback info for when the reservation has to be
// reversed.
func (list *freeList) removeRange(
	node *freeNode,
	offset uint64,
	size uint64,
) rollBackInfo {
	value := node.span

	if offset == 0 && node.Size == size {
		// The whole free block is used.
		next := node.next
		list.remove(node)
		return rollBackInfo{
			start: next,
			end:   next,
			value: value,
		}
	}

	if offset == 0 {
		// The reserved block is at the top of the free block.
		node.First += size
		node.Size -= size
		return rollBackInfo{
			start: node,
			end:   node.next,
			value: value,
		}
	}

	if offset+size == node.end() {
		// The reserved block is at the bottom of the free block.
		node.Size -= size
		if node.Size != offset {
			panic("should never reach here")
		}
		return rollBackInfo{
			start: node,
			end:   node.next,
			value: value,
		}
	}

	// The reserved block is somewhere in between, split the free block.
	start := list.insertBefore(
		node,
		span{
			First: node.First,
			Size:  offset,
		})
	node.First += offset + size
	node.Size -= offset + size
	return rollBackInfo{
		start: start,
		end:   node.next,
		value: value,
	}
}

// Reverses a removeRange: erases the nodes the removal introduced and
// reinserts the original span.  Returns the restored node.
func (list *freeList) rollBack(info rollBackInfo) *freeNode {
	restored := list.insertBefore(info.start, info.value)

	node := info.start
	for node != info.end {
		next := node.next
		list.remove(node)
		node = next
	}

	return restored
}
