package solver

import (
	"github.com/pattyshack/shrike/config"
)

// Selects the first free spot large enough for the block, starting the
// scan at start.  The sentinel guarantees a match.
func (solver *Solver) assignSpot(
	start *freeNode,
	block *Block,
) rollBackInfo {
	node := start
	for node != nil && node.Size < block.Size {
		node = node.next
	}
	if node == nil {
		panic("free list sentinel exhausted")
	}

	block.SectionOffset = node.First
	return solver.freeList.removeRange(node, 0, block.Size)
}

// Selects two free spots, one per destination block, exactly dist bytes
// apart.  The normal destination is placed first fit; if no free interval
// covers the flip slot at dist, the normal placement is rolled back and
// the scan resumes at the next interval.  The whole interval is skipped on
// failure even when a later offset inside it would work; the sentinel tail
// always accommodates the pair, so the loop terminates.
func (solver *Solver) assignSpotAtDist(
	normalDest *Block,
	flipDest *Block,
	dist uint64,
) {
	start := solver.freeList.head
	for {
		info := solver.assignSpot(start, normalDest)

		flipOffset := normalDest.SectionOffset + dist

		// The free list is ordered; find the last interval starting at or
		// before the flip slot.
		node := info.start
		for node != nil && flipOffset >= node.First {
			node = node.next
		}
		if node == nil {
			node = solver.freeList.tail
		} else {
			node = node.prev
		}

		if node != nil && node.end() >= flipOffset+flipDest.Size {
			flipDest.SectionOffset = flipOffset
			solver.freeList.removeRange(
				node,
				flipOffset-node.First,
				flipDest.Size)
			return
		}

		// Roll back and retry from the interval after the one that failed.
		restored := solver.freeList.rollBack(info)
		start = restored.next
	}
}

// Selects a free spot such that the block's target byte lands exactly on
// the victim's page offset, without crossing the interval's bounds and
// without binding a page to a second frame.
func (solver *Solver) assignSpotVictim(
	block *Block,
	victim *config.VictimInfo,
) {
	targetOffset := int64(block.TargetVictim.TargetOffset)
	victimPageOffset := int64(victim.Addr % config.PageSize)
	pageSize := int64(config.PageSize)

	node := solver.freeList.head
	for node != nil {
		intervalPageOffset := int64(node.First % config.PageSize)

		// The head must fit (assumes targetOffset + intervalPageOffset stays
		// below the page size), the tail must fit, and the page must not
		// already belong to a different frame.
		headFits := targetOffset+intervalPageOffset <= victimPageOffset
		tailFits := (int64(block.Size)-targetOffset)+victimPageOffset <=
			intervalPageOffset+int64(node.Size)
		boundFrame, bound := solver.pageToFrame[node.First/config.PageSize]
		frameOk := !bound || boundFrame == victim.Addr/config.PageSize

		if headFits && tailFits && frameOk {
			break
		}
		node = node.next
	}

	if node == nil {
		// No interval admits the alignment.  Take the sentinel and move one
		// page forward to a fresh, unbound page.
		node = solver.freeList.tail
		solver.freeList.splitAt(
			node,
			config.PageSize-node.First%config.PageSize)
	}

	blockOffset := uint64(
		((victimPageOffset-targetOffset-int64(node.First))%pageSize +
			pageSize) % pageSize)
	block.SectionOffset = node.First + blockOffset

	pageNr := node.First / config.PageSize
	if _, bound := solver.pageToFrame[pageNr]; bound {
		panic("page already bound to a frame")
	}
	solver.pageToFrame[pageNr] = victim.Addr / config.PageSize
	solver.freeList.removeRange(node, blockOffset, block.Size)

	// Keep the trailing sentinel free of frame bindings.
	last := solver.freeList.tail
	if last.First/config.PageSize == pageNr {
		solver.freeList.splitAt(
			last,
			config.PageSize-last.First%config.PageSize)
	}
}
