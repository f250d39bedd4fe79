package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/shrike/config"
)

func TestAssignSpotFirstFit(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})

	first := &Block{Size: 0x10}
	solver.assignSpot(solver.freeList.head, first)
	assert.Equal(t, uint64(0), first.SectionOffset)

	second := &Block{Size: 0x20}
	solver.assignSpot(solver.freeList.head, second)
	assert.Equal(t, uint64(0x10), second.SectionOffset)

	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotSkipsSmallIntervals(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})

	// Carve a 0x10 sized hole at the front.
	solver.freeList.splitAt(solver.freeList.head, 0x10)

	block := &Block{Size: 0x40}
	solver.assignSpot(solver.freeList.head, block)
	assert.Equal(t, uint64(0x10), block.SectionOffset)

	// The small hole survives.
	assert.Equal(
		t,
		span{First: 0, Size: 0x10},
		solver.freeList.head.span)
	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotAtDist(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})

	normalDest := &Block{Size: 0x10}
	flipDest := &Block{Size: 0x10}
	solver.assignSpotAtDist(normalDest, flipDest, 0x20)

	assert.Equal(t, uint64(0), normalDest.SectionOffset)
	assert.Equal(t, uint64(0x20), flipDest.SectionOffset)

	// The gap between the pair stays free.
	assert.Equal(
		t,
		span{First: 0x10, Size: 0x10},
		solver.freeList.head.span)
	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotAtDistRollsBackUnusableIntervals(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})

	// [0, 0x14) | occupied | [0x100, ...): the flip slot for a normal
	// placement at 0 would land at 0x20, inside occupied space.
	solver.freeList.splitAt(solver.freeList.head, 0x14)
	solver.freeList.removeRange(solver.freeList.tail, 0, 0x100-0x14)

	normalDest := &Block{Size: 0x10}
	flipDest := &Block{Size: 0x10}
	solver.assignSpotAtDist(normalDest, flipDest, 0x20)

	assert.Equal(t, uint64(0x100), normalDest.SectionOffset)
	assert.Equal(t, uint64(0x120), flipDest.SectionOffset)

	// The first interval was rolled back untouched.
	assert.Equal(
		t,
		span{First: 0, Size: 0x14},
		solver.freeList.head.span)
	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotVictimAlignsTargetToVictim(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})
	victim := &config.VictimInfo{Addr: 0x4130, Bit: 3, Sign: true}

	block := &Block{
		Size: 0x140,
		TargetVictim: &TargetVictimInfo{
			TargetOffset: 0x120,
		},
	}
	solver.assignSpotVictim(block, victim)

	assert.Equal(t, uint64(0x10), block.SectionOffset)
	assert.Equal(
		t,
		victim.PageOffset(),
		(block.SectionOffset+block.TargetVictim.TargetOffset)%
			config.PageSize)

	// The section page is bound to the victim's frame.
	frame, bound := solver.pageToFrame[block.SectionOffset/config.PageSize]
	require.True(t, bound)
	assert.Equal(t, victim.Addr/config.PageSize, frame)

	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotVictimSentinelFallback(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})
	victim := &config.VictimInfo{Addr: 0x4100, Bit: 0, Sign: true}

	// targetOffset > victim page offset: no interval head fits, so the
	// placement moves one page forward into the sentinel.
	block := &Block{
		Size: 0x240,
		TargetVictim: &TargetVictimInfo{
			TargetOffset: 0x200,
		},
	}
	solver.assignSpotVictim(block, victim)

	assert.Equal(t, uint64(0x1f00), block.SectionOffset)
	assert.Equal(
		t,
		victim.PageOffset(),
		(block.SectionOffset+block.TargetVictim.TargetOffset)%
			config.PageSize)

	_, bound := solver.pageToFrame[uint64(1)]
	assert.True(t, bound)
	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotVictimKeepsSentinelUnbound(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})
	victim := &config.VictimInfo{Addr: 0x4130, Bit: 0, Sign: true}

	block := &Block{
		Size: 0x20,
		TargetVictim: &TargetVictimInfo{
			TargetOffset: 0x10,
		},
	}
	solver.assignSpotVictim(block, victim)

	// The trailing interval must start on a page with no frame binding, so
	// a later victim placement scanning it cannot conflict.
	tail := solver.freeList.tail
	_, bound := solver.pageToFrame[tail.First/config.PageSize]
	assert.False(t, bound)
	checkFreeListInvariants(t, solver.freeList)
}

func TestAssignSpotVictimRespectsExistingBinding(t *testing.T) {
	solver := NewSolver(&config.VictimTable{})

	first := &Block{
		Size: 0x20,
		TargetVictim: &TargetVictimInfo{
			TargetOffset: 0x10,
		},
	}
	solver.assignSpotVictim(
		first,
		&config.VictimInfo{Addr: 0x4130, Bit: 0, Sign: true})

	// A second victim in a different frame cannot reuse page 0 even though
	// the hole at [0, 0x120) could hold the block.
	second := &Block{
		Size: 0x20,
		TargetVictim: &TargetVictimInfo{
			TargetOffset: 0x10,
		},
	}
	solver.assignSpotVictim(
		second,
		&config.VictimInfo{Addr: 0x8080, Bit: 0, Sign: true})

	assert.NotEqual(
		t,
		first.SectionOffset/config.PageSize,
		second.SectionOffset/config.PageSize)
	assert.Equal(
		t,
		uint64(0x80),
		(second.SectionOffset+0x10)%config.PageSize)
	checkFreeListInvariants(t, solver.freeList)
}
