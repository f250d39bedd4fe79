package solver

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/pattyshack/shrike/config"
)

// The solver's view of a bundle, provided by the layout driver.  Sizes
// must include everything the bundle carries at placement time (bridge
// jumps included).
type BundleInfo struct {
	Size uint64
	Spec *config.TargetSpec

	// Destination bundle indices, valid only for range specs.  Filled by
	// the bundle former's offset to index translation.
	NormalDest int
	FlipDest   int
}

type TargetVictimInfo struct {
	// Offset of the target byte within the block.
	TargetOffset uint64
}

// A piece of code that needs to be positioned in the binary.
// SectionOffset is filled by the placement engine and is unique across
// blocks since blocks cannot overlap.
type Block struct {
	BundleIdx     int
	Size          uint64
	SectionOffset uint64

	// Nil for destinations and ignored bundles.
	TargetVictim *TargetVictimInfo
}

type VictimAssignment struct {
	// Indices into the victim table.
	Frame    int
	FrameIdx int

	// The section offset at which the victim byte lands.  For bundles
	// larger than a page this is within the bundle's first page only.
	PageOffset uint64
}

type Result struct {
	BundleIdx int

	// Nil when the bundle has no physical constraint.
	Victim *VictimAssignment
}

// Section offset -> placement, one entry per bundle.
type Results map[uint64]*Result

func (results Results) SortedOffsets() []uint64 {
	offsets := lo.Keys(results)
	sort.Slice(
		offsets,
		func(i int, j int) bool {
			return offsets[i] < offsets[j]
		})
	return offsets
}

// Holds the per-section placement state.  The solver decides a feasible
// layout; it never modifies the program under compilation.
//
// The search is heuristic: victim frames are matched best fit (least head
// padding), address space spots first fit.
type Solver struct {
	victims *config.VictimTable

	// Consumed victim frames, keyed by physical frame number.
	used map[uint64]struct{}

	// Each section page may be bound to at most one physical frame.
	pageToFrame map[uint64]uint64

	freeList *freeList
}

func NewSolver(victims *config.VictimTable) *Solver {
	return &Solver{
		victims:     victims,
		used:        map[uint64]struct{}{},
		pageToFrame: map[uint64]uint64{},
		freeList:    newFreeList(),
	}
}

// The fixed distance between every range target's two destinations, and
// the bit flip it corresponds to inside the 32-bit branch operand.
type RangeFlip struct {
	Dist       uint64
	ByteOffset uint64 // byte within the operand holding the flipped bit
	Bit        int
	Sign       bool
}

// dist = 2^ceil(log2(maxBundleSize)).  A single dist serves all pairs;
// the operand's flipped bit follows from log2(dist).
func NewRangeFlip(maxBundleSize uint64) (RangeFlip, error) {
	bitIdx := uint64(math.Ceil(math.Log2(float64(maxBundleSize))))
	if bitIdx >= 32 {
		return RangeFlip{}, fmt.Errorf(
			"bundles too large (0x%x bytes): the destination distance "+
				"2^%d does not fit in a 32-bit branch operand",
			maxBundleSize,
			bitIdx)
	}
	return RangeFlip{
		Dist:       uint64(1) << bitIdx,
		ByteOffset: bitIdx / 8,
		Bit:        int(bitIdx % 8),
		Sign:       true,
	}, nil
}

func newBlock(bundles []BundleInfo, bundleIdx int) *Block {
	bundle := bundles[bundleIdx]

	var targetVictim *TargetVictimInfo
	if bundle.Spec.IsFlipTarget() {
		targetVictim = &TargetVictimInfo{
			TargetOffset: bundle.Spec.OffsetInFragment,
		}
	}

	return &Block{
		BundleIdx:    bundleIdx,
		Size:         bundle.Size,
		TargetVictim: targetVictim,
	}
}

// Decides a feasible layout in which every target bit is associated with
// one victim bit.  Destination pairs are positioned first, at a fixed
// distance; the remaining bundles follow in bundle order, fixed and range
// targets aligned to their matched victim, ignored bundles first fit.
func (solver *Solver) Solve(bundles []BundleInfo) (Results, RangeFlip, error) {
	if len(bundles) == 0 {
		return Results{}, RangeFlip{}, nil
	}

	maxBundleSize := uint64(0)
	targets := []*Block{}
	destPairs := [][2]*Block{}
	for idx, bundle := range bundles {
		if bundle.Size > maxBundleSize {
			maxBundleSize = bundle.Size
		}
		if bundle.Spec.IsDestination() {
			continue
		}

		targets = append(targets, newBlock(bundles, idx))
		if _, ok := bundle.Spec.Kind.(config.Range); ok {
			destPairs = append(
				destPairs,
				[2]*Block{
					newBlock(bundles, bundles[idx].NormalDest),
					newBlock(bundles, bundles[idx].FlipDest),
				})
		}
	}

	rangeFlip, err := NewRangeFlip(maxBundleSize)
	if err != nil {
		return nil, RangeFlip{}, err
	}

	// Bridge jumps were inserted before sizes were measured, so the chosen
	// distance must still cover the largest bundle.
	if maxBundleSize > rangeFlip.Dist {
		panic("bundle grew past the inter-destination distance")
	}

	results := Results{}
	addResult := func(offset uint64, result *Result) {
		_, ok := results[offset]
		if ok {
			panic(fmt.Sprintf(
				"two bundles placed at section offset 0x%x",
				offset))
		}
		results[offset] = result
	}

	// 1. Position destination blocks, per pair with dist in between.  The
	// space between the pairs stays in the free list.
	for _, pair := range destPairs {
		normalDest := pair[0]
		flipDest := pair[1]
		solver.assignSpotAtDist(normalDest, flipDest, rangeFlip.Dist)

		addResult(
			normalDest.SectionOffset,
			&Result{BundleIdx: normalDest.BundleIdx})
		addResult(
			flipDest.SectionOffset,
			&Result{BundleIdx: flipDest.BundleIdx})
	}

	// 2. Position fixed flip blocks, range blocks, and ignored blocks.
	for _, block := range targets {
		result := &Result{BundleIdx: block.BundleIdx}

		if block.TargetVictim != nil {
			bit := rangeFlip.Bit
			sign := rangeFlip.Sign
			switch kind := bundles[block.BundleIdx].Spec.Kind.(type) {
			case config.Fixed:
				bit = kind.Bit
				sign = kind.Sign
			case config.Range:
				// The flipped bit lives partway into the 32-bit operand.
				block.TargetVictim.TargetOffset += rangeFlip.ByteOffset
			default:
				panic("should never reach here")
			}

			frame, frameIdx, err := solver.findVictim(block, bit, sign)
			if err != nil {
				return nil, RangeFlip{}, err
			}

			victim := solver.victims.Victim(frame, frameIdx)
			solver.assignSpotVictim(block, victim)

			result.Victim = &VictimAssignment{
				Frame:    frame,
				FrameIdx: frameIdx,
				PageOffset: block.TargetVictim.TargetOffset +
					block.SectionOffset,
			}
		} else {
			solver.assignSpot(solver.freeList.head, block)
		}

		addResult(block.SectionOffset, result)
	}

	return results, rangeFlip, nil
}
