package dbl

import (
	"github.com/pattyshack/gt/parseutil"

	"github.com/pattyshack/shrike/config"
	"github.com/pattyshack/shrike/mc"
	"github.com/pattyshack/shrike/solver"
)

// A contiguous fragment range [Begin, End] plus a copy of the annotating
// target spec.  Bundles never overlap; their concatenated bytes move as a
// unit during the rewrite.  The first fragment is the fragment of
// interest, everything up to the next annotated fragment is tail filler.
type Bundle struct {
	Spec config.TargetSpec

	Begin mc.Fragment
	End   mc.Fragment // inclusive

	// For range specs: indices into the bundle slice of the two
	// destination bundles.  Valid once translateDestinations ran; any
	// later reshuffling of the bundle slice invalidates them.
	NormalDest int
	FlipDest   int
}

func (bundle *Bundle) Size(layout *mc.Layout) uint64 {
	size := uint64(0)
	for frag := bundle.Begin; frag != nil; frag = frag.Next() {
		size += layout.FragmentSize(frag)
		if frag == bundle.End {
			return size
		}
	}
	panic("bundle is not contiguous")
}

// Cuts the section's fragments into bundles.  The scan runs from tail to
// head, cutting at every annotated fragment, so each bundle's first
// fragment is the fragment of interest; a final reversal restores
// ascending order.
func formBundles(
	section *mc.Section,
	emitter *parseutil.Emitter,
) []Bundle {
	bundles := []Bundle{}

	bundleEnd := section.Tail()
	for frag := section.Tail(); frag != nil; frag = frag.Prev() {
		if _, ok := frag.(*mc.AlignFragment); ok {
			continue
		}

		if frag.Spec() == nil {
			continue
		}
		bundles = append(
			bundles,
			Bundle{
				Spec:  *frag.Spec(),
				Begin: frag,
				End:   bundleEnd,
			})
		bundleEnd = frag.Prev()
	}

	// Restore ascending order.
	for i, j := 0, len(bundles)-1; i < j; i, j = i+1, j-1 {
		bundles[i], bundles[j] = bundles[j], bundles[i]
	}

	if len(bundles) == 0 || bundles[0].Begin != section.Head() {
		emitter.Emit(
			parseutil.Location{FileName: section.Name},
			"not all fragments at the start of the section belong to a "+
				"bundle (is there a target at offset 0?)")
		return nil
	}

	return bundles
}

// Converts every range spec's destination output offsets into bundle
// indices.  Done once, before any reordering; the offset keyed map is
// useless afterwards.
func translateDestinations(
	bundles []Bundle,
	emitter *parseutil.Emitter,
) bool {
	byOffset := map[uint64]int{}
	for idx, bundle := range bundles {
		if _, ok := byOffset[bundle.Spec.OffsetInOutput]; ok {
			emitter.Emit(
				parseutil.Location{},
				"target offset 0x%x appears in two bundles",
				bundle.Spec.OffsetInOutput)
			return false
		}
		byOffset[bundle.Spec.OffsetInOutput] = idx
	}

	ok := true
	for idx := range bundles {
		bundle := &bundles[idx]
		rangeSpec, isRange := bundle.Spec.Kind.(config.Range)
		if !isRange {
			continue
		}

		// If one of these is missing, the target offsets are probably
		// overlapping (too many flips compared to the size of the binary).
		normalIdx, found := byOffset[rangeSpec.NormalDest]
		if !found {
			emitter.Emit(
				parseutil.Location{},
				"normal destination not found: 0x%x",
				rangeSpec.NormalDest)
			ok = false
			continue
		}
		flipIdx, found := byOffset[rangeSpec.FlipDest]
		if !found {
			emitter.Emit(
				parseutil.Location{},
				"flipped destination not found: 0x%x",
				rangeSpec.FlipDest)
			ok = false
			continue
		}

		bundle.NormalDest = normalIdx
		bundle.FlipDest = flipIdx
	}
	return ok
}

// Adds labels and jumps so the code stays correct when bundles get moved:
// scanning in reverse, each bundle's head gets a label and the preceding
// bundle's tail a 5-byte direct jump to it.  The last bundle falls
// through, so it carries no jump.  Costs 5 bytes per bundle.
func addBridgeJumps(section *mc.Section, bundles []Bundle) {
	var prevLabel *mc.Symbol
	for idx := len(bundles) - 1; idx >= 0; idx-- {
		bundle := &bundles[idx]

		if prevLabel != nil {
			appendJump(section, bundle, prevLabel)
		}

		prevLabel = section.NewTempSymbol(bundle.Begin)
	}
}

func appendJump(section *mc.Section, bundle *Bundle, target *mc.Symbol) {
	// The jump goes after the bundle's last content fragment, skipping any
	// trailing align fragments.
	endFrag := bundle.End
	for {
		if _, ok := endFrag.(*mc.AlignFragment); !ok {
			break
		}
		if endFrag == bundle.Begin {
			panic("bundle without content fragments")
		}
		endFrag = endFrag.Prev()
	}

	if dataFrag, ok := endFrag.(*mc.DataFragment); ok {
		dataFrag.AppendJump(target)
		return
	}

	// The tail fragment has a fixed encoding (a widened branch); the jump
	// gets its own fragment right after it.
	jumpFrag := mc.NewDataFragment(nil)
	jumpFrag.AppendJump(target)
	section.InsertAfter(jumpFrag, endFrag)
	if endFrag == bundle.End {
		bundle.End = jumpFrag
	}
}

func bundleInfos(bundles []Bundle, layout *mc.Layout) []solver.BundleInfo {
	infos := make([]solver.BundleInfo, 0, len(bundles))
	for idx := range bundles {
		bundle := &bundles[idx]
		infos = append(
			infos,
			solver.BundleInfo{
				Size:       bundle.Size(layout),
				Spec:       &bundle.Spec,
				NormalDest: bundle.NormalDest,
				FlipDest:   bundle.FlipDest,
			})
	}
	return infos
}
