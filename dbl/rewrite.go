package dbl

import (
	"fmt"

	"github.com/pattyshack/shrike/mc"
	"github.com/pattyshack/shrike/mc/x86"
)

// Rebuilds the section's fragment list to match the solved placement:
// for each result in ascending section offset, pad up to the bundle's
// offset with fill bytes, then move the bundle into place.  A negative
// pad means two placements overlap, which the solver guarantees against.
func (asm *Assembler) rewriteSection(layout *mc.Layout) {
	section := asm.Section
	swapSpot := section.Head()
	lastEnd := uint64(0)

	for _, sectionOffset := range asm.results.SortedOffsets() {
		result := asm.results[sectionOffset]
		bundle := &asm.bundles[result.BundleIdx]

		fill := int64(sectionOffset) - int64(lastEnd)
		if fill < 0 {
			panic(fmt.Sprintf(
				"bundle %d at section offset 0x%x overlaps with the "+
					"previous one",
				result.BundleIdx,
				sectionOffset))
		}

		// Pages full of padding are possible because of the linked
		// destination bundles.
		fillFrag := mc.NewFillFragment(x86.FillByte, uint64(fill))
		section.InsertBefore(fillFrag, swapSpot)
		section.NewSymbol(
			fmt.Sprintf("padding_before_bundle%d", result.BundleIdx),
			fillFrag)

		lastEnd += uint64(fill)
		lastEnd += bundle.Size(layout)

		fmt.Fprintf(
			asm.Trace,
			"Processing bundle %d: inserted 0x%x bytes padding\n",
			result.BundleIdx,
			fill)

		if swapSpot != bundle.Begin {
			// The bundle is not the next one in the fragment list; splice it
			// out and reinsert it before the cursor.
			frag := bundle.Begin
			for {
				next := frag.Next()
				last := frag == bundle.End
				section.InsertBefore(section.Remove(frag), swapSpot)
				if last {
					break
				}
				frag = next
			}
		} else {
			swapSpot = bundle.End.Next()
		}
	}

	// The section's begin symbol must point at the first fragment of the
	// new list; the linker uses it to compute inter-section offsets.
	section.BeginSymbol().Fragment = section.Head()
	section.BeginSymbol().Offset = 0
}
