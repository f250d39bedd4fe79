package dbl

import (
	"fmt"

	"github.com/pattyshack/shrike/mc"
)

// Dumps the section's bundle structure to the trace writer.  Fragment
// offsets are only printed when the layout is known to be valid; during
// reordering they are not.
func (asm *Assembler) traceSectionLayout(
	layout *mc.Layout,
	bundles []Bundle,
	printFragmentOffsets bool,
) {
	fmt.Fprintf(
		asm.Trace,
		"## SECTION %s: nr of fragments: %d, nr of bundles of interest: %d\n",
		asm.Section.Name,
		asm.Section.NumFragments(),
		len(bundles))

	byBegin := map[mc.Fragment]int{}
	for idx := range bundles {
		byBegin[bundles[idx].Begin] = idx
	}

	for frag := asm.Section.Head(); frag != nil; frag = frag.Next() {
		idx, ok := byBegin[frag]
		if ok {
			bundle := &bundles[idx]
			numFrags := 0
			size := uint64(0)
			for ; frag != nil; frag = frag.Next() {
				numFrags++
				size += layout.FragmentSize(frag)
				if frag == bundle.End {
					break
				}
			}
			if frag == nil {
				panic("bundle is not contiguous")
			}
			fmt.Fprintf(
				asm.Trace,
				"  Bundle %d with %d fragment(s), size: %d bytes\n",
				idx,
				numFrags,
				size)
			continue
		}

		fillFrag, ok := frag.(*mc.FillFragment)
		if ok {
			fmt.Fprintf(
				asm.Trace,
				"  Fragment (not in bundle) fill, size: %d bytes",
				fillFrag.Count)
			if printFragmentOffsets {
				fmt.Fprintf(
					asm.Trace,
					", fragment offset: 0x%x",
					layout.FragmentOffset(frag))
			}
			fmt.Fprintf(asm.Trace, "\n")
		}
	}
}
