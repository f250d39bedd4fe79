package mc

import (
	"math"
)

// Decides whether a not-yet-relaxed branch must be widened under the
// current layout.
type FixupPolicy func(frag *RelaxableFragment, layout *Layout) bool

// Widens every relaxable branch unconditionally.  Bundle movement can push
// any branch arbitrarily far, so the widest encoding trades size for a
// fixed byte length.
func ForceWidePolicy(*RelaxableFragment, *Layout) bool {
	return true
}

// Widens only when the short displacement overflows.
func BaselinePolicy(frag *RelaxableFragment, layout *Layout) bool {
	if frag.Target == nil || frag.Target.Fragment == nil {
		// Unresolvable at assembly time, assume the worst.
		return true
	}

	disp := int64(layout.SymbolOffset(frag.Target)) -
		int64(layout.FragmentOffset(frag)) - int64(frag.SizeAt(0))
	return disp < math.MinInt8 || disp > math.MaxInt8
}

// Relaxes the section's branches to a fixed point.  Widening one branch
// can push another branch's target out of rel8 range, so the layout is
// invalidated and rescanned after every round of changes.
func Relax(section *Section, layout *Layout, policy FixupPolicy) {
	for {
		changed := false
		for frag := section.Head(); frag != nil; frag = frag.Next() {
			relaxable, ok := frag.(*RelaxableFragment)
			if !ok || relaxable.Relaxed() {
				continue
			}
			if policy(relaxable, layout) {
				relaxable.Relax()
				changed = true
			}
		}

		if !changed {
			return
		}
		layout.Invalidate()
	}
}
