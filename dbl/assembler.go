package dbl

import (
	"fmt"
	"io"

	"github.com/pattyshack/gt/parseutil"

	"github.com/pattyshack/shrike/config"
	"github.com/pattyshack/shrike/mc"
	"github.com/pattyshack/shrike/solver"
)

// Drives the destructive bit-flip layout over one code section.
//
// Round 1 performs a normal layout and write so that every fragment's
// output offset is known; configured targets are matched to their owning
// fragments along the way.  Round 2 resets the writer, cuts the section
// into bundles, inserts bridge jumps, solves the placement puzzle,
// rewrites the section accordingly, and writes again.
//
// The assembler is single threaded and must be externally serialized; all
// placement state is confined to one section layout pass.
type Assembler struct {
	Options

	Emitter *parseutil.Emitter

	// Stand-in for the host compiler's verbose stream.
	Trace io.Writer

	Section *mc.Section
	Writer  *mc.Writer

	// Pre-loaded config tables.  Left nil, Finish loads them from the
	// Options paths.
	Targets config.TargetOffsets
	Victims *config.VictimTable

	// Round 2 artifacts, kept for the emitters.
	bundles   []Bundle
	results   solver.Results
	rangeFlip solver.RangeFlip
}

func NewAssembler(
	options Options,
	section *mc.Section,
	emitter *parseutil.Emitter,
) *Assembler {
	return &Assembler{
		Options: options,
		Emitter: emitter,
		Trace:   io.Discard,
		Section: section,
		Writer:  &mc.Writer{},
	}
}

func (asm *Assembler) fixupPolicy() mc.FixupPolicy {
	if asm.Mode == Baseline {
		return mc.BaselinePolicy
	}
	// Any branch may end up crossing bundles, so every relaxable
	// instruction is forced to its widest form up front.
	return mc.ForceWidePolicy
}

func (asm *Assembler) loadConfig() error {
	if asm.Targets == nil {
		targets, err := config.LoadTargetOffsets(asm.TargetOffsetsPath)
		if err != nil {
			return err
		}
		asm.Targets = targets
	}

	if asm.Victims == nil {
		victims, err := config.LoadVictimAddresses(asm.VictimAddressesPath)
		if err != nil {
			return err
		}
		asm.Victims = victims
	}

	return nil
}

// Matches pending targets against the fragment the writer is about to
// emit.  The pending list is sorted ascending, so only its head needs to
// be considered.  Each fragment has a single annotation slot; a fragment
// covering two targets leaves the second unmatched, which is fatal after
// round 1.
func (asm *Assembler) matchTargets(
	frag mc.Fragment,
	sectionOffset uint64,
	size uint64,
) {
	pending := asm.Targets[asm.Section.Name]
	if len(pending) == 0 {
		return
	}

	switch frag.(type) {
	case *mc.DataFragment, *mc.RelaxableFragment:
	default:
		return
	}

	target := pending[0]
	matched := false
	if target.IsDestination() {
		// Destinations are jump landing pads; they must start the fragment.
		matched = sectionOffset == target.OffsetInOutput
	} else {
		matched = target.OffsetInOutput >= sectionOffset &&
			target.OffsetInOutput < sectionOffset+size
	}
	if !matched {
		return
	}

	spec := *target // copy
	spec.OffsetInFragment = target.OffsetInOutput - sectionOffset
	frag.SetSpec(&spec)
	asm.Targets[asm.Section.Name] = pending[1:]

	fmt.Fprintf(
		asm.Trace,
		"found %s target offset 0x%x (fragment offset 0x%x)\n",
		spec.Kind,
		spec.OffsetInOutput,
		spec.OffsetInFragment)
}

func (asm *Assembler) checkAllTargetsFound(numTargets int) bool {
	pending := asm.Targets[asm.Section.Name]
	fmt.Fprintf(
		asm.Trace,
		"Section %s: found %d of %d target offsets\n",
		asm.Section.Name,
		numTargets-len(pending),
		numTargets)

	for _, target := range pending {
		asm.Emitter.Emit(
			parseutil.Location{FileName: asm.TargetOffsetsPath},
			"target offset 0x%x was not found in the fragments for "+
				"section %s",
			target.OffsetInOutput,
			asm.Section.Name)
	}
	return len(pending) == 0
}

// Neutralize alignment since align fragments can change the layout when
// bundles move.  Erasing them breaks symbols pinned to them, so the
// alignment is set to 1 instead, which removes the align effect.
func (asm *Assembler) neutralizeAlignment() {
	for frag := asm.Section.Head(); frag != nil; frag = frag.Next() {
		alignFrag, ok := frag.(*mc.AlignFragment)
		if ok {
			alignFrag.SetAlignment(1)
		}
	}
}

func (asm *Assembler) Finish() error {
	err := asm.Options.Validate()
	if err != nil {
		asm.Emitter.EmitErrors(err)
		return err
	}

	if asm.Mode != Baseline {
		asm.neutralizeAlignment()
	}

	var matchHook mc.MatchHook
	numTargets := 0
	if asm.Mode == DBL {
		err = asm.loadConfig()
		if err != nil {
			asm.Emitter.EmitErrors(err)
			return err
		}
		numTargets = len(asm.Targets[asm.Section.Name])
		matchHook = asm.matchTargets
	}

	// Round 1: normal layout and write; identify the fragments containing
	// targets and their fragment offsets.
	layout := mc.NewLayout()
	mc.Relax(asm.Section, layout, asm.fixupPolicy())
	err = asm.Writer.WriteSection(layout, asm.Section, matchHook)
	if err != nil {
		asm.Emitter.EmitErrors(err)
		return err
	}

	if asm.Mode != DBL {
		return nil
	}

	oldSize := asm.Writer.Tell()
	if !asm.checkAllTargetsFound(numTargets) {
		return fmt.Errorf(
			"%d target offsets were not matched in round 1",
			len(asm.Targets[asm.Section.Name]))
	}

	// Round 2: relayout with the solved placement and write again.
	asm.Writer.Reset()
	err = asm.layoutRound2()
	if err != nil {
		asm.Emitter.EmitErrors(err)
		return err
	}

	layout = mc.NewLayout()
	err = asm.Writer.WriteSection(layout, asm.Section, nil)
	if err != nil {
		asm.Emitter.EmitErrors(err)
		return err
	}

	newSize := asm.Writer.Tell()
	fmt.Fprintf(
		asm.Trace,
		"Replaced %d bytes old binary code with %d bytes of new binary "+
			"code, fraction: %f\n",
		oldSize,
		newSize,
		float64(newSize)/float64(oldSize))

	return asm.emitResults()
}

func (asm *Assembler) layoutRound2() error {
	// Round 1 offsets are meaningless once fragments move.
	layout := mc.NewLayout()

	bundles := formBundles(asm.Section, asm.Emitter)
	if bundles == nil {
		return fmt.Errorf("bundle formation failed")
	}
	if !translateDestinations(bundles, asm.Emitter) {
		return fmt.Errorf("destination translation failed")
	}

	asm.traceSectionLayout(layout, bundles, false)

	fmt.Fprintf(
		asm.Trace,
		"Adding jmp instruction (5 bytes) in every bundle\n")
	addBridgeJumps(asm.Section, bundles)
	layout.Invalidate()

	results, rangeFlip, err := solver.NewSolver(asm.Victims).Solve(
		bundleInfos(bundles, layout))
	if err != nil {
		return err
	}

	asm.bundles = bundles
	asm.results = results
	asm.rangeFlip = rangeFlip
	fmt.Fprintf(
		asm.Trace,
		"Destination distance: 0x%x (operand byte %d, bit %d)\n",
		rangeFlip.Dist,
		rangeFlip.ByteOffset,
		rangeFlip.Bit)

	fmt.Fprintf(asm.Trace, "########## REORDERING / PADDING / MOVING ##########\n")
	asm.rewriteSection(layout)

	layout.Invalidate()
	asm.traceSectionLayout(layout, bundles, true)
	return nil
}
