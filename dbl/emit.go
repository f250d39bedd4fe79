package dbl

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
)

// Writes the primary table file and the validator file, one row per
// matched bundle, in ascending section offset order.  Nothing is emitted
// (and partial files are removed) on error.
func (asm *Assembler) emitResults() error {
	output := &strings.Builder{}
	validator := &strings.Builder{}

	output.WriteString("[General]\n\n")
	output.WriteString("[Layout]\n")

	for _, sectionOffset := range asm.results.SortedOffsets() {
		result := asm.results[sectionOffset]
		if result.Victim == nil {
			// No physical constraint, nothing for the loader to flip.
			fmt.Fprintf(
				asm.Trace,
				"bundle %d at section offset 0x%x has no victim assigned\n",
				result.BundleIdx,
				sectionOffset)
			continue
		}

		victim := asm.Victims.Victim(
			result.Victim.Frame,
			result.Victim.FrameIdx)
		sign := "+"
		if !victim.Sign {
			sign = "-"
		}
		aggressors := strings.Join(
			lo.Map(
				victim.Aggressors,
				func(aggr uint64, _ int) string {
					return fmt.Sprintf("0x%x", aggr)
				}),
			",")

		fmt.Fprintf(
			output,
			"%s 0x%x 0x%x %d%s %s 0x%x\n",
			asm.Section.Name,
			result.Victim.PageOffset,
			victim.Addr,
			victim.Bit,
			sign,
			aggressors,
			victim.AggressorInit)

		fmt.Fprintf(
			validator,
			"0,%s,%x\n",
			aggressors,
			victim.Addr)

		fmt.Fprintf(
			asm.Trace,
			"bundle %d has victim at section offset 0x%x (frame 0x%x, "+
				"victim offset 0x%x, bit %d%s)\n",
			result.BundleIdx,
			result.Victim.PageOffset,
			victim.FrameAddr(),
			victim.PageOffset(),
			victim.Bit,
			sign)
	}

	err := os.WriteFile(
		asm.Options.OutputFilePath(),
		[]byte(output.String()),
		0644)
	if err != nil {
		return err
	}

	err = os.WriteFile(
		asm.Options.ValidatorFilePath(),
		[]byte(validator.String()),
		0644)
	if err != nil {
		os.Remove(asm.Options.OutputFilePath())
		return err
	}

	return nil
}
