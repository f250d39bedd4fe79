package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pattyshack/gt/parseutil"
	"github.com/spf13/cobra"

	"github.com/pattyshack/shrike/config"
	"github.com/pattyshack/shrike/dbl"
	"github.com/pattyshack/shrike/mc"
)

// Drives the layout core over a raw section image: the image is cut into
// fragments at the configured target offsets (each boundary starts a
// fragment of interest, trailing bytes are filler), the two-round flow
// runs, and the rewritten image plus the loader mapping files are written
// to the output directory.

var command = &cobra.Command{
	Use:  "shrike section_image [flags]",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mode, _ := cmd.PersistentFlags().GetString("mode")
		targetOffsets, _ := cmd.PersistentFlags().GetString("target-offsets")
		victimAddresses, _ := cmd.PersistentFlags().GetString(
			"victim-addresses")
		outputDir, _ := cmd.PersistentFlags().GetString("output")
		id, _ := cmd.PersistentFlags().GetString("id")
		sectionName, _ := cmd.PersistentFlags().GetString("section")
		verbose, _ := cmd.PersistentFlags().GetBool("verbose")

		if outputDir == "" {
			var err error
			if outputDir, err = os.Getwd(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}

		options := dbl.Options{
			Mode:                dbl.Mode(mode),
			TargetOffsetsPath:   targetOffsets,
			VictimAddressesPath: victimAddresses,
			CompilerOutputPath:  outputDir,
			CompilationID:       id,
		}

		err := run(options, args[0], sectionName, verbose)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	command.PersistentFlags().String(
		"mode",
		string(dbl.Baseline),
		"dbl mode (baseline, offsets, dbl)")
	command.PersistentFlags().String(
		"target-offsets",
		"",
		"target offsets file path")
	command.PersistentFlags().String(
		"victim-addresses",
		"",
		"victim addresses file path")
	command.PersistentFlags().StringP(
		"output",
		"o",
		"",
		"output directory for the rewritten image and mapping files")
	command.PersistentFlags().String(
		"id",
		"",
		"an ID to tag the output files with")
	command.PersistentFlags().String(
		"section",
		".dbl_text",
		"name of the code section under layout")
	command.PersistentFlags().BoolP(
		"verbose",
		"v",
		false,
		"if set, print layout trace output")
}

func run(
	options dbl.Options,
	imagePath string,
	sectionName string,
	verbose bool,
) error {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}

	emitter := &parseutil.Emitter{}
	section := mc.NewSection(sectionName)

	asm := dbl.NewAssembler(options, section, emitter)
	if verbose {
		asm.Trace = os.Stderr
	}

	if options.Mode == dbl.DBL {
		targets, err := config.LoadTargetOffsets(options.TargetOffsetsPath)
		if err != nil {
			return err
		}
		asm.Targets = targets
		cutFragments(section, image, targets[sectionName])
	} else {
		section.Append(mc.NewDataFragment(image))
	}

	err = asm.Finish()
	if emitter.HasErrors() {
		for _, emitted := range emitter.Errors() {
			fmt.Fprintln(os.Stderr, emitted)
		}
	}
	if err != nil {
		return err
	}

	rewritten := filepath.Join(
		options.CompilerOutputPath,
		"section_"+options.CompilationID+".bin")
	return os.WriteFile(rewritten, asm.Writer.Bytes(), 0644)
}

// Splits the image into one fragment per configured target boundary.  The
// specs are sorted ascending, so each cut starts the fragment that the
// matching pass will annotate.
func cutFragments(
	section *mc.Section,
	image []byte,
	specs []*config.TargetSpec,
) {
	cuts := []uint64{0}
	for _, spec := range specs {
		offset := spec.OffsetInOutput
		if offset > uint64(len(image)) {
			continue
		}
		if offset != cuts[len(cuts)-1] {
			cuts = append(cuts, offset)
		}
	}
	cuts = append(cuts, uint64(len(image)))

	for idx := 0; idx+1 < len(cuts); idx++ {
		if cuts[idx] == cuts[idx+1] {
			continue
		}
		section.Append(mc.NewDataFragment(image[cuts[idx]:cuts[idx+1]]))
	}
}

func main() {
	err := command.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
