package config

import (
	"os"
	"sort"

	"github.com/pattyshack/gt/parseutil"
	"gopkg.in/yaml.v3"
)

const (
	PageSize       = uint64(4096)
	PageOffsetMask = PageSize - 1
	PageAddrMask   = ^PageOffsetMask

	// Only instructions with 32-bit relative operands are supported as range
	// targets.  Narrower branches are widened to this form during relaxation.
	RangeDestSize = 4
)

type TargetKind interface {
	isTargetKindMarker()

	String() string
}

type isTargetKind struct{}

func (isTargetKind) isTargetKindMarker() {}

// A fragment that must be located during round 1 but carries no placement
// constraint.
type Ignored struct {
	isTargetKind
}

func (Ignored) String() string {
	return "none"
}

// A jump landing pad belonging to a range target.
type Destination struct {
	isTargetKind
}

func (Destination) String() string {
	return "destination"
}

// A single-bit flip at an exact page offset.
type Fixed struct {
	isTargetKind

	Bit  int
	Sign bool // true for '+'
}

func (Fixed) String() string {
	return "fixed"
}

// A 4-byte relative jump whose operand is to be flipped.  NormalDest and
// FlipDest are the output offsets of the two matching Destination specs.
type Range struct {
	isTargetKind

	DestSize   int
	NormalDest uint64
	FlipDest   uint64
}

func (Range) String() string {
	return "range"
}

type TargetSpec struct {
	OffsetInOutput uint64
	Kind           TargetKind

	// Set in round 1 once the spec is matched to the fragment that emits its
	// output offset.
	OffsetInFragment uint64
}

// True for specs whose bit value is changed by the flip (fixed and range);
// false for destinations and ignored fragments.
func (spec *TargetSpec) IsFlipTarget() bool {
	switch spec.Kind.(type) {
	case Fixed, Range:
		return true
	}
	return false
}

func (spec *TargetSpec) IsDestination() bool {
	_, ok := spec.Kind.(Destination)
	return ok
}

// Per section target specs (ignored, destination, fixed and range), sorted
// ascending by output offset.  The bundle
// former depends on this ordering.
type TargetOffsets map[string][]*TargetSpec

type targetValue struct {
	Type string `yaml:"type"`

	// none / fixed
	Offset uint64 `yaml:"offset"`

	// fixed
	Bit  int    `yaml:"bit"`
	Sign string `yaml:"sign"`

	// range
	StartOffset uint64 `yaml:"start_offset"`
	Range       int    `yaml:"range"`
	NormalDest  uint64 `yaml:"normal_dest"`
	FlippedDest uint64 `yaml:"flipped_dest"`
}

type targetSection struct {
	Name   string        `yaml:"name"`
	Values []targetValue `yaml:"values"`
}

type targetDocument struct {
	Sections []targetSection `yaml:"sections"`
}

func LoadTargetOffsets(path string) (TargetOffsets, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc := targetDocument{}
	err = yaml.Unmarshal(content, &doc)
	if err != nil {
		return nil, parseutil.NewLocationError(
			parseutil.Location{FileName: path},
			"cannot parse target offsets: %s",
			err)
	}

	result := TargetOffsets{}
	for _, section := range doc.Sections {
		for _, value := range section.Values {
			switch value.Type {
			case "none":
				result[section.Name] = append(
					result[section.Name],
					&TargetSpec{
						OffsetInOutput: value.Offset,
						Kind:           Ignored{},
					})
			case "fixed":
				result[section.Name] = append(
					result[section.Name],
					&TargetSpec{
						OffsetInOutput: value.Offset,
						Kind: Fixed{
							Bit:  value.Bit,
							Sign: value.Sign != "-",
						},
					})
			case "range":
				if value.Range != RangeDestSize {
					return nil, parseutil.NewLocationError(
						parseutil.Location{FileName: path},
						"unsupported range size %d for target 0x%x (only %d is supported)",
						value.Range,
						value.StartOffset,
						RangeDestSize)
				}
				result[section.Name] = append(
					result[section.Name],
					&TargetSpec{
						OffsetInOutput: value.StartOffset,
						Kind: Range{
							DestSize:   value.Range,
							NormalDest: value.NormalDest,
							FlipDest:   value.FlippedDest,
						},
					},
					&TargetSpec{
						OffsetInOutput: value.NormalDest,
						Kind:           Destination{},
					},
					&TargetSpec{
						OffsetInOutput: value.FlippedDest,
						Kind:           Destination{},
					})
			default:
				return nil, parseutil.NewLocationError(
					parseutil.Location{FileName: path},
					"unknown target type (%s) in section %s",
					value.Type,
					section.Name)
			}
		}
	}

	for _, specs := range result {
		sort.SliceStable(
			specs,
			func(i int, j int) bool {
				return specs[i].OffsetInOutput < specs[j].OffsetInOutput
			})
	}

	return result, nil
}
