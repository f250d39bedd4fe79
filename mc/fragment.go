package mc

import (
	"github.com/pattyshack/shrike/config"
	"github.com/pattyshack/shrike/mc/x86"
)

// A piece of the section's contents.  Fragments form an intrusive doubly
// linked list owned by their parent section; the list supports the splice
// operations the layout driver needs (insert-before, remove, move).
type Fragment interface {
	Parent() *Section
	Next() Fragment
	Prev() Fragment

	// Content size given the fragment's section offset.  Only align
	// fragments depend on the offset.
	SizeAt(offset uint64) uint64

	// Annotation slot.  Filled during round 1 when the fragment is found to
	// emit a configured target offset.
	Spec() *config.TargetSpec
	SetSpec(*config.TargetSpec)

	setParent(*Section)
	setNext(Fragment)
	setPrev(Fragment)
}

type fragment struct {
	parent *Section
	next   Fragment
	prev   Fragment

	spec *config.TargetSpec
}

func (frag *fragment) Parent() *Section {
	return frag.parent
}

func (frag *fragment) Next() Fragment {
	return frag.next
}

func (frag *fragment) Prev() Fragment {
	return frag.prev
}

func (frag *fragment) Spec() *config.TargetSpec {
	return frag.spec
}

func (frag *fragment) SetSpec(spec *config.TargetSpec) {
	frag.spec = spec
}

func (frag *fragment) setParent(section *Section) {
	frag.parent = section
}

func (frag *fragment) setNext(next Fragment) {
	frag.next = next
}

func (frag *fragment) setPrev(prev Fragment) {
	frag.prev = prev
}

// A pc-relative reference from a fragment's contents to a symbol.  The
// stored bytes are a placeholder; the writer resolves the displacement
// against the final layout:
//
//	int32(SymbolOffset - (FragmentOffset + Offset + Size))
type Fixup struct {
	Offset int // within the fragment's contents
	Size   int // displacement width in bytes
	Target *Symbol
	Addend int64
}

// Raw encoded bytes, plus any pc-relative fixups into them.
type DataFragment struct {
	fragment

	Contents []byte
	Fixups   []Fixup
}

func NewDataFragment(contents []byte) *DataFragment {
	return &DataFragment{
		Contents: contents,
	}
}

func (frag *DataFragment) SizeAt(uint64) uint64 {
	return uint64(len(frag.Contents))
}

// Appends a 5-byte direct jump to the target symbol.
func (frag *DataFragment) AppendJump(target *Symbol) {
	frag.Contents = append(frag.Contents, x86.JmpRel32Placeholder()...)
	frag.Fixups = append(
		frag.Fixups,
		Fixup{
			Offset: len(frag.Contents) - x86.DispSize,
			Size:   x86.DispSize,
			Target: target,
		})
}

// A branch instruction that starts in its short (rel8) form and may be
// relaxed to its wide (rel32) form.  Once relaxed, the encoding byte length
// is fixed.
type RelaxableFragment struct {
	fragment

	Branch x86.Branch
	Target *Symbol

	relaxed bool
}

func NewRelaxableFragment(branch x86.Branch, target *Symbol) *RelaxableFragment {
	return &RelaxableFragment{
		Branch: branch,
		Target: target,
	}
}

func (frag *RelaxableFragment) Relaxed() bool {
	return frag.relaxed
}

func (frag *RelaxableFragment) Relax() {
	frag.relaxed = true
}

func (frag *RelaxableFragment) SizeAt(uint64) uint64 {
	if frag.relaxed {
		return frag.Branch.WideLen()
	}
	return frag.Branch.ShortLen()
}

// A value byte repeated Count times.
type FillFragment struct {
	fragment

	Value byte
	Count uint64
}

func NewFillFragment(value byte, count uint64) *FillFragment {
	return &FillFragment{
		Value: value,
		Count: count,
	}
}

func (frag *FillFragment) SizeAt(uint64) uint64 {
	return frag.Count
}

// Pads the section to the next multiple of Alignment.  The layout driver
// neutralizes alignment (sets it to 1) in non-baseline modes since moved
// bundles would otherwise change size.
type AlignFragment struct {
	fragment

	Alignment uint64
	Value     byte
}

func NewAlignFragment(alignment uint64, value byte) *AlignFragment {
	return &AlignFragment{
		Alignment: alignment,
		Value:     value,
	}
}

func (frag *AlignFragment) SetAlignment(alignment uint64) {
	frag.Alignment = alignment
}

func (frag *AlignFragment) SizeAt(offset uint64) uint64 {
	if frag.Alignment <= 1 {
		return 0
	}
	return (frag.Alignment - offset%frag.Alignment) % frag.Alignment
}
