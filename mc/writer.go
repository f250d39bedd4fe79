package mc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Invoked per fragment as the writer reaches it, before the fragment's
// bytes are emitted.  sectionOffset is relative to the section's start in
// the output stream.
type MatchHook func(frag Fragment, sectionOffset uint64, size uint64)

// An append-only section image writer with the host object writer's
// Tell/Reset surface.
type Writer struct {
	buf bytes.Buffer
}

func (writer *Writer) Tell() uint64 {
	return uint64(writer.buf.Len())
}

func (writer *Writer) Reset() {
	writer.buf.Reset()
}

func (writer *Writer) Bytes() []byte {
	return writer.buf.Bytes()
}

func (writer *Writer) WriteSection(
	layout *Layout,
	section *Section,
	hook MatchHook,
) error {
	sectionStart := writer.Tell()

	for frag := section.Head(); frag != nil; frag = frag.Next() {
		size := layout.FragmentSize(frag)
		if hook != nil {
			hook(frag, writer.Tell()-sectionStart, size)
		}

		contents, err := encodeFragment(layout, frag)
		if err != nil {
			return err
		}

		if uint64(len(contents)) != size {
			panic("the stream should advance by fragment size")
		}
		writer.buf.Write(contents)
	}

	return nil
}

func encodeFragment(layout *Layout, frag Fragment) ([]byte, error) {
	switch f := frag.(type) {
	case *DataFragment:
		contents := append([]byte{}, f.Contents...)
		for _, fixup := range f.Fixups {
			err := applyFixup(layout, f, fixup, contents)
			if err != nil {
				return nil, err
			}
		}
		return contents, nil

	case *RelaxableFragment:
		return encodeRelaxable(layout, f)

	case *FillFragment:
		return bytes.Repeat([]byte{f.Value}, int(f.Count)), nil

	case *AlignFragment:
		return bytes.Repeat(
			[]byte{f.Value},
			int(f.SizeAt(layout.FragmentOffset(f)))), nil

	default:
		panic("unhandled fragment kind")
	}
}

func applyFixup(
	layout *Layout,
	frag Fragment,
	fixup Fixup,
	contents []byte,
) error {
	if fixup.Target == nil || fixup.Target.Fragment == nil {
		return fmt.Errorf(
			"unresolved fixup in section %s at offset 0x%x",
			frag.Parent().Name,
			layout.FragmentOffset(frag)+uint64(fixup.Offset))
	}

	// Displacement relative to the end of the displacement bytes.
	value := int64(layout.SymbolOffset(fixup.Target)) + fixup.Addend -
		int64(layout.FragmentOffset(frag)) -
		int64(fixup.Offset) - int64(fixup.Size)

	switch fixup.Size {
	case 1:
		if value < math.MinInt8 || value > math.MaxInt8 {
			return fmt.Errorf(
				"fixup value 0x%x does not fit in a rel8 displacement",
				value)
		}
		contents[fixup.Offset] = byte(int8(value))
	case 4:
		if value < math.MinInt32 || value > math.MaxInt32 {
			return fmt.Errorf(
				"fixup value 0x%x does not fit in a rel32 displacement",
				value)
		}
		binary.LittleEndian.PutUint32(
			contents[fixup.Offset:],
			uint32(int32(value)))
	default:
		panic("unhandled fixup size")
	}

	return nil
}

func encodeRelaxable(
	layout *Layout,
	frag *RelaxableFragment,
) ([]byte, error) {
	if frag.Target == nil || frag.Target.Fragment == nil {
		return nil, fmt.Errorf(
			"branch in section %s has no resolvable target",
			frag.Parent().Name)
	}

	fragOffset := layout.FragmentOffset(frag)
	size := layout.FragmentSize(frag)
	disp := int64(layout.SymbolOffset(frag.Target)) -
		int64(fragOffset) - int64(size)

	if frag.Relaxed() {
		if disp < math.MinInt32 || disp > math.MaxInt32 {
			return nil, fmt.Errorf(
				"branch displacement 0x%x does not fit in rel32",
				disp)
		}
		return frag.Branch.EncodeWide(int32(disp)), nil
	}

	if disp < math.MinInt8 || disp > math.MaxInt8 {
		return nil, fmt.Errorf(
			"unrelaxed branch displacement 0x%x does not fit in rel8",
			disp)
	}
	return frag.Branch.EncodeShort(int8(disp)), nil
}
