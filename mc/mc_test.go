package mc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/shrike/mc/x86"
)

func sectionFragments(section *Section) []Fragment {
	result := []Fragment{}
	for frag := section.Head(); frag != nil; frag = frag.Next() {
		result = append(result, frag)
	}
	return result
}

func TestSectionInsertRemove(t *testing.T) {
	section := NewSection(".text")

	first := NewDataFragment([]byte{1})
	second := NewDataFragment([]byte{2})
	third := NewDataFragment([]byte{3})

	section.Append(first)
	section.Append(third)
	section.InsertBefore(second, third)
	assert.Equal(
		t,
		[]Fragment{first, second, third},
		sectionFragments(section))

	section.Remove(second)
	assert.Equal(
		t,
		[]Fragment{first, third},
		sectionFragments(section))

	// A removed fragment can be spliced back in elsewhere.
	section.InsertBefore(second, first)
	assert.Equal(
		t,
		[]Fragment{second, first, third},
		sectionFragments(section))
	assert.Equal(t, section, second.Parent())
}

func TestLayoutOffsets(t *testing.T) {
	section := NewSection(".text")
	first := NewDataFragment(make([]byte, 7))
	align := NewAlignFragment(16, x86.NopByte)
	second := NewDataFragment(make([]byte, 3))
	section.Append(first)
	section.Append(align)
	section.Append(second)

	layout := NewLayout()
	assert.Equal(t, uint64(0), layout.FragmentOffset(first))
	assert.Equal(t, uint64(7), layout.FragmentOffset(align))
	assert.Equal(t, uint64(9), layout.FragmentSize(align))
	assert.Equal(t, uint64(16), layout.FragmentOffset(second))
	assert.Equal(t, uint64(19), layout.SectionSize(section))

	// Neutralized alignment contributes nothing.
	align.SetAlignment(1)
	layout.Invalidate()
	assert.Equal(t, uint64(7), layout.FragmentOffset(second))
	assert.Equal(t, uint64(10), layout.SectionSize(section))
}

func TestRelaxBaselineKeepsNearBranchShort(t *testing.T) {
	section := NewSection(".text")
	landing := NewDataFragment(make([]byte, 4))
	branch := NewRelaxableFragment(
		x86.Jmp,
		section.NewSymbol("target", landing))
	section.Append(branch)
	section.Append(NewDataFragment(make([]byte, 8)))
	section.Append(landing)

	layout := NewLayout()
	Relax(section, layout, BaselinePolicy)
	assert.False(t, branch.Relaxed())
	assert.Equal(t, x86.Jmp.ShortLen(), layout.FragmentSize(branch))
}

func TestRelaxBaselineWidensFarBranch(t *testing.T) {
	section := NewSection(".text")
	landing := NewDataFragment(make([]byte, 4))
	branch := NewRelaxableFragment(
		x86.Jmp,
		section.NewSymbol("target", landing))
	section.Append(branch)
	section.Append(NewDataFragment(make([]byte, 200)))
	section.Append(landing)

	layout := NewLayout()
	Relax(section, layout, BaselinePolicy)
	assert.True(t, branch.Relaxed())
	assert.Equal(t, x86.Jmp.WideLen(), layout.FragmentSize(branch))
}

func TestRelaxForceWideWidensEverything(t *testing.T) {
	section := NewSection(".text")
	landing := NewDataFragment(make([]byte, 4))
	branch := NewRelaxableFragment(
		x86.Jcc(0x4), // je
		section.NewSymbol("target", landing))
	section.Append(branch)
	section.Append(landing)

	layout := NewLayout()
	Relax(section, layout, ForceWidePolicy)
	assert.True(t, branch.Relaxed())
	assert.Equal(t, uint64(6), layout.FragmentSize(branch))
}

func TestWriteSectionResolvesBranches(t *testing.T) {
	section := NewSection(".text")
	landing := NewDataFragment([]byte{0xc3})
	branch := NewRelaxableFragment(
		x86.Jmp,
		section.NewSymbol("target", landing))
	filler := NewDataFragment(make([]byte, 11))
	section.Append(branch)
	section.Append(filler)
	section.Append(landing)

	layout := NewLayout()
	Relax(section, layout, ForceWidePolicy)

	writer := &Writer{}
	err := writer.WriteSection(layout, section, nil)
	require.NoError(t, err)

	// e9 <rel32 11> | 11 bytes | c3
	expected := append([]byte{0xe9, 0x0b, 0x00, 0x00, 0x00}, make([]byte, 11)...)
	expected = append(expected, 0xc3)
	assert.Equal(t, expected, writer.Bytes())
}

func TestWriteSectionAppliesDataFixups(t *testing.T) {
	section := NewSection(".text")
	code := NewDataFragment(make([]byte, 16))
	landing := NewDataFragment([]byte{0xc3})
	section.Append(code)
	section.Append(landing)

	code.AppendJump(section.NewSymbol("target", landing))

	layout := NewLayout()
	writer := &Writer{}
	err := writer.WriteSection(layout, section, nil)
	require.NoError(t, err)

	content := writer.Bytes()
	require.Len(t, content, 22)
	// Jump at offset 16, displacement to offset 21 (the landing pad).
	assert.Equal(t, byte(0xe9), content[16])
	assert.Equal(t, []byte{0, 0, 0, 0}, content[17:21])
	assert.Equal(t, byte(0xc3), content[21])
}

func TestWriteSectionFillAndMatchHook(t *testing.T) {
	section := NewSection(".text")
	section.Append(NewDataFragment([]byte{1, 2}))
	section.Append(NewFillFragment(x86.FillByte, 3))
	section.Append(NewDataFragment([]byte{3}))

	offsets := []uint64{}
	layout := NewLayout()
	writer := &Writer{}
	err := writer.WriteSection(
		layout,
		section,
		func(frag Fragment, sectionOffset uint64, size uint64) {
			offsets = append(offsets, sectionOffset)
		})
	require.NoError(t, err)

	assert.Equal(t, []uint64{0, 2, 5}, offsets)
	assert.Equal(
		t,
		append([]byte{1, 2}, append(bytes.Repeat([]byte{0xcc}, 3), 3)...),
		writer.Bytes())
}

func TestWriterTellReset(t *testing.T) {
	section := NewSection(".text")
	section.Append(NewDataFragment(make([]byte, 5)))

	writer := &Writer{}
	require.NoError(t, writer.WriteSection(NewLayout(), section, nil))
	assert.Equal(t, uint64(5), writer.Tell())

	writer.Reset()
	assert.Equal(t, uint64(0), writer.Tell())
}
