package x86

import (
	"encoding/binary"
)

const (
	// INT3, used for inter-bundle padding.
	FillByte = byte(0xcc)

	// 1 byte NOP.
	NopByte = byte(0x90)

	// Width of a wide branch displacement.
	DispSize = 4
)

// A branch with a short (rel8) and a wide (rel32) encoding.  The
// displacement is relative to the end of the instruction.
type Branch struct {
	ShortOpcode []byte
	WideOpcode  []byte
}

var (
	// Unconditional jump: EB rel8 / E9 rel32.
	Jmp = Branch{
		ShortOpcode: []byte{0xeb},
		WideOpcode:  []byte{0xe9},
	}
)

// Conditional jump: 7x rel8 / 0F 8x rel32.
func Jcc(cond byte) Branch {
	return Branch{
		ShortOpcode: []byte{0x70 | (cond & 0x0f)},
		WideOpcode:  []byte{0x0f, 0x80 | (cond & 0x0f)},
	}
}

func (branch Branch) ShortLen() uint64 {
	return uint64(len(branch.ShortOpcode)) + 1
}

func (branch Branch) WideLen() uint64 {
	return uint64(len(branch.WideOpcode)) + DispSize
}

func (branch Branch) EncodeShort(disp int8) []byte {
	return append(
		append([]byte{}, branch.ShortOpcode...),
		byte(disp))
}

func (branch Branch) EncodeWide(disp int32) []byte {
	result := append([]byte{}, branch.WideOpcode...)
	return binary.LittleEndian.AppendUint32(result, uint32(disp))
}

// The 5-byte direct jump inserted at bundle tails, displacement not yet
// resolved.
func JmpRel32Placeholder() []byte {
	return []byte{0xe9, 0x00, 0x00, 0x00, 0x00}
}
