package mc

import (
	"fmt"
)

// A named symbol pinned to an offset within a fragment.  Moving the
// fragment moves the symbol with it.
type Symbol struct {
	Name     string
	Fragment Fragment
	Offset   uint64
}

type Section struct {
	Name string

	head Fragment
	tail Fragment

	beginSymbol *Symbol

	symbols        []*Symbol
	numTempSymbols int
}

func NewSection(name string) *Section {
	section := &Section{
		Name: name,
	}
	section.beginSymbol = &Symbol{
		Name: name + "_begin",
	}
	return section
}

func (section *Section) Head() Fragment {
	return section.head
}

func (section *Section) Tail() Fragment {
	return section.tail
}

// The section's begin symbol.  The linker uses this symbol to compute
// inter-section offsets; after rewriting, it must be re-pinned to the new
// first fragment.
func (section *Section) BeginSymbol() *Symbol {
	return section.beginSymbol
}

func (section *Section) NumFragments() int {
	count := 0
	for frag := section.head; frag != nil; frag = frag.Next() {
		count++
	}
	return count
}

func (section *Section) Append(frag Fragment) {
	section.InsertBefore(frag, nil)
}

// Inserts frag before the given fragment.  A nil before appends to the
// section's tail.
func (section *Section) InsertBefore(frag Fragment, before Fragment) {
	if frag.Parent() != nil {
		panic("fragment already belongs to a section")
	}
	frag.setParent(section)

	if before == nil {
		frag.setPrev(section.tail)
		frag.setNext(nil)
		if section.tail != nil {
			section.tail.setNext(frag)
		} else {
			section.head = frag
		}
		section.tail = frag
		return
	}

	if before.Parent() != section {
		panic("fragment belongs to a different section")
	}

	frag.setPrev(before.Prev())
	frag.setNext(before)
	if before.Prev() != nil {
		before.Prev().setNext(frag)
	} else {
		section.head = frag
	}
	before.setPrev(frag)
}

// Inserts frag immediately after the given fragment.
func (section *Section) InsertAfter(frag Fragment, after Fragment) {
	if after == nil {
		panic("cannot insert after nil fragment")
	}
	section.InsertBefore(frag, after.Next())
}

// Unlinks frag from the section and returns it.  The fragment can be
// reinserted elsewhere.
func (section *Section) Remove(frag Fragment) Fragment {
	if frag.Parent() != section {
		panic("fragment belongs to a different section")
	}

	if frag.Prev() != nil {
		frag.Prev().setNext(frag.Next())
	} else {
		section.head = frag.Next()
	}
	if frag.Next() != nil {
		frag.Next().setPrev(frag.Prev())
	} else {
		section.tail = frag.Prev()
	}

	frag.setParent(nil)
	frag.setPrev(nil)
	frag.setNext(nil)
	return frag
}

// Registered symbols, in creation order.  The begin symbol is not
// included.
func (section *Section) Symbols() []*Symbol {
	return section.symbols
}

func (section *Section) NewSymbol(name string, frag Fragment) *Symbol {
	symbol := &Symbol{
		Name:     name,
		Fragment: frag,
	}
	section.symbols = append(section.symbols, symbol)
	return symbol
}

// A compiler-generated label, used for bridge jump targets.
func (section *Section) NewTempSymbol(frag Fragment) *Symbol {
	symbol := section.NewSymbol(
		fmt.Sprintf(".Ltmp%d", section.numTempSymbols),
		frag)
	section.numTempSymbols++
	return symbol
}
