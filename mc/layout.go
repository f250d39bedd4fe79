package mc

// Lazily computed fragment offsets for one section.  Offsets are cached
// until invalidated; any structural change to the section (relaxation,
// insertion, splicing) must be followed by Invalidate before offsets are
// read again.
type Layout struct {
	offsets      map[Fragment]uint64
	sizes        map[Fragment]uint64
	sectionSizes map[*Section]uint64
}

func NewLayout() *Layout {
	layout := &Layout{}
	layout.Invalidate()
	return layout
}

func (layout *Layout) Invalidate() {
	layout.offsets = map[Fragment]uint64{}
	layout.sizes = map[Fragment]uint64{}
	layout.sectionSizes = map[*Section]uint64{}
}

func (layout *Layout) ensureValid(section *Section) {
	if _, ok := layout.sectionSizes[section]; ok {
		return
	}

	offset := uint64(0)
	for frag := section.Head(); frag != nil; frag = frag.Next() {
		layout.offsets[frag] = offset
		size := frag.SizeAt(offset)
		layout.sizes[frag] = size
		offset += size
	}
	layout.sectionSizes[section] = offset
}

func (layout *Layout) FragmentOffset(frag Fragment) uint64 {
	layout.ensureValid(frag.Parent())
	offset, ok := layout.offsets[frag]
	if !ok {
		panic("fragment not laid out")
	}
	return offset
}

func (layout *Layout) FragmentSize(frag Fragment) uint64 {
	layout.ensureValid(frag.Parent())
	size, ok := layout.sizes[frag]
	if !ok {
		panic("fragment not laid out")
	}
	return size
}

func (layout *Layout) SymbolOffset(symbol *Symbol) uint64 {
	if symbol.Fragment == nil {
		panic("symbol not pinned to a fragment")
	}
	return layout.FragmentOffset(symbol.Fragment) + symbol.Offset
}

func (layout *Layout) SectionSize(section *Section) uint64 {
	layout.ensureValid(section)
	return layout.sectionSizes[section]
}
