package dbl

import (
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/shrike/config"
	"github.com/pattyshack/shrike/mc"
)

func annotated(size int, spec config.TargetSpec) *mc.DataFragment {
	frag := mc.NewDataFragment(make([]byte, size))
	frag.SetSpec(&spec)
	return frag
}

func TestFormBundles(t *testing.T) {
	section := mc.NewSection(".dbl_text")

	head := annotated(16, config.TargetSpec{
		OffsetInOutput: 0,
		Kind:           config.Ignored{},
	})
	headFiller := mc.NewDataFragment(make([]byte, 8))
	target := annotated(4, config.TargetSpec{
		OffsetInOutput: 24,
		Kind:           config.Fixed{Bit: 1, Sign: true},
	})
	targetFiller := mc.NewDataFragment(make([]byte, 12))

	section.Append(head)
	section.Append(headFiller)
	section.Append(target)
	section.Append(targetFiller)

	emitter := &parseutil.Emitter{}
	bundles := formBundles(section, emitter)
	require.False(t, emitter.HasErrors())
	require.Len(t, bundles, 2)

	// Each bundle starts at its fragment of interest and runs until the
	// next one; trailing fragments are tail filler.
	assert.Equal(t, mc.Fragment(head), bundles[0].Begin)
	assert.Equal(t, mc.Fragment(headFiller), bundles[0].End)
	assert.Equal(t, mc.Fragment(target), bundles[1].Begin)
	assert.Equal(t, mc.Fragment(targetFiller), bundles[1].End)

	layout := mc.NewLayout()
	assert.Equal(t, uint64(24), bundles[0].Size(layout))
	assert.Equal(t, uint64(16), bundles[1].Size(layout))
}

func TestFormBundlesRequiresCoveredSectionStart(t *testing.T) {
	section := mc.NewSection(".dbl_text")
	section.Append(mc.NewDataFragment(make([]byte, 16)))
	section.Append(annotated(4, config.TargetSpec{
		OffsetInOutput: 16,
		Kind:           config.Fixed{Bit: 1, Sign: true},
	}))

	emitter := &parseutil.Emitter{}
	bundles := formBundles(section, emitter)
	assert.Nil(t, bundles)
	assert.True(t, emitter.HasErrors())
}

func TestTranslateDestinations(t *testing.T) {
	section := mc.NewSection(".dbl_text")
	rangeFrag := annotated(8, config.TargetSpec{
		OffsetInOutput: 0,
		Kind: config.Range{
			DestSize:   config.RangeDestSize,
			NormalDest: 8,
			FlipDest:   16,
		},
	})
	normalFrag := annotated(8, config.TargetSpec{
		OffsetInOutput: 8,
		Kind:           config.Destination{},
	})
	flipFrag := annotated(8, config.TargetSpec{
		OffsetInOutput: 16,
		Kind:           config.Destination{},
	})
	section.Append(rangeFrag)
	section.Append(normalFrag)
	section.Append(flipFrag)

	emitter := &parseutil.Emitter{}
	bundles := formBundles(section, emitter)
	require.Len(t, bundles, 3)

	require.True(t, translateDestinations(bundles, emitter))
	assert.Equal(t, 1, bundles[0].NormalDest)
	assert.Equal(t, 2, bundles[0].FlipDest)
}

func TestTranslateDestinationsMissing(t *testing.T) {
	section := mc.NewSection(".dbl_text")
	section.Append(annotated(8, config.TargetSpec{
		OffsetInOutput: 0,
		Kind: config.Range{
			DestSize:   config.RangeDestSize,
			NormalDest: 8,
			FlipDest:   16,
		},
	}))

	emitter := &parseutil.Emitter{}
	bundles := formBundles(section, emitter)
	require.Len(t, bundles, 1)

	assert.False(t, translateDestinations(bundles, emitter))
	assert.True(t, emitter.HasErrors())
}

func TestAddBridgeJumps(t *testing.T) {
	section := mc.NewSection(".dbl_text")
	first := annotated(16, config.TargetSpec{
		OffsetInOutput: 0,
		Kind:           config.Ignored{},
	})
	second := annotated(8, config.TargetSpec{
		OffsetInOutput: 16,
		Kind:           config.Ignored{},
	})
	third := annotated(8, config.TargetSpec{
		OffsetInOutput: 24,
		Kind:           config.Ignored{},
	})
	section.Append(first)
	section.Append(second)
	section.Append(third)

	emitter := &parseutil.Emitter{}
	bundles := formBundles(section, emitter)
	require.Len(t, bundles, 3)

	layout := mc.NewLayout()
	sizeBefore := bundles[2].Size(layout)

	addBridgeJumps(section, bundles)
	layout.Invalidate()

	// Every bundle except the last grows by one 5-byte jump; the last one
	// falls through.
	assert.Equal(t, uint64(16+5), bundles[0].Size(layout))
	assert.Equal(t, uint64(8+5), bundles[1].Size(layout))
	assert.Equal(t, sizeBefore, bundles[2].Size(layout))

	// The jumps resolve to the next bundle's head under the current layout,
	// preserving fall-through semantics.
	require.Len(t, first.Fixups, 1)
	assert.Equal(t, mc.Fragment(second), first.Fixups[0].Target.Fragment)
	require.Len(t, second.Fixups, 1)
	assert.Equal(t, mc.Fragment(third), second.Fixups[0].Target.Fragment)
	assert.Empty(t, third.Fixups)
}
