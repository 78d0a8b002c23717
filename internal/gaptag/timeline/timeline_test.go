package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/gaptag/ambiguity"
	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/gaptag/timeline"
)

func newTarget() *timeline.GraphTarget {
	g := graph.New()
	return &timeline.GraphTarget{
		Graph:   g,
		Manager: ambiguity.NewManager(-1),
		Opt:     graph.AddTagOptions{Tol: 0.002, TimeFuzz: 0},
	}
}

func TestAdvanceAppliesEventsUpToCutoffOnly(t *testing.T) {
	tg := tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	tl := timeline.New([]timeline.Event{
		{TS: 10, Tag: tg, Code: timeline.Activate},
		{TS: 20, Tag: tg, Code: timeline.Deactivate},
	})

	tgt := newTarget()
	targetFor := func(nomFreqKHz int) timeline.Target { return tgt }

	renames, err := tl.Advance(15, targetFor)
	require.NoError(t, err)
	assert.Empty(t, renames, "no ambiguity collision, so no rename pair is produced")
	assert.Equal(t, tg, tgt.Graph.TagByID(tg.MotusID), "activate event registered the tag in the graph")
	ts, pending := tl.NextTS()
	assert.True(t, pending)
	assert.Equal(t, 20.0, ts, "the deactivate event at ts=20 is still pending after cutoff=15")

	renames, err = tl.Advance(20, targetFor)
	require.NoError(t, err)
	assert.Empty(t, renames)
	assert.False(t, tl.Pending())
}

func TestAdvanceCollisionProducesRenamePair(t *testing.T) {
	gaps := [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0}
	t1 := tag.NewReal(1, 166.380, 0, gaps)
	t2 := tag.NewReal(2, 166.380, 0, gaps)

	tl := timeline.New([]timeline.Event{
		{TS: 0, Tag: t1, Code: timeline.Activate},
		{TS: 1, Tag: t2, Code: timeline.Activate},
	})

	tgt := newTarget()
	targetFor := func(nomFreqKHz int) timeline.Target { return tgt }

	_, err := tl.Advance(0, targetFor)
	require.NoError(t, err)

	renames, err := tl.Advance(1, targetFor)
	require.NoError(t, err)
	require.Len(t, renames, 1, "adding an indistinguishable second tag allocates a proxy and renames t1 to it")
	assert.Equal(t, t1, renames[0].OldTag)
	assert.True(t, renames[0].NewTag.MotusID < 0, "the new tag is a proxy with a negative ID")
	assert.Equal(t, tag.NominalFreqKHz(166.380), renames[0].NomFreqKHz)
}

func TestRemainingReturnsUnappliedEventsForSerialization(t *testing.T) {
	tg := tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	tl := timeline.New([]timeline.Event{
		{TS: 5, Tag: tg, Code: timeline.Activate},
		{TS: 10, Tag: tg, Code: timeline.Deactivate},
	})

	tgt := newTarget()
	_, err := tl.Advance(5, func(int) timeline.Target { return tgt })
	require.NoError(t, err)

	remaining := tl.Remaining()
	require.Len(t, remaining, 1)
	assert.Equal(t, 10.0, remaining[0].TS)
	assert.Equal(t, timeline.Deactivate, remaining[0].Code)
}
