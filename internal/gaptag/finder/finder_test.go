package finder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/gaptag/candidate"
	"github.com/vhftag/tagfinder/internal/gaptag/finder"
	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

func testPulse(seq int64, ts float64) candidate.Pulse {
	return candidate.Pulse{SeqNo: seq, TS: ts, DFreq: 0, Sig: -60, Noise: -90, AntFreq: 166.380}
}

func TestProcessConfirmsAndDumpsFirstBurst(t *testing.T) {
	g := graph.New()
	tg := tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})

	opt := graph.AddTagOptions{Tol: 0.002, TimeFuzz: 0, MaxTime: graph.MaxTime(tg, 60)}
	g.AddTag(tg, opt)

	f := finder.New(g, tag.NominalFreqKHz(166.380), 4, 2.0, 10.0)

	timestamps := []float64{0, 0.2, 0.5, 0.75}
	var bursts []candidate.BurstTimestamped
	for i, ts := range timestamps {
		bs, err := f.Process(testPulse(int64(i+1), ts))
		require.NoError(t, err)
		bursts = append(bursts, bs...)
	}

	require.Len(t, bursts, 1, "the 4th pulse should confirm and dump exactly one burst")
	assert.Equal(t, 0.0, bursts[0].TS)

	counts := f.Counts()
	assert.Equal(t, 1, counts[0], "one confirmed candidate remains")
	assert.Equal(t, 0, counts[1])
	assert.Equal(t, 0, counts[2])
}

func TestProcessStartsNewCandidateWhenNoPulseMatches(t *testing.T) {
	g := graph.New()
	tg := tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	opt := graph.AddTagOptions{Tol: 0.002, TimeFuzz: 0, MaxTime: graph.MaxTime(tg, 60)}
	g.AddTag(tg, opt)

	f := finder.New(g, tag.NominalFreqKHz(166.380), 4, 2.0, 10.0)

	bursts, err := f.Process(testPulse(1, 0))
	require.NoError(t, err)
	assert.Empty(t, bursts)

	counts := f.Counts()
	assert.Equal(t, 0, counts[0])
	assert.Equal(t, 0, counts[1])
	assert.Equal(t, 1, counts[2], "a fresh MULTIPLE candidate is started at the root")
}

func TestReapDropsStaleCandidates(t *testing.T) {
	g := graph.New()
	tg := tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	opt := graph.AddTagOptions{Tol: 0.002, TimeFuzz: 0, MaxTime: graph.MaxTime(tg, 60)}
	g.AddTag(tg, opt)

	f := finder.New(g, tag.NominalFreqKHz(166.380), 4, 2.0, 10.0)
	_, err := f.Process(testPulse(1, 0))
	require.NoError(t, err)
	require.Equal(t, 1, f.Counts()[2])

	f.Reap(1e9)
	assert.Equal(t, [3]int{0, 0, 0}, f.Counts())
}
