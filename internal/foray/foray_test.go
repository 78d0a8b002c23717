package foray_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/config"
	"github.com/vhftag/tagfinder/internal/foray"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/record"
	"github.com/vhftag/tagfinder/internal/store"
)

// memSink is a minimal in-memory store.Sink stub for tests that never
// touch sqlite.
type memSink struct {
	runs []store.Run
	hits []store.Hit
}

func (m *memSink) BeginBatch(bootSession int, tsStart float64) (int64, error) { return 1, nil }
func (m *memSink) FinishBatch(batchID int64, tsEnd float64, numHits int) error { return nil }
func (m *memSink) InsertRun(batchID int64, r store.Run) (int64, error) {
	m.runs = append(m.runs, r)
	return int64(len(m.runs)), nil
}
func (m *memSink) InsertHit(runID int64, h store.Hit) error {
	m.hits = append(m.hits, h)
	return nil
}
func (m *memSink) InsertTagAmbig(ambigID tag.ID, members []tag.ID) error { return nil }
func (m *memSink) InsertTimeFix(batchID int64, ts, offset, maxError float64) error { return nil }
func (m *memSink) InsertGPSFix(batchID int64, ts, lat, lon, alt float64) error { return nil }
func (m *memSink) IncrementPulseCount(batchID int64, antenna int, hour int64) error { return nil }
func (m *memSink) InsertBatchProg(batchID int64, ts float64, message string) error { return nil }
func (m *memSink) InsertBatchParam(batchID int64, name, value string) error { return nil }
func (m *memSink) SaveBatchState(batchID int64, version int, cutoff float64, blob []byte) error {
	return nil
}
func (m *memSink) LoadBatchState(batchID int64) ([]byte, int, float64, error) { return nil, 0, 0, nil }

func testTag() *tag.Tag {
	return tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
}

func TestProcessConfirmsBurstAndPersistsHit(t *testing.T) {
	params := config.MustDefaults()
	sink := &memSink{}
	f, err := foray.New(params, nil, sink, []*tag.Tag{testTag()}, nil)
	require.NoError(t, err)

	require.NoError(t, f.BeginBatch(0))

	timestamps := []float64{1325376000.0, 1325376000.2, 1325376000.5, 1325376000.75}
	for _, ts := range timestamps {
		rec := &record.Record{Kind: record.Pulse, TS: ts, Port: 1, DFreqKHz: 0, SigDB: -60, NoiseDB: -90}
		require.NoError(t, f.Process(rec))
	}

	require.Len(t, sink.hits, 1, "the 4th pulse should confirm and persist exactly one hit")
	require.Len(t, sink.runs, 1)
	assert.Equal(t, tag.ID(1), sink.runs[0].MotusTagID, "the persisted run must be attributed to the resolved tag")
}

func TestCheckTagsReportsCollision(t *testing.T) {
	params := config.MustDefaults()
	gaps := [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0}
	t1 := tag.NewReal(1, 166.380, 0, gaps)
	t2 := tag.NewReal(2, 166.380, 0, gaps)

	collisions, err := foray.CheckTags([]*tag.Tag{t1, t2}, params)
	require.NoError(t, err)
	require.Len(t, collisions, 1)
	assert.Equal(t, t1.MotusID, collisions[0].TagA)
	assert.Equal(t, t2.MotusID, collisions[0].TagB)
}

func TestCheckTagsNoCollisionForDistinctGaps(t *testing.T) {
	params := config.MustDefaults()
	t1 := tag.NewReal(1, 166.380, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	t2 := tag.NewReal(2, 166.380, 0, [tag.PulsesPerBurst]float64{0.4, 0.6, 0.5, 7.0})

	collisions, err := foray.CheckTags([]*tag.Tag{t1, t2}, params)
	require.NoError(t, err)
	assert.Empty(t, collisions)
}

func TestProcessAppliesFrequencyOverride(t *testing.T) {
	params := config.MustDefaults()
	sink := &memSink{}
	tg := tag.NewReal(1, 150.000, 0, [tag.PulsesPerBurst]float64{0.2, 0.3, 0.25, 5.0})
	f, err := foray.New(params, nil, sink, []*tag.Tag{tg}, nil)
	require.NoError(t, err)
	require.NoError(t, f.BeginBatch(0))

	override := &record.Record{Kind: record.ParamSet, TS: 1325376000.0, ParamPort: 1, ParamFlag: "-m", ParamValue: 150.000, ParamRC: 0}
	require.NoError(t, f.Process(override))

	// A pulse on port 1 now routes to the 150.000 MHz graph, where the
	// tag actually lives, instead of the receiver's 166.380 default.
	rec := &record.Record{Kind: record.Pulse, TS: 1325376000.0, Port: 1, DFreqKHz: 0, SigDB: -60, NoiseDB: -90}
	require.NoError(t, f.Process(rec))
}

func TestProcessPersistsRunMatchingExpectedFields(t *testing.T) {
	params := config.MustDefaults()
	sink := &memSink{}
	f, err := foray.New(params, nil, sink, []*tag.Tag{testTag()}, nil)
	require.NoError(t, err)
	require.NoError(t, f.BeginBatch(0))

	timestamps := []float64{1325376000.0, 1325376000.2, 1325376000.5, 1325376000.75}
	for _, ts := range timestamps {
		rec := &record.Record{Kind: record.Pulse, TS: ts, Port: 1, DFreqKHz: 0, SigDB: -60, NoiseDB: -90}
		require.NoError(t, f.Process(rec))
	}

	require.Len(t, sink.runs, 1)
	expected := store.Run{
		MotusTagID: tag.ID(1),
		Antenna:    1,
		TSBegin:    1325376000.0,
		TSEnd:      1325376000.0,
		Length:     1,
	}
	if diff := cmp.Diff(expected, sink.runs[0]); diff != "" {
		t.Errorf("persisted run mismatch (-want +got):\n%s", diff)
	}
}
