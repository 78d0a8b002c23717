package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/store"
	"github.com/vhftag/tagfinder/internal/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "findtags.db")
	s, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginAndFinishBatchSucceed(t *testing.T) {
	s := openTestStore(t)

	batchID, err := s.BeginBatch(3, 1325376000.0)
	require.NoError(t, err)
	assert.NotZero(t, batchID)

	require.NoError(t, s.FinishBatch(batchID, 1325376100.0, 2))
}

func TestInsertRunAndHitSucceed(t *testing.T) {
	s := openTestStore(t)
	batchID, err := s.BeginBatch(1, 0)
	require.NoError(t, err)

	runID, err := s.InsertRun(batchID, store.Run{
		MotusTagID: tag.ID(1), Antenna: 1, TSBegin: 0, TSEnd: 0.75, Length: 4,
	})
	require.NoError(t, err)
	assert.NotZero(t, runID)

	err = s.InsertHit(runID, store.Hit{TS: 0, Sig: -60, SigSD: 1, Noise: -90, Freq: 0, FreqSD: 0.1, Slop: 0.01, BurstSlop: 0})
	assert.NoError(t, err)
}

func TestInsertTagAmbigRejectsOversizedGroup(t *testing.T) {
	s := openTestStore(t)
	members := make([]tag.ID, store.MaxTagsPerAmbiguityGroup+1)
	for i := range members {
		members[i] = tag.ID(i + 1)
	}
	err := s.InsertTagAmbig(tag.ID(-1), members)
	assert.Error(t, err)
}

func TestIncrementPulseCountRepeatsWithoutConflict(t *testing.T) {
	s := openTestStore(t)
	batchID, err := s.BeginBatch(1, 0)
	require.NoError(t, err)

	require.NoError(t, s.IncrementPulseCount(batchID, 1, 368160))
	require.NoError(t, s.IncrementPulseCount(batchID, 1, 368160))
	require.NoError(t, s.IncrementPulseCount(batchID, 1, 368160))
}

func TestSaveAndLoadBatchStateRoundTrips(t *testing.T) {
	s := openTestStore(t)
	batchID, err := s.BeginBatch(1, 0)
	require.NoError(t, err)

	blob := []byte("resume-snapshot")
	require.NoError(t, s.SaveBatchState(batchID, 1, 1325376000.5, blob))

	loaded, version, cutoff, err := s.LoadBatchState(batchID)
	require.NoError(t, err)
	assert.Equal(t, blob, loaded)
	assert.Equal(t, 1, version)
	assert.Equal(t, 1325376000.5, cutoff)
}
