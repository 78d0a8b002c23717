package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, 166.380, p.GetDefaultFreqMHz())
	assert.False(t, p.GetForceDefaultFreq())
	assert.Equal(t, 0.0015, p.GetPulseSlopSeconds())
	assert.Equal(t, 0.010, p.GetBurstSlopSeconds())
	assert.Equal(t, 0.001, p.GetBurstSlopExpansionSeconds())
	assert.Equal(t, 2.0, p.GetFreqSlopKHz())
	assert.Equal(t, 10.0, p.GetSigSlopDB())
	assert.Equal(t, 4, p.GetPulsesToConfirmID())
	assert.Equal(t, 60, p.GetMaxSkippedBursts())
	assert.Equal(t, 0, p.GetTimestampWonkiness())
	assert.False(t, p.GetUseEvents())
	assert.Equal(t, 0, p.GetBootNum())
	assert.False(t, p.GetResume())

	require.NoError(t, p.Validate())
}

func TestEmptyFallsBackToGetterDefaults(t *testing.T) {
	p := Empty()

	assert.Nil(t, p.PulsesToConfirmID)
	assert.Equal(t, 4, p.GetPulsesToConfirmID())
	assert.Equal(t, 0.0015, p.GetPulseSlopSeconds())
}

func TestLoadParametersPartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.json")
	override := map[string]any{"freq_slop": 5.0, "pulses_to_confirm_id": 6}
	data, err := json.Marshal(override)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p, err := LoadParameters(path, dir)
	require.NoError(t, err)

	assert.Equal(t, 5.0, p.GetFreqSlopKHz())
	assert.Equal(t, 6, p.GetPulsesToConfirmID())
	// Everything else still comes from the embedded defaults.
	assert.Equal(t, 10.0, p.GetSigSlopDB())
}

func TestLoadParametersRejectsNonJSONExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.txt")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := LoadParameters(path, dir)
	assert.Error(t, err)
}

func TestLoadParametersRejectsPathOutsideAllowedDir(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "override.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := LoadParameters(path, dir)
	assert.Error(t, err)
}

func TestLoadParametersRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.json")
	big := make([]byte, 2*1024*1024)
	for i := range big {
		big[i] = ' '
	}
	big[0] = '{'
	big[len(big)-1] = '}'
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := LoadParameters(path, dir)
	assert.Error(t, err)
}

func TestValidateCatchesCrossFieldErrors(t *testing.T) {
	cases := []struct {
		name string
		p    *Parameters
	}{
		{"min exceeds max", &Parameters{MinDFreqKHz: ptr(50.0), MaxDFreqKHz: ptr(10.0)}},
		{"zero confirm pulses", &Parameters{PulsesToConfirmID: ptr(0)}},
		{"negative max skipped bursts", &Parameters{MaxSkippedBursts: ptr(-1)}},
		{"bad wonkiness", &Parameters{TimestampWonkiness: ptr(2)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.p.Validate())
		})
	}
}

func ptr[T any](v T) *T { return &v }
