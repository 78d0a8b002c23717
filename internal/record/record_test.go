package record_test

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhftag/tagfinder/internal/record"
)

func TestParsePulse(t *testing.T) {
	r, err := record.Parse("p3,1234.5,2.5,-60.1,-90.2")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, record.Pulse, r.Kind)
	assert.Equal(t, 3, r.Port)
	assert.Equal(t, 1234.5, r.TS)
	assert.Equal(t, 2.5, r.DFreqKHz)
	assert.Equal(t, -60.1, r.SigDB)
	assert.Equal(t, -90.2, r.NoiseDB)
}

func TestParseGPSWithNaN(t *testing.T) {
	r, err := record.Parse("G,1000.0,nan,NaN,12.3")
	require.NoError(t, err)
	assert.Equal(t, record.GPSFix, r.Kind)
	assert.True(t, math.IsNaN(r.Lat))
	assert.True(t, math.IsNaN(r.Lon))
	assert.Equal(t, 12.3, r.Alt)
}

func TestParseFreqOverride(t *testing.T) {
	r, err := record.Parse("S,500.0,1,-m,166.380,0,")
	require.NoError(t, err)
	assert.Equal(t, record.ParamSet, r.Kind)
	assert.True(t, r.IsFreqOverride())

	r2, err := record.Parse("S,500.0,1,-m,166.380,1,timeout")
	require.NoError(t, err)
	assert.False(t, r2.IsFreqOverride(), "nonzero RC is not an applied override")
}

func TestParseClockSyncAndFileStamp(t *testing.T) {
	r, err := record.Parse("C,100.0,2,0.005")
	require.NoError(t, err)
	assert.Equal(t, record.ClockSync, r.Kind)
	assert.Equal(t, 2, r.Level)

	r2, err := record.Parse("F,1700000000.0")
	require.NoError(t, err)
	assert.Equal(t, record.FileStamp, r2.Kind)
}

func TestParseSkipsBlankAndComment(t *testing.T) {
	r, err := record.Parse("")
	assert.NoError(t, err)
	assert.Nil(t, r)

	r2, err := record.Parse("# a comment")
	assert.NoError(t, err)
	assert.Nil(t, r2)
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := record.Parse("X,1,2,3")
	assert.Error(t, err)
}

func TestReaderDecodesStream(t *testing.T) {
	input := "p1,0.0,0.0,-60,-90\n# comment\n\nG,0.0,45.0,-75.0,10.0\np1,0.2,0.0,-60,-90\n"
	rd := record.NewReader(strings.NewReader(input))

	var kinds []record.Kind
	for {
		rec, err := rd.Next()
		if err != nil {
			break
		}
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []record.Kind{record.Pulse, record.GPSFix, record.Pulse}, kinds)
}
