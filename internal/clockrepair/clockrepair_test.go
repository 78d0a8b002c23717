package clockrepair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, EraMonotonic, Classify(120))
	assert.Equal(t, EraPreGPS, Classify(TSBoot+120))
	assert.Equal(t, EraValid, Classify(TSEpoch+120))
}

func TestPinnerBracketsOffset(t *testing.T) {
	p := NewPinner()

	// No estimate is possible until there has been a prior run of both
	// clock types to bracket against: the first two runs only seed lo/hi.
	assert.False(t, p.Accept(0, ClockInvalid))
	assert.False(t, p.Accept(50, ClockValid))

	// The invalid clock resumes at 100, exactly bracketing the single
	// valid reading (50) at the midpoint of [0, 100]: offset 0.
	assert.True(t, p.Accept(100, ClockInvalid))
	require.True(t, p.HaveOffset())
	assert.InDelta(t, 0, p.Offset(), 1e-9)
	assert.InDelta(t, 50, p.MaxError(), 1e-9)
}

func TestGPSValidatorDetectsStuckFix(t *testing.T) {
	v := NewGPSValidator()
	v.Thresh = 600

	assert.False(t, v.Accept(1000, false)) // first fix, nothing to compare
	assert.False(t, v.Accept(1000, true))
	assert.False(t, v.Accept(1700, true)) // 700s elapsed by pulse clock

	assert.True(t, v.Accept(1000, false)) // same GPS fix again: stuck
}

func TestGPSValidatorClearsOnNewFix(t *testing.T) {
	v := NewGPSValidator()
	v.Thresh = 600

	v.Accept(1000, false)
	v.Accept(1000, true)
	v.Accept(1700, true)
	require.True(t, v.Accept(1000, false))

	assert.False(t, v.Accept(2000, false), "a new fix value clears stuck")
}

func TestRepairerCorrectsEraByEra(t *testing.T) {
	r := NewRepairer(5)

	corrected, stuck := r.Observe(120, KindPulse)
	assert.False(t, stuck)
	assert.InDelta(t, TSBoot+120, corrected, 1e-6, "monotonic timestamps are always shifted to pre-GPS")

	r.Finalize()
	assert.True(t, r.Correcting())
}
