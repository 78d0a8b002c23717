package clockrepair

// GPSValidator detects a GPS receiver stuck reporting the same fix: if
// two consecutive GPS timestamps are identical but the pulse clock
// (which free-runs regardless of GPS lock) shows at least Thresh
// elapsed, the GPS is considered stuck (original_source/GPS_Validator.hpp).
type GPSValidator struct {
	Thresh float64 // seconds; defaults to 10 minutes

	lastGPSTS      float64
	haveLastGPSTS  bool
	pulseLo, pulseHi float64
	havePulseRun   bool
	stuck          bool
}

// DefaultGPSStuckThreshold is GPS_Validator's documented default.
const DefaultGPSStuckThreshold = 10 * 60

// NewGPSValidator returns a validator using DefaultGPSStuckThreshold.
func NewGPSValidator() *GPSValidator {
	return &GPSValidator{Thresh: DefaultGPSStuckThreshold}
}

// Accept records one timestamp from either the pulse or GPS clock and
// returns the current stuck assessment.
func (v *GPSValidator) Accept(ts float64, isPulse bool) bool {
	if isPulse {
		if !v.havePulseRun {
			v.pulseLo, v.pulseHi = ts, ts
			v.havePulseRun = true
		} else {
			if ts < v.pulseLo {
				v.pulseLo = ts
			}
			if ts > v.pulseHi {
				v.pulseHi = ts
			}
		}
		return v.stuck
	}

	if v.haveLastGPSTS && ts == v.lastGPSTS && v.havePulseRun && v.pulseHi-v.pulseLo >= v.Thresh {
		v.stuck = true
	} else {
		v.stuck = false
		v.havePulseRun = false
	}
	v.lastGPSTS = ts
	v.haveLastGPSTS = true
	return v.stuck
}
