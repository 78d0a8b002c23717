package clockrepair

import "github.com/vhftag/tagfinder/internal/monitoring"

// Era classifies a raw input timestamp by which clock produced it
// (original_source/Clock_Repair.cpp's isMonotonic/isPreGPS/isValid).
type Era int

const (
	// EraMonotonic timestamps are a receiver's seconds-since-boot
	// counter, recorded before it has ever seen a GPS fix in this boot.
	EraMonotonic Era = iota
	// EraPreGPS timestamps have already been shifted onto the Unix
	// epoch (by adding TSBoot) but still predate the first GPS fix,
	// so they carry whatever clock drift accumulated since boot.
	EraPreGPS
	// EraValid timestamps came from a receiver with an acquired GPS fix.
	EraValid
)

// TSBoot and TSEpoch are the calibration constants separating the three
// eras: a raw timestamp below TSBoot looks like a seconds-since-boot
// counter rather than a Unix time, and a Unix time below TSEpoch
// predates this system ever having existed, so it must be an
// uncorrected PRE_GPS clock still carrying its boot-time offset.
// original_source/Clock_Repair.cpp references TS_BEAGLEBONE_BOOT and
// TS_SG_EPOCH without a retrievable definition; these values are this
// port's best-effort restatement (see DESIGN.md).
const (
	TSBoot  = 946684800  // 2000-01-01T00:00:00Z
	TSEpoch = 1325376000 // 2012-01-01T00:00:00Z
)

// Classify buckets a raw timestamp into its era.
func Classify(ts float64) Era {
	switch {
	case ts < TSBoot:
		return EraMonotonic
	case ts < TSEpoch:
		return EraPreGPS
	default:
		return EraValid
	}
}

// RecordKind distinguishes the two record types Repairer needs to treat
// specially; every other record kind is corrected but does not drive
// GPS-stuck detection or offset estimation.
type RecordKind int

const (
	KindOther RecordKind = iota
	KindPulse
	KindGPS
)

// Repairer is the per-batch clock correction filter. It is a pure
// function of the timestamps it is shown: the two-pass buffer/rewind
// discipline described in spec.md §4.7 (run once to establish an
// estimate, then rewind and replay applying it) is the input driver's
// responsibility, not Repairer's; Repairer exposes Correcting/Offset so
// a caller knows when it is safe to stop buffering and start applying
// corrections in a single forward pass.
type Repairer struct {
	pinner *Pinner
	gpsv   *GPSValidator

	tol        float64
	correcting bool
	offset     float64
	offsetErr  float64
}

// NewRepairer returns a Repairer that requires an offset estimate
// accurate to within tol seconds before it starts correcting.
func NewRepairer(tol float64) *Repairer {
	return &Repairer{pinner: NewPinner(), gpsv: NewGPSValidator(), tol: tol}
}

// Observe classifies and corrects ts, returning the corrected timestamp
// and whether the GPS should be considered stuck at this point (callers
// should drop, not just correct, a GPS record while stuck).
//
// Era correction happens unconditionally for every record: MONOTONIC
// timestamps are always shifted to PRE_GPS, and PRE_GPS timestamps are
// shifted by the current best offset estimate once one exists (spec.md
// §4.7, original_source/Clock_Repair.cpp handle()/get()).
func (r *Repairer) Observe(ts float64, kind RecordKind) (corrected float64, gpsStuck bool) {
	if kind == KindPulse || kind == KindGPS {
		wasStuck := r.gpsv.stuck
		r.gpsv.Accept(ts, kind == KindPulse)
		if r.gpsv.stuck && !wasStuck {
			monitoring.Logf("clockrepair: GPS fix stuck on stale value at ts=%f", ts)
		}
	}
	gpsStuck = r.gpsv.stuck
	if gpsStuck && kind == KindGPS {
		return ts, true
	}

	if Classify(ts) == EraMonotonic {
		ts += TSBoot
	}

	valid := Classify(ts) == EraValid
	clockType := ClockInvalid
	if valid {
		clockType = ClockValid
	}
	if r.pinner.Accept(ts, clockType) && r.pinner.MaxError() <= r.tol {
		r.commitEstimate()
	}
	if kind == KindPulse && valid {
		// Once a pulse timestamp is valid there will be no further
		// MONOTONIC or PRE_GPS records this batch; use whatever
		// estimate exists now.
		r.pinner.ForceEstimate()
		r.commitEstimate()
	}

	if Classify(ts) == EraPreGPS {
		ts += r.offset
	}
	return ts, gpsStuck
}

func (r *Repairer) commitEstimate() {
	r.offset = r.pinner.Offset()
	r.offsetErr = r.pinner.MaxError()
	r.correcting = true
}

// Correcting reports whether a usable offset estimate has been
// committed yet.
func (r *Repairer) Correcting() bool { return r.correcting }

// Offset returns the currently committed PRE_GPS correction offset.
func (r *Repairer) Offset() float64 { return r.offset }

// OffsetError returns the currently committed offset's max error.
func (r *Repairer) OffsetError() float64 { return r.offsetErr }

// Finalize forces a best-effort estimate if none has been committed,
// e.g. because the whole batch is short enough that valid and invalid
// runs never bracketed each other. Callers running the two-pass
// discipline call this once at end of batch before replaying.
func (r *Repairer) Finalize() {
	r.pinner.ForceEstimate()
	r.commitEstimate()
}
