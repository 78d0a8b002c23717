// Package clockrepair implements the three-era clock correction filter:
// classifying each incoming timestamp as MONOTONIC, PRE_GPS or VALID,
// bracketing an offset estimate between runs of valid and invalid
// timestamps, and detecting a GPS receiver stuck on a stale fix
// (spec.md §4.7, original_source/Clock_Pinner.cpp, GPS_Validator.hpp,
// Clock_Repair.cpp).
package clockrepair

import "math"

// ClockType distinguishes the two timestamp sources Pinner brackets
// against each other.
type ClockType int

const (
	ClockValid ClockType = iota
	ClockInvalid
)

// Pinner estimates the constant offset between a valid clock and an
// invalid one by bracketing consecutive runs of each, per
// original_source/Clock_Pinner.cpp's accept(). The reference
// implementation's three-valued Timestamp_Type (NONE/VALID/INVALID)
// combined with a "1 - type" index trick only works for a two-valued
// type; Pinner instead tracks the two clock types directly by index.
type Pinner struct {
	runType int // index of the run currently being extended, or -1
	lo, hi  [2]float64
	seen    [2]bool

	haveOffset bool
	estOffset  float64
	maxError   float64
}

// NewPinner returns a Pinner with no estimate yet.
func NewPinner() *Pinner { return &Pinner{runType: -1} }

// Accept records one timestamp of the given type. It returns true iff a
// new (possibly improved) offset estimate became available: this
// happens whenever a run of one type ends and there has already been at
// least one prior run of each type to bracket against.
func (p *Pinner) Accept(ts float64, t ClockType) bool {
	idx := int(t)
	other := 1 - idx

	if p.runType == idx {
		if !p.seen[idx] || ts > p.hi[idx] {
			p.hi[idx] = ts
		}
		if !p.seen[idx] || ts < p.lo[idx] {
			p.lo[idx] = ts
		}
		p.seen[idx] = true
		return false
	}
	p.runType = idx

	if !p.seen[idx] || !p.seen[other] {
		p.lo[idx], p.hi[idx] = ts, ts
		p.seen[idx] = true
		return false
	}

	// Pin the midpoints of [hi[idx], ts] (the gap spanning the run we
	// just finished) and [lo[other], hi[other]] (the bracketed run of
	// the other type).
	estOffset := (p.hi[idx]+ts)/2.0 - (p.lo[other]+p.hi[other])/2.0
	if t == ClockInvalid {
		estOffset = -estOffset // always report VALID - INVALID
	}
	maxError := math.Abs(math.Abs(ts-p.hi[idx])-(p.hi[other]-p.lo[other])) / 2.0

	if !p.haveOffset || maxError < p.maxError {
		p.estOffset = estOffset
		p.maxError = maxError
		p.haveOffset = true
	}

	p.lo[idx], p.hi[idx] = ts, ts
	p.seen[idx] = true
	return true
}

// HaveOffset reports whether an estimate is available.
func (p *Pinner) HaveOffset() bool { return p.haveOffset }

// Offset returns the value that must be added to the invalid clock to
// correct it.
func (p *Pinner) Offset() float64 { return p.estOffset }

// MaxError returns an upper bound on the magnitude of the offset's
// error.
func (p *Pinner) MaxError() float64 { return p.maxError }

// ForceEstimate finalizes a best-effort offset when no further
// bracketing run will arrive to refine one, e.g. at end of input or the
// moment the invalid clock's era ends for good. If an estimate already
// exists it is left untouched; otherwise the offset defaults to zero
// with an unbounded error, so callers comparing MaxError against a
// tolerance treat it as unusable but callers that apply it
// unconditionally (spec.md §4.7's final pass) pass timestamps through
// unmodified.
func (p *Pinner) ForceEstimate() {
	if p.haveOffset {
		return
	}
	p.haveOffset = true
	p.estOffset = 0
	p.maxError = math.Inf(1)
}
