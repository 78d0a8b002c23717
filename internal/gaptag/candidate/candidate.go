// Package candidate implements TagCandidate: an automaton that walks
// the gap graph pulse by pulse, tracking how well-resolved its tag ID
// is and accumulating the pulses of the burst currently in progress
// (spec.md §4.4).
package candidate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// IDLevel is how well-resolved a candidate's tag ID is. The numeric
// order matters: finder.go uses the level as the index of its tiered
// candidate lists, so lower levels are offered each pulse first.
type IDLevel int

const (
	Confirmed IDLevel = iota
	Single
	Multiple
)

func (l IDLevel) String() string {
	switch l {
	case Confirmed:
		return "CONFIRMED"
	case Single:
		return "SINGLE"
	default:
		return "MULTIPLE"
	}
}

// Pulse is one detected pulse on a single antenna port.
type Pulse struct {
	SeqNo   int64
	TS      float64
	DFreq   float64 // kHz, offset from the port's nominal frequency
	Sig     float64 // dB
	Noise   float64 // dB
	AntFreq float64 // MHz, the port's nominal frequency when this pulse arrived
}

// BoundedRange tracks the [lo, hi] extent of a running value while
// enforcing it never grows wider than Slop, matching Bounded_Range's
// compatibility/extension contract.
type BoundedRange struct {
	Slop     float64
	lo, hi   float64
	hasBound bool
}

// NewBoundedRange starts a range pinned to v in a width-Slop window.
func NewBoundedRange(slop, v float64) BoundedRange {
	return BoundedRange{Slop: slop, lo: v, hi: v, hasBound: true}
}

// IsCompatible reports whether extending the range to include v would
// keep its width within Slop. A negative Slop disables the check
// (spec.md §6: "sigSlop dB (negative ⇒ disabled)").
func (r BoundedRange) IsCompatible(v float64) bool {
	if r.Slop < 0 {
		return true
	}
	if !r.hasBound {
		return true
	}
	lo, hi := r.lo, r.hi
	if v < lo {
		lo = v
	}
	if v > hi {
		hi = v
	}
	return hi-lo <= r.Slop
}

// ExtendBy widens the range to include v; callers must have already
// checked IsCompatible.
func (r *BoundedRange) ExtendBy(v float64) {
	if !r.hasBound {
		r.lo, r.hi, r.hasBound = v, v, true
		return
	}
	if v < r.lo {
		r.lo = v
	}
	if v > r.hi {
		r.hi = v
	}
}

// ClearBounds resets the range to unbounded, re-pinned on the next
// ExtendBy call; used between bursts for the signal-strength range,
// whose plausible width resets each burst (antenna orientation and
// range vary burst to burst).
func (r *BoundedRange) ClearBounds() { r.hasBound = false }

// Width returns the current extent of the range, or 0 if empty.
func (r BoundedRange) Width() float64 {
	if !r.hasBound {
		return 0
	}
	return r.hi - r.lo
}

// Owner is the subset of finder.Finder a Candidate needs to record
// burst-completion hit timestamps against. The rate-limit filter itself
// is interface-only per spec.md §1 Non-goals; HitRate need not return a
// meaningful value for callers that don't implement the filter.
type Owner interface {
	RecordHit(tagID tag.ID, ts float64)
	HitRate(tagID tag.ID) float64
	TrueGaps(tagID tag.ID) []float64
}

// BurstParams are the derived statistics for one completed burst
// (spec.md §4.4, original_source/Tag_Candidate.cpp calculate_burst_params).
type BurstParams struct {
	Sig       float64 // mean signal strength, dB (linear-power mean)
	SigSD     float64 // relative stdev of signal strength, % of mean
	Noise     float64 // mean noise strength, dB
	Freq      float64 // mean offset frequency, kHz
	FreqSD    float64 // stdev of offset frequency, kHz
	Slop      float64 // total |observed gap - registered gap|, s
	BurstSlop float64 // gap from the previous dumped burst vs. the tag's period, s
	NumPred   int     // count of consecutive bursts emitted by this candidate so far
}

// BogusBurstSlop is reported for the first burst of a run, where there
// is no previous burst to measure against.
const BogusBurstSlop = 0.0

var bogusTimestamp = math.Inf(-1)

// Candidate walks the DFA graph pulse by pulse.
type Candidate struct {
	owner Owner

	State        *graph.Node
	pulses       []Pulse
	lastTS       float64
	lastDumpedTS float64

	tagVal  *tag.Tag
	idLevel IDLevel

	RunID    string
	HitCount uint

	freqRange BoundedRange
	sigRange  BoundedRange

	inARow    int
	uniqueID  uint64
	trueGaps  []float64
}

var candidateSeq uint64

// New starts a candidate from the graph's root, advanced by one pulse.
func New(owner Owner, state *graph.Node, p Pulse, freqSlopKHz, sigSlopDB float64) *Candidate {
	candidateSeq++
	return &Candidate{
		owner:     owner,
		State:     state,
		pulses:    []Pulse{p},
		lastTS:    p.TS,
		lastDumpedTS: bogusTimestamp,
		idLevel:   Multiple,
		freqRange: NewBoundedRange(freqSlopKHz, p.DFreq),
		sigRange:  NewBoundedRange(sigSlopDB, p.Sig),
		uniqueID:  candidateSeq,
	}
}

// Tag returns the candidate's current tag, or nil while at MULTIPLE.
func (c *Candidate) Tag() *tag.Tag { return c.tagVal }

// IDLevel returns how well-resolved the candidate's tag ID currently is.
func (c *Candidate) IDLevel() IDLevel { return c.idLevel }

// IsConfirmed reports whether the candidate has reached CONFIRMED.
func (c *Candidate) IsConfirmed() bool { return c.idLevel == Confirmed }

// HasSameIDAs reports whether both candidates have resolved to the same
// tag; two MULTIPLE candidates never compare equal.
func (c *Candidate) HasSameIDAs(o *Candidate) bool {
	return c.tagVal != nil && c.tagVal == o.tagVal
}

// SharesAnyPulses reports whether this candidate has accepted any pulse
// that belongs to the burst o has just confirmed.
func (c *Candidate) SharesAnyPulses(o *Candidate, pulsesToConfirmID int) bool {
	n := pulsesToConfirmID
	if n > len(o.pulses) {
		n = len(o.pulses)
	}
	have := make(map[int64]struct{}, len(c.pulses))
	for _, p := range c.pulses {
		have[p.SeqNo] = struct{}{}
	}
	for i := 0; i < n; i++ {
		if _, ok := have[o.pulses[i].SeqNo]; ok {
			return true
		}
	}
	return false
}

// IsTooOldGivenPulseTime reports whether p arrives too long after the
// candidate's last accepted pulse to still be reachable in the graph.
func (c *Candidate) IsTooOldGivenPulseTime(p Pulse) bool {
	return p.TS-c.lastTS > c.State.GetMaxAge()
}

// AdvanceByPulse checks p against the candidate's frequency/signal
// ranges and, if compatible, walks the DFA by the elapsed gap. It
// returns nil if p is incompatible or no edge exists for that gap.
func (c *Candidate) AdvanceByPulse(p Pulse) *graph.Node {
	if !c.freqRange.IsCompatible(p.DFreq) || !c.sigRange.IsCompatible(p.Sig) {
		return nil
	}
	gap := p.TS - c.lastTS
	return c.State.Advance(gap)
}

// AddPulse accepts p, having already advanced to newState via
// AdvanceByPulse. It returns true when this pulse promotes the candidate
// from SINGLE to CONFIRMED (whatever the buffered pulse count), or when
// an already-CONFIRMED candidate now holds at least one complete,
// as-yet-undumped burst.
func (c *Candidate) AddPulse(p Pulse, newState *graph.Node, pulsesToConfirmID int) bool {
	c.pulses = append(c.pulses, p)
	c.lastTS = p.TS
	c.freqRange.ExtendBy(p.DFreq)

	pulseCompletesBurst := phaseCompletesBurst(newState)
	if pulseCompletesBurst {
		c.sigRange.ClearBounds()
	} else {
		c.sigRange.ExtendBy(p.Sig)
	}
	c.State = newState

	rv := false
	switch c.idLevel {
	case Multiple:
		if tp, ok := newState.Set().Unique(); ok {
			c.tagVal = tp.Tag
			c.idLevel = Single
		}
	case Single:
		if len(c.pulses) >= pulsesToConfirmID {
			c.idLevel = Confirmed
			c.tagVal.Detected()
			rv = true
		}
	case Confirmed:
		if len(c.pulses) >= tag.PulsesPerBurst {
			rv = true
		}
	}

	if pulseCompletesBurst && c.tagVal != nil && c.owner != nil {
		c.owner.RecordHit(c.tagVal.MotusID, p.TS)
	}
	return rv
}

// phaseCompletesBurst reports whether newState's (presumed unique)
// phase is the last pulse position of a burst.
func phaseCompletesBurst(n *graph.Node) bool {
	tp, ok := n.Set().Unique()
	if !ok {
		return false
	}
	return int(tp.Phase)%tag.PulsesPerBurst == tag.PulsesPerBurst-1
}

// NextPulseConfirms reports whether a single further compatible pulse
// would promote this candidate to CONFIRMED, the test Tag_Finder uses
// to decide whether forking an ambiguity clone before adding a pulse is
// still worthwhile (original_source/Tag_Finder.cpp process()). Only a
// SINGLE-level candidate can reach CONFIRMED in one pulse.
func (c *Candidate) NextPulseConfirms(pulsesToConfirmID int) bool {
	return c.idLevel == Single && len(c.pulses)+1 >= pulsesToConfirmID
}

// Clone returns an independent copy of c, used when a pulse is
// ambiguous between this candidate and another DFA path and both must
// be pursued (original_source/Tag_Finder.cpp process(), the
// "new_cand = new Tag_Candidate(*ci)" branch).
func (c *Candidate) Clone() *Candidate {
	candidateSeq++
	clone := *c
	clone.pulses = append([]Pulse(nil), c.pulses...)
	clone.trueGaps = append([]float64(nil), c.trueGaps...)
	clone.uniqueID = candidateSeq
	return &clone
}

// HasBurst reports whether enough pulses have accumulated for a burst.
func (c *Candidate) HasBurst() bool { return len(c.pulses) >= tag.PulsesPerBurst }

// ClearPulses drops the oldest burst's worth of pulses, presumably after
// dumping it.
func (c *Candidate) ClearPulses() {
	if len(c.pulses) < tag.PulsesPerBurst {
		c.pulses = nil
		return
	}
	c.pulses = append([]Pulse(nil), c.pulses[tag.PulsesPerBurst:]...)
}

// RenameTag updates the candidate to point at newTag wherever it
// currently points at oldTag, used when the ambiguity manager renames a
// tag in the graph out from under a live candidate.
func (c *Candidate) RenameTag(oldTag, newTag *tag.Tag) {
	if c.tagVal == oldTag {
		c.tagVal = newTag
	}
}

// CalculateBurstParams computes the derived statistics for the oldest
// complete burst in the pulse buffer, or reports ok=false if fewer than
// PulsesPerBurst pulses are buffered.
func (c *Candidate) CalculateBurstParams() (BurstParams, bool) {
	n := tag.PulsesPerBurst
	if len(c.pulses) < n {
		return BurstParams{}, false
	}
	if c.trueGaps == nil && c.owner != nil && c.tagVal != nil {
		c.trueGaps = c.owner.TrueGaps(c.tagVal.MotusID)
	}

	burst := c.pulses[:n]

	var bp BurstParams
	if c.lastDumpedTS != bogusTimestamp && len(c.trueGaps) > n {
		g := burst[0].TS - c.lastDumpedTS
		bp.BurstSlop = math.Mod(g, c.trueGaps[n]) - c.trueGaps[n-1]
	} else {
		bp.BurstSlop = BogusBurstSlop
	}

	sigLinear := make([]float64, n)
	noiseLinear := make([]float64, n)
	dfreqs := make([]float64, n)
	var slop, prevTS float64
	for i, p := range burst {
		sigLinear[i] = math.Pow(10, p.Sig/10)
		noiseLinear[i] = math.Pow(10, p.Noise/10)
		dfreqs[i] = p.DFreq
		if i > 0 && len(c.trueGaps) >= i {
			slop += math.Abs((p.TS - prevTS) - c.trueGaps[i-1])
		}
		prevTS = p.TS
	}
	c.lastDumpedTS = prevTS

	sigMean := stat.Mean(sigLinear, nil)
	bp.Sig = 10 * math.Log10(sigMean)
	bp.Noise = 10 * math.Log10(stat.Mean(noiseLinear, nil))
	if sigMean > 0 {
		bp.SigSD = stat.StdDev(sigLinear, nil) / sigMean * 100
	}
	bp.Freq = stat.Mean(dfreqs, nil)
	bp.FreqSD = stat.StdDev(dfreqs, nil)
	bp.Slop = slop
	c.inARow++
	bp.NumPred = c.inARow

	return bp, true
}

// DumpBursts emits every complete burst currently buffered, draining the
// pulse buffer as it goes, returning one BurstParams plus the burst's
// first-pulse timestamp and resolved tag per emitted burst.
func (c *Candidate) DumpBursts() ([]BurstTimestamped, error) {
	var out []BurstTimestamped
	for c.HasBurst() {
		bp, ok := c.CalculateBurstParams()
		if !ok {
			return out, fmt.Errorf("candidate: CalculateBurstParams: insufficient pulses")
		}
		out = append(out, BurstTimestamped{Params: bp, TS: c.pulses[0].TS, AntFreqMHz: c.pulses[0].AntFreq, Tag: c.tagVal})
		c.ClearPulses()
	}
	return out, nil
}

// BurstTimestamped pairs BurstParams with the burst's leading timestamp,
// antenna frequency, and resolved tag, the fields dump_bursts prints
// alongside them.
type BurstTimestamped struct {
	Params     BurstParams
	TS         float64
	AntFreqMHz float64
	Tag        *tag.Tag
}
