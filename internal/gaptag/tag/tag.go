// Package tag defines the registered-tag data model: real tags loaded from
// the tag database plus synthetic proxy tags allocated by the ambiguity
// manager when two or more real tags cannot be told apart.
package tag

import "fmt"

// PulsesPerBurst is the fixed number of pulses (N) in a single burst.
// Spec.md treats this as fixed; it is not user-tunable.
const PulsesPerBurst = 4

// Kind distinguishes a real, database-registered tag from a synthetic
// proxy representing a set of indistinguishable real tags.
type Kind int

const (
	KindReal Kind = iota
	KindProxy
)

// ID is a signed motus tag identifier. Positive IDs are real tags;
// negative IDs are proxies.
type ID int64

// Tag is an immutable descriptor for one registered transmitter.
//
// Gaps holds the N inter-pulse gaps of a single burst, in seconds, in
// transmission order; Period is their sum (the inter-burst interval).
// Count is incremented each time a candidate confirms against this tag;
// the ambiguity manager consults it to decide whether an as-yet-undetected
// proxy may still be mutated in place (spec.md §4.3).
type Tag struct {
	MotusID    ID
	Kind       Kind
	FreqMHz    float64
	DFreqKHz   float32
	NomFreqKHz int
	Gaps       [PulsesPerBurst]float64
	Period     float64
	Count      int64

	// Members holds the set of real tags a proxy stands in for. Empty
	// for real tags.
	Members []*Tag
}

// NewReal constructs a real, active tag from its registered gaps.
func NewReal(motusID ID, freqMHz float64, dfreqKHz float32, gaps [PulsesPerBurst]float64) *Tag {
	t := &Tag{
		MotusID:    motusID,
		Kind:       KindReal,
		FreqMHz:    freqMHz,
		DFreqKHz:   dfreqKHz,
		NomFreqKHz: NominalFreqKHz(freqMHz),
		Gaps:       gaps,
	}
	for _, g := range gaps {
		t.Period += g
	}
	return t
}

// NominalFreqKHz buckets a receiver frequency (MHz) to an integer kHz
// bucket used to key per-frequency gap graphs and finders.
func NominalFreqKHz(freqMHz float64) int {
	return int(freqMHz*1000.0 + 0.5)
}

// IsReal reports whether this is a database-registered tag rather than a
// synthetic ambiguity proxy.
func (t *Tag) IsReal() bool { return t.Kind == KindReal }

// IsProxy reports whether this tag stands in for a set of indistinguishable
// real tags.
func (t *Tag) IsProxy() bool { return t.Kind == KindProxy }

// Detected is invoked each time a candidate is promoted to CONFIRMED
// against this tag (candidate.AddPulse). For proxies, a nonzero Count
// freezes the member set: the ambiguity manager then allocates a new
// proxy instead of editing this one (spec.md §4.3 invariant). No
// tagAmbig row is written on detection.
func (t *Tag) Detected() { t.Count++ }

func (t *Tag) String() string {
	if t.IsProxy() {
		return fmt.Sprintf("proxy(%d)/%d members", t.MotusID, len(t.Members))
	}
	return fmt.Sprintf("tag(%d)", t.MotusID)
}

// Phase is a count of pulses of a tag matched so far within the current
// two-burst recognition window, in 0..2N-1; graphs built with timestamp
// wonkiness also use phases 2N..4N-1 for their clock-jump columns.
type Phase int

// TagPhase pairs a tag with a phase; it is the atomic element of a Set
// (tagset.Set) and a graph edge label target.
type TagPhase struct {
	Tag   *Tag
	Phase Phase
}

func (tp TagPhase) String() string {
	return fmt.Sprintf("%v@%d", tp.Tag, tp.Phase)
}
