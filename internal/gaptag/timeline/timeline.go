// Package timeline implements EventTimeline: a sorted sequence of tag
// activation/deactivation events whose cursor is advanced in lockstep
// with the pulse clock, mutating the appropriate per-frequency gap
// graph exactly as far as the current pulse's timestamp allows
// (spec.md §4.6, original_source/Event.hpp).
//
// The cooperative, single-threaded cursor-advance loop is grounded on
// banshee-data-velocity.report's internal/lidar/sweep/runner.go: no
// goroutines, no channels, just a loop that advances a position marker
// forward through an ordered sequence as its caller's clock advances.
package timeline

import (
	"sort"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// Code distinguishes an activation from a deactivation event
// (original_source/Event.hpp's E_ACTIVATE / E_DEACTIVATE).
type Code int

const (
	Deactivate Code = iota
	Activate
)

// Event is a single scheduled change of a tag's membership in the gap
// graph for its nominal frequency.
type Event struct {
	TS   float64
	Tag  *tag.Tag
	Code Code
}

// Target is the per-frequency collaborator pair an event is applied
// against: a gap graph plus the ambiguity manager guarding it. A
// conductor owns one Target per distinct nominal frequency and is
// responsible for notifying every TagFinder keyed to that frequency of
// the (oldTag, newTag) rename pair AddEvent/DelEvent return.
type Target interface {
	AddTag(t *tag.Tag) (oldTag, newTag *tag.Tag, err error)
	DelTag(t *tag.Tag) (oldTag, newTag *tag.Tag, err error)
}

// Rename is the (oldTag, newTag) pair an applied event produced,
// tagged with the nominal frequency whose finders must be notified.
type Rename struct {
	NomFreqKHz int
	OldTag     *tag.Tag
	NewTag     *tag.Tag
}

// Timeline holds a time-ordered event sequence and a cursor into it.
// Events are applied strictly in timestamp order; a pulse at time t
// sees the graph state reflecting every event with TS <= t and no
// others (spec.md invariant 1).
type Timeline struct {
	events []Event
	next   int // index of the first unapplied event
}

// New returns a Timeline holding a defensive, time-sorted copy of
// events. Ties are broken by original input order (sort.SliceStable),
// matching a table scan's natural row order for equal timestamps.
func New(events []Event) *Timeline {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS < sorted[j].TS })
	return &Timeline{events: sorted}
}

// Pending reports whether any event remains unapplied.
func (tl *Timeline) Pending() bool { return tl.next < len(tl.events) }

// NextTS returns the timestamp of the next unapplied event and true,
// or (0, false) if the timeline is exhausted.
func (tl *Timeline) NextTS() (float64, bool) {
	if !tl.Pending() {
		return 0, false
	}
	return tl.events[tl.next].TS, true
}

// Advance pops and applies every event with TS <= cutoff, routing each
// to the Target for its tag's nominal frequency via targetFor. It
// returns one Rename per applied event, in application order, for the
// caller to fan out to the affected frequency's TagFinders.
//
// Advance is the step(pulse_ts) loop of spec.md §4.6: called once
// before routing each pulse, with cutoff set to the pulse's timestamp.
func (tl *Timeline) Advance(cutoff float64, targetFor func(nomFreqKHz int) Target) ([]Rename, error) {
	var renames []Rename
	for tl.Pending() {
		ev := tl.events[tl.next]
		if ev.TS > cutoff {
			break
		}
		tl.next++

		tgt := targetFor(ev.Tag.NomFreqKHz)
		if tgt == nil {
			continue
		}

		var oldTag, newTag *tag.Tag
		var err error
		switch ev.Code {
		case Activate:
			oldTag, newTag, err = tgt.AddTag(ev.Tag)
		case Deactivate:
			oldTag, newTag, err = tgt.DelTag(ev.Tag)
		}
		if err != nil {
			return renames, err
		}
		if oldTag != nil || newTag != nil {
			renames = append(renames, Rename{NomFreqKHz: ev.Tag.NomFreqKHz, OldTag: oldTag, NewTag: newTag})
		}
	}
	return renames, nil
}

// Remaining returns every event not yet applied, for serialization
// into a batchState blob (spec.md §9 "Serialization").
func (tl *Timeline) Remaining() []Event {
	return append([]Event(nil), tl.events[tl.next:]...)
}
