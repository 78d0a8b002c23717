// Package finder implements TagFinder: the per-frequency engine that
// advances every live candidate by one pulse, forking and killing
// candidates as their tag ID resolves, and reports completed bursts
// (spec.md §4.5, original_source/Tag_Finder.cpp).
package finder

import (
	"container/list"

	"github.com/vhftag/tagfinder/internal/gaptag/candidate"
	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// Finder owns one gap graph and the tiered candidate lists that track
// pulses on a single nominal frequency.
//
// cands is indexed by candidate.IDLevel: 0 holds CONFIRMED candidates,
// 1 holds SINGLE, 2 holds MULTIPLE. A list is used rather than a slice
// because candidates are removed from arbitrary positions mid-scan
// (kill-on-confirm), which original_source/Tag_Finder.cpp does directly
// against a live std::list.
type Finder struct {
	NomFreqKHz int

	graph *graph.Graph
	cands [3]*list.List

	pulsesToConfirmID int
	freqSlopKHz       float64
	sigSlopDB         float64

	hits map[tag.ID][]float64
}

// New returns a Finder over g, whose tags the caller has already added
// (see graph.AddTag); pulsesToConfirmID, freqSlopKHz and sigSlopDB are
// the tunables candidates are constructed with.
func New(g *graph.Graph, nomFreqKHz int, pulsesToConfirmID int, freqSlopKHz, sigSlopDB float64) *Finder {
	f := &Finder{
		NomFreqKHz:        nomFreqKHz,
		graph:             g,
		pulsesToConfirmID: pulsesToConfirmID,
		freqSlopKHz:       freqSlopKHz,
		sigSlopDB:         sigSlopDB,
		hits:              make(map[tag.ID][]float64),
	}
	for i := range f.cands {
		f.cands[i] = list.New()
	}
	return f
}

// RecordHit implements candidate.Owner, remembering the timestamp of
// every completed burst for tagID. The rate-limit filter that would
// consume this is interface-only per spec.md §1 Non-goals.
func (f *Finder) RecordHit(tagID tag.ID, ts float64) {
	f.hits[tagID] = append(f.hits[tagID], ts)
}

// HitRate implements candidate.Owner. With no rate-limit filter wired
// in, every tag is reported as never having been rate-limited.
func (f *Finder) HitRate(tag.ID) float64 { return -1 }

// TrueGaps implements candidate.Owner, returning tagID's N registered
// gaps with its burst period appended at index N, matching what
// Tag_Candidate::calculate_burst_params indexes as gaps[N].
func (f *Finder) TrueGaps(tagID tag.ID) []float64 {
	t := f.graph.TagByID(tagID)
	if t == nil {
		return nil
	}
	out := make([]float64, 0, tag.PulsesPerBurst+1)
	for _, g := range t.Gaps {
		out = append(out, g)
	}
	return append(out, t.Period)
}

// Counts returns the number of live candidates at each IDLevel, indexed
// the same way as cands: [Confirmed, Single, Multiple].
func (f *Finder) Counts() [3]int {
	return [3]int{f.cands[0].Len(), f.cands[1].Len(), f.cands[2].Len()}
}

// Process advances every live candidate by pulse p, following
// original_source/Tag_Finder.cpp's process(): confirmed candidates get
// first refusal, a confirming pulse kills any competitor sharing the
// burst's pulses or tag ID, an ambiguous (not-yet-confirmable) match
// forks a clone that does not receive p, and if no confirmed candidate
// accepts p a fresh MULTIPLE-level candidate is started at the graph
// root. It returns every burst dumped as a side effect of this pulse.
func (f *Finder) Process(p candidate.Pulse) ([]candidate.BurstTimestamped, error) {
	var bursts []candidate.BurstTimestamped
	cloned := list.New()
	confirmedAcceptance := false

	for tier := 0; tier < 3 && !confirmedAcceptance; tier++ {
		cs := f.cands[tier]

		for e := cs.Front(); e != nil; {
			ci := e.Value.(*candidate.Candidate)

			if ci.IsTooOldGivenPulseTime(p) {
				dead := e
				e = e.Next()
				cs.Remove(dead)
				continue
			}

			newState := ci.AdvanceByPulse(p)
			if newState == nil {
				e = e.Next()
				continue
			}

			if !ci.IsConfirmed() && !ci.NextPulseConfirms(f.pulsesToConfirmID) {
				cloned.PushBack(ci.Clone())
			}

			justConfirmed := ci.AddPulse(p, newState, f.pulsesToConfirmID)
			if justConfirmed {
				f.killCompetitors(ci)
			}

			next := e.Next()
			if lvl := int(ci.IDLevel()); lvl != tier {
				cs.Remove(e)
				f.cands[lvl].PushBack(ci)
			}

			if ci.IsConfirmed() {
				bs, err := ci.DumpBursts()
				if err != nil {
					return bursts, err
				}
				bursts = append(bursts, bs...)
				confirmedAcceptance = true
				break
			}
			e = next
		}

		cs.PushBackList(cloned)
		cloned.Init()
	}

	if !confirmedAcceptance {
		nc := candidate.New(f, f.graph.Root(), p, f.freqSlopKHz, f.sigSlopDB)
		f.cands[2].PushBack(nc)
	}

	return bursts, nil
}

// killCompetitors removes every unconfirmed candidate other than ci
// that shares ci's resolved tag ID or any of the pulses in the burst
// that just confirmed it. Confirmed candidates are never scanned: a
// confirmed candidate sharing a pulse with ci would already have been
// eliminated when it itself confirmed.
func (f *Finder) killCompetitors(ci *candidate.Candidate) {
	for tier := 1; tier < 3; tier++ {
		cs := f.cands[tier]
		for e := cs.Front(); e != nil; {
			next := e.Next()
			other := e.Value.(*candidate.Candidate)
			if other != ci && (other.HasSameIDAs(ci) || other.SharesAnyPulses(ci, f.pulsesToConfirmID)) {
				cs.Remove(e)
			}
			e = next
		}
	}
}

// Reap drops every candidate too old to still be reachable as of now,
// without waiting for a further pulse to trigger the check; used at
// end of batch (foray.Foray.Reap).
func (f *Finder) Reap(now float64) {
	probe := candidate.Pulse{TS: now}
	for tier := 0; tier < 3; tier++ {
		cs := f.cands[tier]
		for e := cs.Front(); e != nil; {
			next := e.Next()
			ci := e.Value.(*candidate.Candidate)
			if ci.IsTooOldGivenPulseTime(probe) {
				cs.Remove(e)
			}
			e = next
		}
	}
}

// Flush dumps every complete burst still buffered in confirmed
// candidates, e.g. at end of batch.
func (f *Finder) Flush() ([]candidate.BurstTimestamped, error) {
	var out []candidate.BurstTimestamped
	for e := f.cands[0].Front(); e != nil; e = e.Next() {
		ci := e.Value.(*candidate.Candidate)
		bs, err := ci.DumpBursts()
		if err != nil {
			return out, err
		}
		out = append(out, bs...)
	}
	return out, nil
}

// RenameTag propagates a tag rename (spec.md §4.3, ambiguity proxy
// allocation/collapse) to every live candidate currently resolved to
// oldTag.
func (f *Finder) RenameTag(oldTag, newTag *tag.Tag) {
	for tier := 0; tier < 3; tier++ {
		for e := f.cands[tier].Front(); e != nil; e = e.Next() {
			e.Value.(*candidate.Candidate).RenameTag(oldTag, newTag)
		}
	}
}
