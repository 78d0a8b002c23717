// Package foray implements Foray, the single-threaded conductor that
// owns every per-frequency gap graph and per-(port,frequency) tag
// finder, routes incoming records, and drives the event timeline and
// clock-repair filter in front of them (spec.md §2 "Control flow",
// original_source/Tag_Foray.cpp, grounded in wiring style on the
// teacher's internal/lidar/pipeline/tracking_pipeline.go stage
// orchestration and cmd/radar/radar.go's top-level assembly).
package foray

import (
	"fmt"
	"log"
	"math"

	"github.com/vhftag/tagfinder/internal/clockrepair"
	"github.com/vhftag/tagfinder/internal/config"
	"github.com/vhftag/tagfinder/internal/gaptag/ambiguity"
	"github.com/vhftag/tagfinder/internal/gaptag/candidate"
	"github.com/vhftag/tagfinder/internal/gaptag/finder"
	"github.com/vhftag/tagfinder/internal/gaptag/graph"
	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/gaptag/timeline"
	"github.com/vhftag/tagfinder/internal/record"
	"github.com/vhftag/tagfinder/internal/store"
)

// finderKey identifies one TagFinder: a receiver antenna port tracking
// pulses against one nominal frequency's gap graph (spec.md §2
// "TagFinder keyed by (port, current-frequency)").
type finderKey struct {
	port       int
	nomFreqKHz int
}

// freqState bundles the three collaborators that exist once per
// distinct nominal frequency: the gap graph, the ambiguity manager
// guarding it, and the tolerance options new tags are added with
// (MaxTime is recomputed per tag from skipped via graph.MaxTime).
type freqState struct {
	graph   *graph.Graph
	manager *ambiguity.Manager
	opt     graph.AddTagOptions
	skipped int // maxSkippedBursts
}

func (fs *freqState) AddTag(t *tag.Tag) (oldTag, newTag *tag.Tag, err error) {
	opt := fs.opt
	opt.MaxTime = graph.MaxTime(t, fs.skipped)
	return ambiguity.AddTag(fs.graph, fs.manager, t, opt)
}

func (fs *freqState) DelTag(t *tag.Tag) (oldTag, newTag *tag.Tag, err error) {
	return ambiguity.DelTag(fs.graph, fs.manager, t)
}

// Foray is the conductor: it owns every freqState and finder.Finder
// this batch needs, plus the event timeline and clock-repair filter
// feeding them.
type Foray struct {
	params *config.Parameters
	logger *log.Logger
	sink   store.Sink

	freqs   map[int]*freqState
	finders map[finderKey]*finder.Finder

	portFreqKHz     map[int]int // current nominal frequency per port
	defaultFreqKHz  int

	timeline *timeline.Timeline
	repair   *clockrepair.Repairer

	batchID  int64
	numHits  int
	pulseSeq int64
}

// New constructs a Foray with every tag in tags already added to its
// nominal frequency's graph, ready to process a batch's records.
func New(params *config.Parameters, logger *log.Logger, sink store.Sink, tags []*tag.Tag, events []timeline.Event) (*Foray, error) {
	if logger == nil {
		logger = log.Default()
	}
	f := &Foray{
		params:         params,
		logger:         logger,
		sink:           sink,
		freqs:          make(map[int]*freqState),
		finders:        make(map[finderKey]*finder.Finder),
		portFreqKHz:    make(map[int]int),
		defaultFreqKHz: tag.NominalFreqKHz(params.GetDefaultFreqMHz()),
		timeline:       timeline.New(events),
		repair:         clockrepair.NewRepairer(1.0),
	}
	for _, t := range tags {
		if err := f.addTag(t); err != nil {
			return nil, fmt.Errorf("foray: add tag %d: %w", t.MotusID, err)
		}
	}
	return f, nil
}

func (f *Foray) addTagOptions() graph.AddTagOptions {
	return graph.AddTagOptions{
		Tol:                f.params.GetPulseSlopSeconds(),
		TimeFuzz:           f.params.GetBurstSlopSeconds() / 4.0,
		TimestampWonkiness: f.params.GetTimestampWonkiness(),
	}
}

func (f *Foray) freqStateFor(nomFreqKHz int) *freqState {
	fs, ok := f.freqs[nomFreqKHz]
	if !ok {
		fs = &freqState{
			graph:   graph.New(),
			manager: ambiguity.NewManager(-1),
			opt:     f.addTagOptions(),
			skipped: f.params.GetMaxSkippedBursts(),
		}
		f.freqs[nomFreqKHz] = fs
	}
	return fs
}

func (f *Foray) addTag(t *tag.Tag) error {
	fs := f.freqStateFor(t.NomFreqKHz)
	opt := fs.opt
	opt.MaxTime = graph.MaxTime(t, f.params.GetMaxSkippedBursts())
	fs.opt = opt
	_, _, err := ambiguity.AddTag(fs.graph, fs.manager, t, opt)
	return err
}

func (f *Foray) finderFor(port, nomFreqKHz int) *finder.Finder {
	key := finderKey{port: port, nomFreqKHz: nomFreqKHz}
	fd, ok := f.finders[key]
	if !ok {
		fs := f.freqStateFor(nomFreqKHz)
		fd = finder.New(fs.graph, nomFreqKHz, f.params.GetPulsesToConfirmID(), f.params.GetFreqSlopKHz(), f.params.GetSigSlopDB())
		f.finders[key] = fd
	}
	return fd
}

// BeginBatch opens a new output batch row.
func (f *Foray) BeginBatch(tsStart float64) error {
	id, err := f.sink.BeginBatch(f.params.GetBootNum(), tsStart)
	if err != nil {
		return fmt.Errorf("foray: begin batch: %w", err)
	}
	f.batchID = id
	return nil
}

// FinishBatch closes out the current batch row.
func (f *Foray) FinishBatch(tsEnd float64) error {
	return f.sink.FinishBatch(f.batchID, tsEnd, f.numHits)
}

// Process applies clock repair to rec, advances the event timeline up
// to its corrected timestamp, and routes it (spec.md §2 "Control
// flow"). Bursts dumped as a side effect are persisted to the sink
// before it returns; only an error is returned to the caller.
func (f *Foray) Process(rec *record.Record) error {
	kind := clockrepair.KindOther
	switch rec.Kind {
	case record.Pulse:
		kind = clockrepair.KindPulse
	case record.GPSFix:
		kind = clockrepair.KindGPS
	}
	ts, gpsStuck := f.repair.Observe(rec.TS, kind)

	switch rec.Kind {
	case record.Pulse:
		return f.processPulse(rec, ts)
	case record.GPSFix:
		if gpsStuck {
			f.logger.Printf("foray: dropping GPS fix at ts=%f: receiver stuck on stale fix", ts)
			return nil
		}
		return f.sink.InsertGPSFix(f.batchID, ts, rec.Lat, rec.Lon, rec.Alt)
	case record.ParamSet:
		if rec.IsFreqOverride() && !f.params.GetForceDefaultFreq() {
			f.portFreqKHz[rec.ParamPort] = tag.NominalFreqKHz(rec.ParamValue)
		}
		return nil
	case record.ClockSync, record.FileStamp:
		return nil
	default:
		return fmt.Errorf("foray: unhandled record kind %v", rec.Kind)
	}
}

func (f *Foray) processPulse(rec *record.Record, ts float64) error {
	renames, err := f.timeline.Advance(ts, func(nomFreqKHz int) timeline.Target { return f.freqStateFor(nomFreqKHz) })
	if err != nil {
		return fmt.Errorf("foray: advance timeline: %w", err)
	}
	for _, ren := range renames {
		for key, fd := range f.finders {
			if key.nomFreqKHz == ren.NomFreqKHz {
				fd.RenameTag(ren.OldTag, ren.NewTag)
			}
		}
	}

	nomFreqKHz, ok := f.portFreqKHz[rec.Port]
	if !ok || f.params.GetForceDefaultFreq() {
		nomFreqKHz = f.defaultFreqKHz
	}

	if rec.DFreqKHz < f.params.GetMinDFreqKHz() || rec.DFreqKHz > f.params.GetMaxDFreqKHz() {
		f.logger.Printf("foray: dropping pulse at ts=%f: dfreq %f kHz out of range", ts, rec.DFreqKHz)
		return nil
	}

	if err := f.sink.IncrementPulseCount(f.batchID, rec.Port, RoundHour(ts)); err != nil {
		return fmt.Errorf("foray: increment pulse count: %w", err)
	}

	f.pulseSeq++
	fd := f.finderFor(rec.Port, nomFreqKHz)
	bursts, err := fd.Process(candidate.Pulse{
		SeqNo: f.pulseSeq, TS: ts, DFreq: rec.DFreqKHz, Sig: rec.SigDB, Noise: rec.NoiseDB,
		AntFreq: float64(nomFreqKHz) / 1000.0,
	})
	if err != nil {
		return fmt.Errorf("foray: process pulse: %w", err)
	}
	return f.persistBursts(rec.Port, bursts)
}

func (f *Foray) persistBursts(port int, bursts []candidate.BurstTimestamped) error {
	for _, b := range bursts {
		// A real run-building stage would group consecutive bursts from
		// the same candidate into one runs row; each burst is persisted
		// as a single-burst run here since Finder does not yet expose
		// candidate identity alongside the dumped burst.
		runID, err := f.sink.InsertRun(f.batchID, store.Run{
			MotusTagID: b.Tag.MotusID, Antenna: port, TSBegin: b.TS, TSEnd: b.TS, Length: 1,
		})
		if err != nil {
			return fmt.Errorf("foray: insert run: %w", err)
		}
		if err := f.sink.InsertHit(runID, store.Hit{
			TS: b.TS, Sig: b.Params.Sig, SigSD: b.Params.SigSD, Noise: b.Params.Noise,
			Freq: b.Params.Freq, FreqSD: b.Params.FreqSD, Slop: b.Params.Slop, BurstSlop: b.Params.BurstSlop,
		}); err != nil {
			return fmt.Errorf("foray: insert hit: %w", err)
		}
		f.numHits++
	}
	return nil
}

// Reap drops stale candidates in every finder, e.g. at end of batch.
func (f *Foray) Reap(now float64) {
	for _, fd := range f.finders {
		fd.Reap(now)
	}
}

// Flush dumps every complete burst still buffered in every finder's
// confirmed candidates and persists it.
func (f *Foray) Flush() error {
	for key, fd := range f.finders {
		bursts, err := fd.Flush()
		if err != nil {
			return fmt.Errorf("foray: flush finder %+v: %w", key, err)
		}
		if err := f.persistBursts(key.port, bursts); err != nil {
			return err
		}
	}
	return nil
}

// CheckTags runs addTag for every tag against a throwaway graph per
// nominal frequency and reports every pair that collides, without
// processing any pulses (original_source/find_tags_motus.cpp's -c
// flag, SPEC_FULL.md §9 "Validation-only mode").
func CheckTags(tags []*tag.Tag, params *config.Parameters) ([]AmbiguousPair, error) {
	byFreq := make(map[int][]*tag.Tag)
	for _, t := range tags {
		byFreq[t.NomFreqKHz] = append(byFreq[t.NomFreqKHz], t)
	}

	var collisions []AmbiguousPair
	for _, group := range byFreq {
		g := graph.New()
		mgr := ambiguity.NewManager(-1)
		for _, t := range group {
			opt := graph.AddTagOptions{
				Tol:      params.GetPulseSlopSeconds(),
				TimeFuzz: params.GetBurstSlopSeconds() / 4.0,
				MaxTime:  graph.MaxTime(t, params.GetMaxSkippedBursts()),
			}
			existing, err := g.Find(t, opt.Tol, opt.TimeFuzz)
			if err != nil {
				return nil, fmt.Errorf("foray: check-tags Find: %w", err)
			}
			if existing != nil {
				collisions = append(collisions, AmbiguousPair{TagA: existing.MotusID, TagB: t.MotusID})
			}
			if _, _, err := ambiguity.AddTag(g, mgr, t, opt); err != nil {
				return nil, fmt.Errorf("foray: check-tags AddTag: %w", err)
			}
		}
	}
	return collisions, nil
}

// AmbiguousPair names two tags CheckTags found indistinguishable.
type AmbiguousPair struct {
	TagA, TagB tag.ID
}

// RoundHour buckets ts to an integer hour index for pulseCounts.
func RoundHour(ts float64) int64 { return int64(math.Floor(ts / 3600.0)) }
