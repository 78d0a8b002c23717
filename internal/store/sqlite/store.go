// Package sqlite implements internal/store's output schema (spec.md §6
// "Output") over modernc.org/sqlite, migrated with golang-migrate,
// grounded on the teacher's db.DB / internal/db wrapper-plus-migration
// pattern.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/store"
)

// Store is the sqlite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// migrates it to the latest schema version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// BeginBatch inserts a new batches row, stamped with a fresh UUID so a
// batch retains a stable external identity across databases even though
// batchID itself is only a local autoincrement key, and returns its ID.
func (s *Store) BeginBatch(bootSession int, tsStart float64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO batches (uuid, bootSession, tsStart, numHits) VALUES (?, ?, ?, 0)`,
		uuid.NewString(), bootSession, tsStart,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin batch: %w", err)
	}
	return res.LastInsertId()
}

// FinishBatch records a batch's end timestamp and final hit count.
func (s *Store) FinishBatch(batchID int64, tsEnd float64, numHits int) error {
	_, err := s.db.Exec(`UPDATE batches SET tsEnd = ?, numHits = ? WHERE batchID = ?`, tsEnd, numHits, batchID)
	if err != nil {
		return fmt.Errorf("sqlite: finish batch %d: %w", batchID, err)
	}
	return nil
}

// InsertRun records a confirmed candidate's run, stamped with a fresh
// UUID, and returns its ID.
func (s *Store) InsertRun(batchID int64, r store.Run) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (uuid, batchID, motusTagID, antenna, tsBegin, tsEnd, length) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), batchID, int64(r.MotusTagID), r.Antenna, r.TSBegin, r.TSEnd, r.Length,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert run: %w", err)
	}
	return res.LastInsertId()
}

// InsertHit records a single pulse-burst hit within a run.
func (s *Store) InsertHit(runID int64, h store.Hit) error {
	_, err := s.db.Exec(
		`INSERT INTO hits (runID, ts, sig, sigSD, noise, freq, freqSD, slop, burstSlop) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, h.TS, h.Sig, h.SigSD, h.Noise, h.Freq, h.FreqSD, h.Slop, h.BurstSlop,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert hit: %w", err)
	}
	return nil
}

// InsertTagAmbig records a proxy's member set, up to
// store.MaxTagsPerAmbiguityGroup members.
func (s *Store) InsertTagAmbig(ambigID tag.ID, members []tag.ID) error {
	if len(members) > store.MaxTagsPerAmbiguityGroup {
		return fmt.Errorf("sqlite: ambiguity group %d has %d members, max %d", ambigID, len(members), store.MaxTagsPerAmbiguityGroup)
	}
	cols := make([]int64, store.MaxTagsPerAmbiguityGroup)
	for i, m := range members {
		cols[i] = int64(m)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO tagAmbig (ambigID, motusTagID1, motusTagID2, motusTagID3, motusTagID4, motusTagID5, motusTagID6)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(ambigID), nullableID(cols[0]), nullableID(cols[1]), nullableID(cols[2]), nullableID(cols[3]), nullableID(cols[4]), nullableID(cols[5]),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert tagAmbig: %w", err)
	}
	return nil
}

func nullableID(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// InsertTimeFix records one clock-repair offset estimate.
func (s *Store) InsertTimeFix(batchID int64, ts, offset, maxError float64) error {
	_, err := s.db.Exec(`INSERT INTO timeFixes (batchID, ts, offset, maxError) VALUES (?, ?, ?, ?)`, batchID, ts, offset, maxError)
	if err != nil {
		return fmt.Errorf("sqlite: insert timeFix: %w", err)
	}
	return nil
}

// InsertGPSFix records one GPS fix record.
func (s *Store) InsertGPSFix(batchID int64, ts, lat, lon, alt float64) error {
	_, err := s.db.Exec(`INSERT INTO gpsFixes (batchID, ts, lat, lon, alt) VALUES (?, ?, ?, ?, ?)`, batchID, ts, lat, lon, alt)
	if err != nil {
		return fmt.Errorf("sqlite: insert gpsFix: %w", err)
	}
	return nil
}

// IncrementPulseCount bumps the per-antenna-hour pulse counter
// (spec.md §1 Non-goals names the recognition engine as not owning
// this, but the output schema does; SPEC_FULL.md §9).
func (s *Store) IncrementPulseCount(batchID int64, antenna int, hour int64) error {
	_, err := s.db.Exec(
		`INSERT INTO pulseCounts (batchID, antenna, hour, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(batchID, antenna, hour) DO UPDATE SET count = count + 1`,
		batchID, antenna, hour,
	)
	if err != nil {
		return fmt.Errorf("sqlite: increment pulseCount: %w", err)
	}
	return nil
}

// InsertBatchProg records a progress message for -admin-listen/tailsql
// inspection.
func (s *Store) InsertBatchProg(batchID int64, ts float64, message string) error {
	_, err := s.db.Exec(`INSERT INTO batchProgs (batchID, ts, message) VALUES (?, ?, ?)`, batchID, ts, message)
	if err != nil {
		return fmt.Errorf("sqlite: insert batchProg: %w", err)
	}
	return nil
}

// InsertBatchParam records the effective value of one parameter for
// this batch, for audit.
func (s *Store) InsertBatchParam(batchID int64, name, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO batchParams (batchID, name, value) VALUES (?, ?, ?)`, batchID, name, value)
	if err != nil {
		return fmt.Errorf("sqlite: insert batchParam: %w", err)
	}
	return nil
}

// SaveBatchState persists the resume blob spec.md §5 "Pause/resume"
// describes: a serialized conductor snapshot plus the cutoff
// timestamp it was taken at.
func (s *Store) SaveBatchState(batchID int64, version int, cutoff float64, blob []byte) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO batchState (batchID, version, cutoff, blob) VALUES (?, ?, ?, ?)`,
		batchID, version, cutoff, blob,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save batchState: %w", err)
	}
	return nil
}

// LoadBatchState retrieves the most recently saved resume blob, or
// (nil, 0, 0, err) with err wrapping sql.ErrNoRows if none exists.
func (s *Store) LoadBatchState(batchID int64) (blob []byte, version int, cutoff float64, err error) {
	row := s.db.QueryRow(`SELECT version, cutoff, blob FROM batchState WHERE batchID = ?`, batchID)
	if err := row.Scan(&version, &cutoff, &blob); err != nil {
		return nil, 0, 0, fmt.Errorf("sqlite: load batchState: %w", err)
	}
	return blob, version, cutoff, nil
}

// AttachAdminRoutes mounts a read-only tailsql console and tsweb debug
// handlers over the output database, identical wiring to the teacher's
// db.DB.AttachAdminRoutes.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		return fmt.Errorf("sqlite: create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://findtags.db", s.db, &tailsql.DBOptions{Label: "Tag Finder DB"})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}
