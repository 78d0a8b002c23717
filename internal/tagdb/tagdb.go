// Package tagdb loads the registered-tag table (and optional events
// table) spec.md §6 describes from a sqlite database, producing the
// tag.Tag values and timeline.Event sequence the conductor needs at
// startup.
package tagdb

import (
	"database/sql"
	"fmt"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/gaptag/timeline"
)

// Row mirrors one row of the tag database's required and optional
// columns (spec.md §6 "Tag database (input)").
type Row struct {
	MotusID          int64
	FreqMHz          float64
	Gap1, Gap2, Gap3 float64 // ms, intra-burst
	Gap4             float64 // s, inter-burst
	DFreqKHz         *float64
	CodeSet          *string
	MfgID            *int64
}

// LoadTags reads every row of the tags table and returns the
// corresponding real tags. It does not build the Lotek index: rows
// carrying an optional CodeSet/MfgID pair (Lotek-manufactured tags) are
// indexed only by a separate BuildLotekIndex call, which translates
// Lotek receiver detections back to a motusID.
func LoadTags(db *sql.DB) ([]*tag.Tag, error) {
	rows, err := db.Query(`SELECT motusID, freq, gap1, gap2, gap3, gap4, dfreq, codeSet, mfgID FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("tagdb: query tags: %w", err)
	}
	defer rows.Close()

	var tags []*tag.Tag
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.MotusID, &r.FreqMHz, &r.Gap1, &r.Gap2, &r.Gap3, &r.Gap4, &r.DFreqKHz, &r.CodeSet, &r.MfgID); err != nil {
			return nil, fmt.Errorf("tagdb: scan tag row: %w", err)
		}
		tags = append(tags, rowToTag(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tagdb: iterate tags: %w", err)
	}
	return tags, nil
}

func rowToTag(r Row) *tag.Tag {
	var dfreq float32
	if r.DFreqKHz != nil {
		dfreq = float32(*r.DFreqKHz)
	}
	gaps := [tag.PulsesPerBurst]float64{r.Gap1 / 1000.0, r.Gap2 / 1000.0, r.Gap3 / 1000.0, r.Gap4}
	return tag.NewReal(tag.ID(r.MotusID), r.FreqMHz, dfreq, gaps)
}

// LoadEvents reads the optional events table, returning nil (not an
// error) if it does not exist.
func LoadEvents(db *sql.DB, tagsByID map[tag.ID]*tag.Tag) ([]timeline.Event, error) {
	rows, err := db.Query(`SELECT ts, motusID, event FROM events ORDER BY ts`)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var events []timeline.Event
	for rows.Next() {
		var ts float64
		var motusID int64
		var code int
		if err := rows.Scan(&ts, &motusID, &code); err != nil {
			return nil, fmt.Errorf("tagdb: scan event row: %w", err)
		}
		t, ok := tagsByID[tag.ID(motusID)]
		if !ok {
			return nil, fmt.Errorf("tagdb: event references unknown motusID %d", motusID)
		}
		tc := timeline.Deactivate
		if code == 1 {
			tc = timeline.Activate
		}
		events = append(events, timeline.Event{TS: ts, Tag: t, Code: tc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tagdb: iterate events: %w", err)
	}
	return events, nil
}

// IndexByID builds the id->tag lookup LoadEvents needs from LoadTags's
// result.
func IndexByID(tags []*tag.Tag) map[tag.ID]*tag.Tag {
	m := make(map[tag.ID]*tag.Tag, len(tags))
	for _, t := range tags {
		m[t.MotusID] = t
	}
	return m
}
