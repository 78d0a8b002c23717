package tagdb

import (
	"database/sql"
	"fmt"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
)

// LotekKey identifies a Lotek-manufactured tag the way its own receiver
// reports it: a code set name plus the manufacturer-assigned numeric
// ID, neither of which is the motusID the rest of this system uses
// (original_source/Lotek_Data_Source.cpp builds the same (codeSet, ID)
// -> Tag map to translate detections on ingest).
type LotekKey struct {
	CodeSet string
	MfgID   int64
}

// LotekIndex maps a Lotek receiver's own (codeSet, mfgID) identifier
// pair to the motus-registered tag it corresponds to, letting a Lotek
// ingestion path (not itself part of this engine; spec.md §1 out of
// scope) resolve a detection to the right gap-sequence tag before
// synthesizing pulse records for it.
type LotekIndex map[LotekKey]*tag.Tag

// BuildLotekIndex re-queries the tags table for its optional
// codeSet/mfgID columns and returns the lookup index, keyed against
// the already-loaded tags by motusID.
func BuildLotekIndex(db *sql.DB, tagsByID map[tag.ID]*tag.Tag) (LotekIndex, error) {
	rows, err := db.Query(`SELECT motusID, codeSet, mfgID FROM tags WHERE codeSet IS NOT NULL AND mfgID IS NOT NULL`)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	idx := make(LotekIndex)
	for rows.Next() {
		var motusID int64
		var codeSet string
		var mfgID int64
		if err := rows.Scan(&motusID, &codeSet, &mfgID); err != nil {
			return nil, fmt.Errorf("tagdb: scan lotek row: %w", err)
		}
		t, ok := tagsByID[tag.ID(motusID)]
		if !ok {
			return nil, fmt.Errorf("tagdb: lotek row references unknown motusID %d", motusID)
		}
		idx[LotekKey{CodeSet: codeSet, MfgID: mfgID}] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tagdb: iterate lotek rows: %w", err)
	}
	return idx, nil
}

// Resolve looks up the motus-registered tag for a Lotek detection.
func (idx LotekIndex) Resolve(codeSet string, mfgID int64) (*tag.Tag, bool) {
	t, ok := idx[LotekKey{CodeSet: codeSet, MfgID: mfgID}]
	return t, ok
}
