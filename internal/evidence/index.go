package evidence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Index is a sqlite-backed byte-offset index for the spool file, letting
// ReplayFrom seek directly to the first unacked record instead of scanning
// the whole file from the start — the same database/sql + modernc.org/sqlite
// pairing the teacher uses for its own persisted lookups.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if necessary) the sqlite index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("evidence: open index %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS offsets (
		sequence INTEGER PRIMARY KEY,
		byte_offset INTEGER NOT NULL,
		length INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("evidence: create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Record stores the byte offset and length of the spool line for sequence.
func (ix *Index) Record(sequence, byteOffset, length int64) error {
	if _, err := ix.db.Exec(
		`INSERT OR REPLACE INTO offsets (sequence, byte_offset, length) VALUES (?, ?, ?)`,
		sequence, byteOffset, length); err != nil {
		return fmt.Errorf("evidence: record offset for seq %d: %w", sequence, err)
	}
	return nil
}

// OffsetAfter returns the byte offset of the first record with
// sequence > acked, and ok=false if no such record exists.
func (ix *Index) OffsetAfter(acked int64) (offset int64, ok bool, err error) {
	row := ix.db.QueryRow(
		`SELECT byte_offset FROM offsets WHERE sequence > ? ORDER BY sequence ASC LIMIT 1`, acked)
	if err := row.Scan(&offset); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("evidence: query offset after %d: %w", acked, err)
	}
	return offset, true, nil
}

// Close closes the underlying database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}
