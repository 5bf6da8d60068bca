// Package journal is an append-only diagnostics event log backed by
// sqlite, serving the `GET /api/events` history (spec section 6).
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one row of the diagnostics journal.
type Event struct {
	ID      int64     `json:"id"`
	TS      time.Time `json:"ts"`
	Channel int       `json:"channel"` // 0 when not channel-specific
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail"`
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT NOT NULL,
	channel INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	detail  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_ts_idx ON events(ts);
`

// Journal wraps a sqlite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures
// its schema exists.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one diagnostics event. channel is 0 for events with no
// specific channel (e.g. a global upload-worker failure).
func (j *Journal) Record(ctx context.Context, channel int, kind, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, channel, kind, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), channel, kind, detail)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Recent returns the most recent events, newest first, bounded by limit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, channel, kind, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Channel, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("journal: parse timestamp %q: %w", ts, err)
		}
		e.TS = parsed
		events = append(events, e)
	}
	return events, rows.Err()
}
