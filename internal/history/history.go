// Package history persists notable wrapper events (backups, restores,
// crashes, restarts) in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// EventType classifies a recorded event.
type EventType string

const (
	EventBackup  EventType = "backup"
	EventRestore EventType = "restore"
	EventCrash   EventType = "crash"
	EventRestart EventType = "restart"
)

// Event is one recorded occurrence.
type Event struct {
	ID     int64     `json:"id"`
	Type   EventType `json:"type"`
	Detail string    `json:"detail"`
	OK     bool      `json:"ok"`
	At     time.Time `json:"at"`
}

// Recorder is the write-side interface components depend on.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Store implements Recorder on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and ensures the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    type   TEXT    NOT NULL,
    detail TEXT    NOT NULL DEFAULT '',
    ok     INTEGER NOT NULL DEFAULT 1,
    at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at DESC);
`)
	if err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// Record inserts one event. A zero At is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(type, detail, ok, at) VALUES(?, ?, ?, ?)`,
		string(e.Type), e.Detail, boolToInt(e.OK), e.At)
	if err != nil {
		return fmt.Errorf("record history event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, detail, ok, at FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		var ok int
		if err := rows.Scan(&e.ID, &typ, &e.Detail, &ok, &e.At); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Type = EventType(typ)
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
