// Package overridestore persists an audit trail of reflex controller
// override applications and reverts. It is optional: the reflex
// controller works entirely in-memory without it (spec section 4.9's
// "no guarantee of persistence across restarts is required of the
// core" applies equally here) — a Store just gives an operator a
// queryable history of what was applied, when, and why it reverted.
//
// Adapted from the teacher's internal/opstate namespaced key-value
// store: same mattn/go-sqlite3 foundation and upsert-free append-only
// discipline, repurposed from arbitrary operational key/value pairs to
// a fixed override-event schema.
package overridestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Action classifies a recorded override event.
type Action string

const (
	ActionApplied  Action = "applied"
	ActionDenied   Action = "denied"
	ActionReverted Action = "reverted"
)

// Event is one row of the override audit ledger.
type Event struct {
	ID        int64
	Key       string
	Action    Action
	Value     string
	Reason    string
	Timestamp time.Time
}

// Store is an append-only SQLite-backed ledger of Events.
type Store struct {
	db *sql.DB
}

// Open creates or opens the override ledger at dbPath, creating the
// schema on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("overridestore: open %s: %w", dbPath, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("overridestore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS override_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		key        TEXT NOT NULL,
		action     TEXT NOT NULL,
		value      TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	`)
	return err
}

// Record appends one Event to the ledger, stamped at now.
func (s *Store) Record(key string, action Action, value, reason string, now time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO override_events (key, action, value, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		key, string(action), value, reason, now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("overridestore: record %s/%s: %w", key, action, err)
	}
	return nil
}

// RecentForKey returns the most recent events for key, newest first,
// bounded by limit.
func (s *Store) RecentForKey(key string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, key, action, value, reason, created_at FROM override_events
		 WHERE key = ? ORDER BY id DESC LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("overridestore: query %s: %w", key, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Key, &e.Action, &e.Value, &e.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("overridestore: scan: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
