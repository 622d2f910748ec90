// Package sqlitehooks is a reference memoryhooks.Hooks implementation
// backed by the pure-Go modernc.org/sqlite driver — the second of the
// two SQLite drivers the teacher depended on, given a distinct home
// here (overridestore uses mattn/go-sqlite3's cgo driver instead) so
// both are exercised for the concerns they actually fit: this package
// favors a CGO-free build for an optional, easily embedded memory
// service reference implementation.
package sqlitehooks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nugget/gatecore/internal/memoryhooks"
	"github.com/nugget/gatecore/internal/observation"
)

// Store implements memoryhooks.Hooks by recording gated events and
// agent turns in a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens a memory store at dbPath, creating the schema
// on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitehooks: open %s: %w", dbPath, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitehooks: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS memory_events (
		event_id   TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		obs_type   TEXT NOT NULL,
		obs_id     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS memory_turns (
		turn_id            TEXT PRIMARY KEY,
		session_key        TEXT NOT NULL,
		input_event_id     TEXT NOT NULL,
		plan               TEXT,
		status             TEXT NOT NULL DEFAULT 'pending',
		error_message      TEXT,
		final_output_obs_id TEXT,
		started_at         TEXT NOT NULL,
		finished_at        TEXT
	);
	`)
	return err
}

// AppendEvent implements memoryhooks.Hooks.
func (s *Store) AppendEvent(ctx context.Context, obs observation.Observation) (string, error) {
	eventID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_events (event_id, session_key, obs_type, obs_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, obs.Session, string(obs.ObsType), obs.ObsID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("sqlitehooks: append_event: %w", err)
	}
	return eventID, nil
}

// StartTurn implements memoryhooks.Hooks.
func (s *Store) StartTurn(ctx context.Context, sessionKey, inputEventID, plan string) (string, error) {
	turnID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_turns (turn_id, session_key, input_event_id, plan, status, started_at)
		 VALUES (?, ?, ?, ?, 'pending', ?)`,
		turnID, sessionKey, inputEventID, plan, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("sqlitehooks: start_turn: %w", err)
	}
	return turnID, nil
}

// FinishTurn implements memoryhooks.Hooks.
func (s *Store) FinishTurn(ctx context.Context, turnID string, status memoryhooks.Status, errorMessage, finalOutputObsID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_turns SET status = ?, error_message = ?, final_output_obs_id = ?, finished_at = ? WHERE turn_id = ?`,
		string(status), errorMessage, finalOutputObsID, time.Now().UTC().Format(time.RFC3339Nano), turnID,
	)
	if err != nil {
		return fmt.Errorf("sqlitehooks: finish_turn: %w", err)
	}
	return nil
}
