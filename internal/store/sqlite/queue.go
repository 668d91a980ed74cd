// Package sqlite persists queue state in a local SQLite database.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/turnpikehq/turnpike/internal/store"
)

// QueueStore keeps the queue state as one versioned row. The UPDATE is
// guarded by the base version so concurrent writers from other processes
// surface as store.ErrConflict instead of lost updates.
type QueueStore struct {
	db *sql.DB
}

func NewQueueStore(path string) (*QueueStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &QueueStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *QueueStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS turn_queue_state (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			state   TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create queue table: %w", err)
	}
	return nil
}

func (s *QueueStore) Load() (*store.QueueState, error) {
	var version int64
	var blob string
	err := s.db.QueryRow(`SELECT version, state FROM turn_queue_state WHERE id = 1`).Scan(&version, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.QueueState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue state: %w", err)
	}
	var state store.QueueState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("parse queue state: %w", err)
	}
	state.Version = version
	return &state, nil
}

func (s *QueueStore) Save(state *store.QueueState) error {
	next := state.Clone()
	next.Version++
	blob, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}

	if state.Version == 0 {
		res, err := s.db.Exec(
			`INSERT INTO turn_queue_state (id, version, state) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			next.Version, string(blob),
		)
		if err != nil {
			return fmt.Errorf("insert queue state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		// Lost the insert race; the guarded update below reports the conflict.
	}

	res, err := s.db.Exec(
		`UPDATE turn_queue_state SET version = ?, state = ? WHERE id = 1 AND version = ?`,
		next.Version, string(blob), state.Version,
	)
	if err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *QueueStore) Close() error { return s.db.Close() }
