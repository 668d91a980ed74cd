// Package pg persists queue state in Postgres for multi-process consumers.
package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/turnpikehq/turnpike/internal/store"
)

// QueueStore keeps the queue state as one versioned row, updated with an
// optimistic version guard so concurrent worker processes never clobber
// each other's writes.
type QueueStore struct {
	db *sql.DB
}

func NewQueueStore(dsn string) (*QueueStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
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
			id         INT PRIMARY KEY CHECK (id = 1),
			version    BIGINT NOT NULL,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create queue table: %w", err)
	}
	return nil
}

func (s *QueueStore) Load() (*store.QueueState, error) {
	var version int64
	var blob []byte
	err := s.db.QueryRow(`SELECT version, state FROM turn_queue_state WHERE id = 1`).Scan(&version, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.QueueState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue state: %w", err)
	}
	var state store.QueueState
	if err := json.Unmarshal(blob, &state); err != nil {
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
			`INSERT INTO turn_queue_state (id, version, state) VALUES (1, $1, $2)
			 ON CONFLICT (id) DO NOTHING`,
			next.Version, blob,
		)
		if err != nil {
			return fmt.Errorf("insert queue state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}

	res, err := s.db.Exec(
		`UPDATE turn_queue_state SET version = $1, state = $2, updated_at = now()
		 WHERE id = 1 AND version = $3`,
		next.Version, blob, state.Version,
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
