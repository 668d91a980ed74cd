// Package file persists queue state as a single JSON document on disk.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/turnpikehq/turnpike/internal/store"
)

// QueueStore writes the whole queue state to one JSON file. Writes go
// through a temp file + rename so a crash never leaves a torn document.
type QueueStore struct {
	mu   sync.Mutex
	path string
}

func NewQueueStore(path string) (*QueueStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &QueueStore{path: path}, nil
}

func (s *QueueStore) Load() (*store.QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *QueueStore) load() (*store.QueueState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &store.QueueState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue state: %w", err)
	}
	var state store.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse queue state: %w", err)
	}
	return &state, nil
}

func (s *QueueStore) Save(state *store.QueueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	if state.Version != current.Version {
		return store.ErrConflict
	}

	next := state.Clone()
	next.Version++

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queue state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace queue state: %w", err)
	}
	return nil
}

func (s *QueueStore) Close() error { return nil }
