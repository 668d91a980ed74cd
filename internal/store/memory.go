package store

import "sync"

// MemoryQueueStore keeps queue state in process memory. Used in tests and
// when no durable backend is configured.
type MemoryQueueStore struct {
	mu    sync.Mutex
	state *QueueState
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{state: &QueueState{}}
}

func (m *MemoryQueueStore) Load() (*QueueState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *MemoryQueueStore) Save(state *QueueState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Version != m.state.Version {
		return ErrConflict
	}
	next := state.Clone()
	next.Version++
	m.state = next
	return nil
}

func (m *MemoryQueueStore) Close() error { return nil }
