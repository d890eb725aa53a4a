package statestore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps states in process memory. States die with the process.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		states: make(map[string]State),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for expiry checks
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Set(_ context.Context, key string, state State) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = m.now()
	}
	m.mu.Lock()
	m.states[key] = state
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (State, error) {
	m.mu.RLock()
	state, ok := m.states[key]
	m.mu.RUnlock()
	if !ok || state.Expired(m.now(), m.ttl) {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.states, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, state := range m.states {
		if state.Expired(now, m.ttl) {
			delete(m.states, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states), nil
}

func (m *MemoryStore) Name() string { return "memory" }
