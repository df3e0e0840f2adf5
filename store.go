package paysaga

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists saga checkpoints.
type Store interface {
	// Save persists the current saga state
	Save(ctx context.Context, sagaID string, state *WorkflowState) error

	// Load retrieves a saga state by ID
	Load(ctx context.Context, sagaID string) (*WorkflowState, error)

	// Delete removes an archived saga
	Delete(ctx context.Context, sagaID string) error

	// List returns the IDs of all stored sagas, sorted
	List(ctx context.Context) ([]string, error)
}

// MemoryStore provides an in-memory implementation of Store for testing
// or scenarios where persistence is not required.
type MemoryStore struct {
	states map[string]*WorkflowState
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*WorkflowState),
	}
}

// Save stores a copy of the saga state in memory.
func (m *MemoryStore) Save(ctx context.Context, sagaID string, state *WorkflowState) error {
	// Copy to avoid sharing with the running saga
	stateCopy, err := state.Clone()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[sagaID] = stateCopy
	return nil
}

// Load retrieves a copy of the saga state from memory.
func (m *MemoryStore) Load(ctx context.Context, sagaID string) (*WorkflowState, error) {
	m.mu.RLock()
	state, exists := m.states[sagaID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrNotFound)
	}
	return state.Clone()
}

// Delete removes the saga state from memory.
func (m *MemoryStore) Delete(ctx context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, sagaID)
	return nil
}

// List returns the stored saga IDs.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
