// Package memory provides an in-memory token store, useful for tests and
// for callers that want sync-run plumbing without persistence.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.TokenStore = (*Store)(nil)

// Store is an in-memory implementation of driven.TokenStore.
// Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	states map[string]domain.SyncState
}

// NewStore creates a new in-memory token store.
func NewStore() *Store {
	return &Store{
		states: make(map[string]domain.SyncState),
	}
}

// Get returns the stored delta link for a resource.
func (s *Store) Get(_ context.Context, resource string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[resource]
	if !ok {
		return "", domain.ErrNotFound
	}
	return state.DeltaLink, nil
}

// GetMetadata returns the stored sync state for a resource.
func (s *Store) GetMetadata(_ context.Context, resource string) (*domain.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[resource]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &state, nil
}

// Set stores the delta link and metadata for a resource.
func (s *Store) Set(_ context.Context, resource, deltaLink string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[resource] = domain.SyncState{
		Resource:    resource,
		DeltaLink:   deltaLink,
		LastUpdated: time.Now().UTC(),
		Metadata:    metadata,
	}
	return nil
}

// Delete removes the entry for a resource. Idempotent.
func (s *Store) Delete(_ context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, resource)
	return nil
}

// Close is a no-op; safe to call multiple times.
func (s *Store) Close() error {
	return nil
}
