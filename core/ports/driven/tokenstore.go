package driven

import (
	"context"

	"github.com/custodia-labs/deltaq/core/domain"
)

// TokenStore persists the per-resource continuation token and sync metadata
// between runs. At most one token is live per resource at any time.
//
// Stores may be shared across concurrent syncs of different resources;
// reads and writes for a given resource key are last-write-wins and any
// atomicity is the store's responsibility, not the orchestrator's.
type TokenStore interface {
	// Get returns the stored delta link for a resource.
	// Returns domain.ErrNotFound when none is stored.
	Get(ctx context.Context, resource string) (string, error)

	// GetMetadata returns the stored sync state (link, last-updated
	// timestamp, metadata bag) for a resource.
	// Returns domain.ErrNotFound when none is stored.
	GetMetadata(ctx context.Context, resource string) (*domain.SyncState, error)

	// Set stores the delta link and metadata for a resource, overwriting
	// any previous entry atomically from the caller's perspective.
	Set(ctx context.Context, resource, deltaLink string, metadata map[string]any) error

	// Delete removes the token and metadata for a resource.
	// Idempotent: deleting an absent entry is not an error.
	Delete(ctx context.Context, resource string) error

	// Close releases any held connections. Safe to call multiple times.
	Close() error
}
