// Package sqlite provides a token store backed by a SQLite database,
// suitable when many resources share one durable local store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
)

// schema holds the single delta_links table. Timestamps are RFC 3339 text,
// metadata is a JSON document.
const schema = `
CREATE TABLE IF NOT EXISTS delta_links (
	resource     TEXT PRIMARY KEY,
	delta_link   TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}'
);
`

// Ensure Store implements the interface.
var _ driven.TokenStore = (*Store)(nil)

// Store persists delta links in a SQLite database.
type Store struct {
	db *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// NewStore opens (creating if needed) the database at path. WAL mode keeps
// concurrent syncs of different resources from blocking each other.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the stored delta link for a resource.
func (s *Store) Get(ctx context.Context, resource string) (string, error) {
	var link string
	err := s.db.QueryRowContext(ctx,
		`SELECT delta_link FROM delta_links WHERE resource = ?`, resource,
	).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading delta link for %s: %w", resource, err)
	}
	return link, nil
}

// GetMetadata returns the stored sync state for a resource.
func (s *Store) GetMetadata(ctx context.Context, resource string) (*domain.SyncState, error) {
	var (
		link, updated, metaJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT delta_link, last_updated, metadata FROM delta_links WHERE resource = ?`,
		resource,
	).Scan(&link, &updated, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync state for %s: %w", resource, err)
	}

	state := &domain.SyncState{Resource: resource, DeltaLink: link}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		state.LastUpdated = t
	}
	if err := json.Unmarshal([]byte(metaJSON), &state.Metadata); err != nil {
		state.Metadata = map[string]any{}
	}
	return state, nil
}

// Set upserts the delta link and metadata for a resource.
func (s *Store) Set(ctx context.Context, resource, deltaLink string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", resource, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delta_links (resource, delta_link, last_updated, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			delta_link = excluded.delta_link,
			last_updated = excluded.last_updated,
			metadata = excluded.metadata`,
		resource, deltaLink, time.Now().UTC().Format(time.RFC3339), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("saving delta link for %s: %w", resource, err)
	}
	return nil
}

// Delete removes the entry for a resource. Idempotent.
func (s *Store) Delete(ctx context.Context, resource string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM delta_links WHERE resource = ?`, resource,
	); err != nil {
		return fmt.Errorf("deleting delta link for %s: %w", resource, err)
	}
	return nil
}

// Close releases the database. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
