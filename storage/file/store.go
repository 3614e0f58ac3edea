// Package file provides a token store backed by one JSON document per
// resource under a local directory.
package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
)

// DefaultDir is the default directory for delta link files.
const DefaultDir = "deltalinks"

// maxFileNameLen is the longest sanitised resource name used verbatim;
// longer names are hashed.
const maxFileNameLen = 200

// Ensure Store implements the interface.
var _ driven.TokenStore = (*Store)(nil)

// Store persists delta links as JSON files, one per resource.
type Store struct {
	dir string
}

// entry is the persisted record shape.
type entry struct {
	DeltaLink   string         `json:"delta_link"`
	LastUpdated string         `json:"last_updated"`
	Resource    string         `json:"resource"`
	Metadata    map[string]any `json:"metadata"`
}

// NewStore creates a file-backed token store rooted at dir.
// An empty dir selects DefaultDir relative to the working directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating delta link directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path converts a resource name to a safe file path.
func (s *Store) path(resource string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(resource)
	if len(safe) > maxFileNameLen {
		sum := md5.Sum([]byte(resource))
		safe = hex.EncodeToString(sum[:])
	}
	return filepath.Join(s.dir, safe+".json")
}

func (s *Store) read(resource string) (*entry, error) {
	data, err := os.ReadFile(s.path(resource))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("reading delta link for %s: %w", resource, err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing delta link for %s: %w", resource, err)
	}
	return &e, nil
}

// Get returns the stored delta link for a resource.
func (s *Store) Get(_ context.Context, resource string) (string, error) {
	e, err := s.read(resource)
	if err != nil {
		return "", err
	}
	return e.DeltaLink, nil
}

// GetMetadata returns the stored sync state for a resource.
func (s *Store) GetMetadata(_ context.Context, resource string) (*domain.SyncState, error) {
	e, err := s.read(resource)
	if err != nil {
		return nil, err
	}
	return e.toState(), nil
}

// Set writes the delta link and metadata for a resource. The write goes
// through a temp file and rename so readers never observe a partial entry.
func (s *Store) Set(_ context.Context, resource, deltaLink string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	e := entry{
		DeltaLink:   deltaLink,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Resource:    resource,
		Metadata:    metadata,
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding delta link for %s: %w", resource, err)
	}

	target := s.path(resource)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing delta link for %s: %w", resource, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("saving delta link for %s: %w", resource, err)
	}
	return nil
}

// Delete removes the entry for a resource. Idempotent.
func (s *Store) Delete(_ context.Context, resource string) error {
	err := os.Remove(s.path(resource))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting delta link for %s: %w", resource, err)
	}
	return nil
}

// Close is a no-op; safe to call multiple times.
func (s *Store) Close() error {
	return nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

func (e *entry) toState() *domain.SyncState {
	state := &domain.SyncState{
		Resource:  e.Resource,
		DeltaLink: e.DeltaLink,
		Metadata:  e.Metadata,
	}
	if t, err := time.Parse(time.RFC3339, e.LastUpdated); err == nil {
		state.LastUpdated = t
	}
	return state
}
