// Package s3 provides a token store backed by an S3 bucket: one JSON object
// per resource under a configurable key prefix, for syncs running across
// hosts that share cloud storage.
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
)

// DefaultPrefix is the default key prefix for delta link objects.
const DefaultPrefix = "deltalinks/"

// maxKeyNameLen is the longest sanitised resource name used verbatim;
// longer names are hashed.
const maxKeyNameLen = 200

// API is the slice of the S3 client the store needs. Satisfied by
// *s3.Client; tests substitute a fake.
type API interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Ensure Store implements the interface.
var _ driven.TokenStore = (*Store)(nil)

// Store persists delta links as JSON objects in an S3 bucket.
type Store struct {
	client API
	bucket string
	prefix string
}

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	region string
	prefix string
	client API
}

// WithRegion sets the AWS region for the default client.
func WithRegion(region string) Option {
	return func(c *storeConfig) { c.region = region }
}

// WithPrefix overrides the key prefix for delta link objects.
func WithPrefix(prefix string) Option {
	return func(c *storeConfig) { c.prefix = prefix }
}

// WithClient supplies a pre-built S3 client (or a fake in tests), skipping
// the default credential chain.
func WithClient(client API) Option {
	return func(c *storeConfig) { c.client = client }
}

// entry is the persisted object shape, shared with the file backend.
type entry struct {
	DeltaLink   string         `json:"delta_link"`
	LastUpdated string         `json:"last_updated"`
	Resource    string         `json:"resource"`
	Metadata    map[string]any `json:"metadata"`
}

// NewStore creates an S3-backed token store for the given bucket. Without
// WithClient, credentials come from the AWS default chain.
func NewStore(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 token store: bucket name cannot be empty")
	}

	cfg := storeConfig{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 token store: loading AWS config: %w", err)
		}
		if cfg.region != "" {
			awsCfg.Region = cfg.region
		}
		client = awss3.NewFromConfig(awsCfg)
	}

	return &Store{
		client: client,
		bucket: bucket,
		prefix: cfg.prefix,
	}, nil
}

// key converts a resource name to its object key.
func (s *Store) key(resource string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(resource)
	if len(safe) > maxKeyNameLen {
		sum := md5.Sum([]byte(resource))
		safe = hex.EncodeToString(sum[:])
	}
	return s.prefix + safe + ".json"
}

func (s *Store) read(ctx context.Context, resource string) (*entry, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(resource)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("reading delta link for %s: %w", resource, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading delta link body for %s: %w", resource, err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing delta link for %s: %w", resource, err)
	}
	return &e, nil
}

// Get returns the stored delta link for a resource.
func (s *Store) Get(ctx context.Context, resource string) (string, error) {
	e, err := s.read(ctx, resource)
	if err != nil {
		return "", err
	}
	return e.DeltaLink, nil
}

// GetMetadata returns the stored sync state for a resource.
func (s *Store) GetMetadata(ctx context.Context, resource string) (*domain.SyncState, error) {
	e, err := s.read(ctx, resource)
	if err != nil {
		return nil, err
	}
	state := &domain.SyncState{
		Resource:  e.Resource,
		DeltaLink: e.DeltaLink,
		Metadata:  e.Metadata,
	}
	if t, err := time.Parse(time.RFC3339, e.LastUpdated); err == nil {
		state.LastUpdated = t
	}
	return state, nil
}

// Set writes the delta link and metadata for a resource. S3 object writes
// are atomic, satisfying the contract's overwrite semantics.
func (s *Store) Set(ctx context.Context, resource, deltaLink string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	e := entry{
		DeltaLink:   deltaLink,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Resource:    resource,
		Metadata:    metadata,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding delta link for %s: %w", resource, err)
	}

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(resource)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("saving delta link for %s: %w", resource, err)
	}
	return nil
}

// Delete removes the entry for a resource. S3 DeleteObject succeeds on
// missing keys, so this is idempotent by construction.
func (s *Store) Delete(ctx context.Context, resource string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(resource)),
	})
	if err != nil {
		return fmt.Errorf("deleting delta link for %s: %w", resource, err)
	}
	return nil
}

// Close is a no-op; the underlying HTTP client is shared. Safe to call
// multiple times.
func (s *Store) Close() error {
	return nil
}
