// Package deltaq is an incremental-synchronization client for paginated,
// change-tracked directory resources (users, groups, applications, service
// principals). It walks delta query pages, persists the terminal delta link
// between runs through a pluggable token store, and transparently falls
// back to a full sync once when a stored link has been invalidated.
package deltaq

import (
	"context"
	"sync"

	"github.com/custodia-labs/deltaq/connectors/graph"
	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
	"github.com/custodia-labs/deltaq/core/services"
	"github.com/custodia-labs/deltaq/internal/config"
	"github.com/custodia-labs/deltaq/internal/logger"
	"github.com/custodia-labs/deltaq/storage/file"
	"github.com/custodia-labs/deltaq/storage/memory"
	s3store "github.com/custodia-labs/deltaq/storage/s3"
	"github.com/custodia-labs/deltaq/storage/sqlite"
)

// Re-exported domain types so most callers only import this package.
type (
	// Record is one raw changed entity.
	Record = domain.Record

	// QueryOptions shape the initial request of a sync run.
	QueryOptions = domain.QueryOptions

	// PageResult pairs one page of records with the run state at that point.
	PageResult = domain.PageResult

	// PageMetadata describes a yielded page.
	PageMetadata = domain.PageMetadata

	// ChangeSummary aggregates what one sync run changed.
	ChangeSummary = domain.ChangeSummary

	// SyncResult is the materialized outcome of a run.
	SyncResult = domain.SyncResult

	// SyncState is the per-resource entry held in a token store.
	SyncState = domain.SyncState

	// TokenStore persists delta links between runs.
	TokenStore = driven.TokenStore

	// SyncComplete is the completion sentinel on the stream's error channel.
	SyncComplete = driven.SyncComplete

	// Typed directory models for projection.
	User             = domain.User
	Group            = domain.Group
	Application      = domain.Application
	ServicePrincipal = domain.ServicePrincipal
)

// Client runs delta-query syncs against one remote endpoint.
// Safe for concurrent use; concurrent syncs of independent resources share
// the in-flight request limiter.
type Client struct {
	orch     *services.Orchestrator
	store    driven.TokenStore
	pageSize int

	mu     sync.Mutex
	closed bool
}

// New creates a client. Without options it talks to the default endpoint
// unauthenticated and persists delta links under ./deltalinks.
func New(opts ...Option) (*Client, error) {
	var cfg clientConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if !cfg.storeSet {
		s, err := file.NewStore("")
		if err != nil {
			return nil, err
		}
		cfg.store = s
	}

	fetcher := cfg.fetcher
	if fetcher == nil {
		var fopts []graph.Option
		if cfg.baseURL != "" {
			fopts = append(fopts, graph.WithBaseURL(cfg.baseURL))
		}
		if cfg.tokenSource != nil {
			fopts = append(fopts, graph.WithTokenSource(cfg.tokenSource))
		}
		if cfg.httpClient != nil {
			fopts = append(fopts, graph.WithHTTPClient(cfg.httpClient))
		}
		if cfg.requestRate > 0 {
			fopts = append(fopts, graph.WithRequestRate(cfg.requestRate))
		}
		if cfg.timeout > 0 {
			fopts = append(fopts, graph.WithTimeout(cfg.timeout))
		}
		fetcher = graph.NewFetcher(fopts...)
	}

	orch := services.NewOrchestrator(fetcher, cfg.store, services.Config{
		MaxRetries:            cfg.maxRetries,
		RetryBaseDelay:        cfg.retryBaseDelay,
		MaxConcurrentRequests: cfg.maxConcurrentRequests,
	})

	return &Client{orch: orch, store: cfg.store, pageSize: cfg.pageSize}, nil
}

// NewFromConfig creates a client from a TOML configuration file.
func NewFromConfig(path string, opts ...Option) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		logger.SetVerbose(true)
	}

	store, err := buildStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithTokenStore(store),
		WithPageSize(cfg.PageSize),
		WithMaxRetries(cfg.MaxRetries),
		WithMaxConcurrentRequests(cfg.MaxConcurrentRequests),
	}
	if cfg.BaseURL != "" {
		base = append(base, WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestRate > 0 {
		base = append(base, WithRequestRate(cfg.RequestRate))
	}
	return New(append(base, opts...)...)
}

// buildStore constructs the configured token store backend.
func buildStore(sc config.StorageConfig) (driven.TokenStore, error) {
	switch sc.Backend {
	case "", "file":
		return file.NewStore(sc.Path)
	case "sqlite":
		path := sc.Path
		if path == "" {
			path = "deltalinks.db"
		}
		return sqlite.NewStore(path)
	case "s3":
		var opts []s3store.Option
		if sc.Region != "" {
			opts = append(opts, s3store.WithRegion(sc.Region))
		}
		if sc.Prefix != "" {
			opts = append(opts, s3store.WithPrefix(sc.Prefix))
		}
		return s3store.NewStore(context.Background(), sc.Bucket, opts...)
	case "memory":
		return memory.NewStore(), nil
	case "none":
		return nil, nil
	default:
		return nil, &UnknownBackendError{Backend: sc.Backend}
	}
}

// UnknownBackendError reports an unrecognised storage backend name.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "unknown storage backend: " + e.Backend
}

// DeltaQuery syncs a resource to completion and materializes the result:
// all records, the final delta link, and the change summary.
func (c *Client) DeltaQuery(ctx context.Context, resource string, opts QueryOptions) (*SyncResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.orch.Sync(ctx, resource, c.applyDefaults(opts))
}

// DeltaQueryStream syncs a resource as a lazy, finite, single-pass sequence
// of page batches with bounded memory. Completion is a *SyncComplete on the
// error channel. Cancel ctx to abandon the stream early; stored state is
// never corrupted by early termination.
func (c *Client) DeltaQueryStream(ctx context.Context, resource string, opts QueryOptions) (<-chan PageResult, <-chan error) {
	if err := c.checkOpen(); err != nil {
		pages := make(chan PageResult)
		errs := make(chan error, 1)
		errs <- err
		close(pages)
		close(errs)
		return pages, errs
	}
	return c.orch.Stream(ctx, resource, c.applyDefaults(opts))
}

// applyDefaults merges client-level defaults into per-call query options.
func (c *Client) applyDefaults(opts QueryOptions) QueryOptions {
	if opts.PageSize == 0 && c.pageSize > 0 {
		opts.PageSize = c.pageSize
	}
	return opts
}

// ResetDeltaLink deletes the stored delta link for a resource, forcing the
// next run to be a full sync.
func (c *Client) ResetDeltaLink(ctx context.Context, resource string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.orch.ResetToken(ctx, resource)
}

// Close releases the token store. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClientClosed
	}
	return nil
}

// Project transforms one record into a typed directory model. Absent fields
// are tolerated.
func Project[T any](rec Record) (T, error) {
	return services.Project[T](rec)
}

// ProjectAll transforms a slice of records, preserving order.
func ProjectAll[T any](records []Record) ([]T, error) {
	return services.ProjectAll[T](records)
}
