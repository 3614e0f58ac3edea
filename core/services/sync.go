package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
	"github.com/custodia-labs/deltaq/internal/logger"
)

// DefaultMaxConcurrentRequests caps in-flight page requests per orchestrator.
const DefaultMaxConcurrentRequests = 4

// Orchestrator drives delta-sync runs: it loads the stored continuation
// token, walks the paginated result pages, recovers from an invalidated
// token by falling back to a full sync once, and persists the new terminal
// delta link only after its page has been delivered to the consumer.
//
// One orchestrator may serve concurrent syncs of independent resources; the
// in-flight request limiter is the only shared mutable state.
type Orchestrator struct {
	fetcher driven.PageFetcher
	store   driven.TokenStore // nil means memory-only operation

	limiter        *requestLimiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// Config carries orchestrator tuning. Zero values select defaults.
type Config struct {
	// MaxRetries is the transient-failure attempt ceiling.
	MaxRetries int

	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration

	// MaxConcurrentRequests caps in-flight page requests across all
	// concurrent syncs on this orchestrator.
	MaxConcurrentRequests int
}

// NewOrchestrator creates an orchestrator. The store may be nil, in which
// case no tokens are persisted and every run is a full sync; the caller is
// informed through ChangeSummary.TokenPersisted.
func NewOrchestrator(fetcher driven.PageFetcher, store driven.TokenStore, cfg Config) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	return &Orchestrator{
		fetcher:        fetcher,
		store:          store,
		limiter:        newRequestLimiter(cfg.MaxConcurrentRequests),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// Stream runs a delta sync for one resource and yields pages as they
// arrive: a lazy, finite, single-pass sequence with bounded memory.
// Successful completion is signalled by a *driven.SyncComplete on the error
// channel carrying the final delta link and change summary. The consumer
// may stop reading at any time; tokens are only persisted at page
// boundaries, so early termination never corrupts stored state. A consumer
// abandoning the stream must cancel ctx to release the producing goroutine.
func (o *Orchestrator) Stream(ctx context.Context, resource string, opts domain.QueryOptions) (<-chan domain.PageResult, <-chan error) {
	pages := make(chan domain.PageResult)
	errs := make(chan error, 1)

	go func() {
		defer close(pages)
		defer close(errs)
		o.run(ctx, resource, opts, pages, errs)
	}()

	return pages, errs
}

// Sync runs a delta sync for one resource and materializes the full result:
// every record, the final delta link, and the change summary.
func (o *Orchestrator) Sync(ctx context.Context, resource string, opts domain.QueryOptions) (*domain.SyncResult, error) {
	pages, errs := o.Stream(ctx, resource, opts)

	result := &domain.SyncResult{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if sc, done := driven.IsSyncComplete(err); done {
				result.DeltaLink = sc.DeltaLink
				result.Summary = sc.Summary
				continue
			}
			return nil, err

		case page, ok := <-pages:
			if !ok {
				if errs != nil {
					// Drain the completion sentinel.
					if err, open := <-errs; open {
						if sc, done := driven.IsSyncComplete(err); done {
							result.DeltaLink = sc.DeltaLink
							result.Summary = sc.Summary
						} else if err != nil {
							return nil, err
						}
					}
				}
				return result, nil
			}
			result.Records = append(result.Records, page.Records...)
		}
	}
}

// ResetToken deletes the stored continuation token for a resource,
// forcing the next run to be a full sync.
func (o *Orchestrator) ResetToken(ctx context.Context, resource string) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.Delete(ctx, resource); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	logger.Info("Reset delta link for %s", resource)
	return nil
}

// runState tracks one sync invocation.
type runState struct {
	resource string
	opts     domain.QueryOptions

	summary    domain.ChangeSummary
	yielded    int
	storageUp  bool
	usedStored bool
}

// run executes the sync state machine and reports through the channels.
func (o *Orchestrator) run(ctx context.Context, resource string, opts domain.QueryOptions, pages chan<- domain.PageResult, errs chan<- error) {
	st := &runState{
		resource:  resource,
		opts:      opts,
		storageUp: o.store != nil,
		summary: domain.ChangeSummary{
			RunID:     uuid.NewString(),
			Resource:  resource,
			StartedAt: time.Now().UTC(),
			FullSync:  true,
		},
	}

	// Start: load the stored continuation token unless the caller supplied
	// an explicit resume point.
	resumeLink := ""
	if opts.DeltaToken == "" && !opts.DeltaTokenLatest {
		resumeLink = o.loadStoredLink(ctx, st)
	}

	req := domain.PageRequest{Resource: resource, Options: opts, DeltaLink: resumeLink}
	if resumeLink != "" {
		st.summary.FullSync = false
		st.usedStored = true
		logger.Info("Using stored delta link for %s incremental sync", resource)
	} else if opts.DeltaToken != "" {
		// Caller-supplied resume point: incremental, but not eligible for
		// the stored-token fallback since nothing of ours is stale.
		st.summary.FullSync = false
	}

	invalidations := 0

	for {
		page, err := o.fetchWithRetry(ctx, req)
		if err != nil {
			if domain.IsInvalidToken(err) {
				// TokenInvalidated: recoverable exactly once, and only while
				// nothing has been yielded yet. A later invalidation would
				// force re-yielding records, so it surfaces as fatal.
				if st.usedStored && invalidations == 0 && st.yielded == 0 {
					invalidations++
					o.purgeStoredLink(ctx, st, err)
					st.summary.FullSync = true
					st.usedStored = false
					st.summary.SinceTimestamp = time.Time{}
					req = domain.PageRequest{Resource: resource, Options: opts}
					continue
				}
				err = fmt.Errorf("%w: continuation token rejected with no fallback available: %w",
					domain.ErrFatal, err)
			}
			errs <- err
			return
		}

		records := page.Records
		truncated := false
		if opts.MaxObjects > 0 {
			remaining := opts.MaxObjects - st.yielded
			if len(records) > remaining {
				records = records[:remaining]
				truncated = true
			}
		}

		meta := st.accountPage(records, page, truncated)

		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case pages <- domain.PageResult{Records: records, Meta: meta}:
		}
		st.yielded += len(records)

		// Completing: a terminal delta link from a fully consumed page is
		// persisted; a truncated page's link is discarded so the next run
		// cannot skip the records this run never yielded.
		if page.DeltaLink != "" && !truncated {
			o.persistLink(ctx, st, page.DeltaLink)
			o.finish(st, page.DeltaLink, errs)
			return
		}

		if truncated || (opts.MaxObjects > 0 && st.yielded >= opts.MaxObjects) {
			logger.Info("Reached max objects (%d) for %s, stopping before next page",
				opts.MaxObjects, resource)
			st.summary.Truncated = true
			o.finish(st, "", errs)
			return
		}

		if page.NextLink == "" {
			// No next link and no delta link: the remote considers the run
			// complete but offered no resume point.
			logger.Debug("No delta link returned for %s", resource)
			o.finish(st, "", errs)
			return
		}

		req = domain.PageRequest{Resource: resource, NextLink: page.NextLink}
	}
}

// loadStoredLink fetches the stored delta link and previous sync timestamp.
// Storage failures degrade the run to memory-only with a warning.
func (o *Orchestrator) loadStoredLink(ctx context.Context, st *runState) string {
	if o.store == nil {
		return ""
	}

	link, err := o.store.Get(ctx, st.resource)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ""
		}
		logger.Warn("Token store read failed for %s, continuing without stored state: %v",
			st.resource, err)
		st.storageUp = false
		return ""
	}

	if meta, err := o.store.GetMetadata(ctx, st.resource); err == nil && meta != nil {
		st.summary.SinceTimestamp = meta.LastUpdated
	}
	return link
}

// purgeStoredLink removes an invalidated token before the full-sync
// fallback. A failing store is tolerated; the token is already useless.
func (o *Orchestrator) purgeStoredLink(ctx context.Context, st *runState, cause error) {
	logger.Warn("Delta link for %s rejected by remote (%v), falling back to full sync",
		st.resource, cause)
	if o.store == nil || !st.storageUp {
		return
	}
	if err := o.store.Delete(ctx, st.resource); err != nil {
		logger.Warn("Failed to purge invalid delta link for %s: %v", st.resource, err)
		st.storageUp = false
	}
}

// persistLink durably stores the terminal delta link. Storage failures are
// absorbed: the sync still completes, the token just is not saved.
func (o *Orchestrator) persistLink(ctx context.Context, st *runState, deltaLink string) {
	if o.store == nil {
		logger.Debug("No token store configured, delta link for %s not saved", st.resource)
		return
	}
	if !st.storageUp {
		logger.Warn("Token store degraded, delta link for %s not saved", st.resource)
		return
	}

	metadata := map[string]any{
		"run_id":      st.summary.RunID,
		"total_pages": st.summary.Pages,
		"change_summary": map[string]any{
			"new_or_updated": st.summary.NewOrUpdated,
			"deleted":        st.summary.Deleted,
			"changed":        st.summary.Changed,
			"total":          st.summary.Total(),
		},
		"resource_params": map[string]any{
			"select":    st.opts.Select,
			"filter":    st.opts.Filter,
			"page_size": st.opts.PageSize,
		},
	}

	if err := o.store.Set(ctx, st.resource, deltaLink, metadata); err != nil {
		logger.Warn("Failed to save delta link for %s, sync result is memory-only: %v",
			st.resource, err)
		st.storageUp = false
		return
	}

	st.summary.TokenPersisted = true
	logger.Info("Saved delta link for %s (%d pages, %d changes)",
		st.resource, st.summary.Pages, st.summary.Total())
}

// finish finalises the summary and emits the completion sentinel.
func (o *Orchestrator) finish(st *runState, deltaLink string, errs chan<- error) {
	st.summary.CompletedAt = time.Now().UTC()
	st.summary.Duration = st.summary.CompletedAt.Sub(st.summary.StartedAt)
	logger.Info("%s", st.summary.String())
	errs <- &driven.SyncComplete{DeltaLink: deltaLink, Summary: st.summary}
}

// accountPage updates change counters and builds the page metadata.
func (st *runState) accountPage(records []domain.Record, page *domain.Page, truncated bool) domain.PageMetadata {
	st.summary.Pages++

	meta := domain.PageMetadata{
		Page:           st.summary.Pages,
		ObjectCount:    len(records),
		HasNextPage:    page.NextLink != "",
		Truncated:      truncated,
		SinceTimestamp: st.summary.SinceTimestamp,
	}
	if !truncated {
		meta.DeltaLink = page.DeltaLink
	}

	for _, rec := range records {
		switch rec.ChangeType() {
		case domain.ChangeDeleted:
			meta.PageDeleted++
			st.summary.Deleted++
		case domain.ChangeChanged:
			meta.PageChanged++
			st.summary.Changed++
		default:
			meta.PageNewOrUpdated++
			st.summary.NewOrUpdated++
		}
	}

	meta.TotalNewOrUpdated = st.summary.NewOrUpdated
	meta.TotalDeleted = st.summary.Deleted
	meta.TotalChanged = st.summary.Changed
	return meta
}
