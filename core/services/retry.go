package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/internal/logger"
)

const (
	// DefaultMaxRetries is the default attempt ceiling for transient errors.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the initial backoff delay.
	DefaultRetryBaseDelay = time.Second

	// maxRetryDelay caps the exponential backoff.
	maxRetryDelay = 30 * time.Second
)

// fetchWithRetry invokes the fetcher, retrying transient failures with
// bounded exponential backoff and jitter. Beyond the attempt ceiling the
// last transient error is escalated to fatal. Non-transient errors are
// returned as-is on the first occurrence.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, req domain.PageRequest) (*domain.Page, error) {
	var lastErr error

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(o.retryBaseDelay, attempt)
			logger.Debug("Retrying %s page fetch in %s (attempt %d/%d)",
				req.Resource, delay, attempt, o.maxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		page, err := o.fetchOne(ctx, req)
		if err == nil {
			return page, nil
		}
		if !domain.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: retry ceiling (%d) exceeded: %w",
		domain.ErrFatal, o.maxRetries, lastErr)
}

// fetchOne performs a single fetch under the in-flight limiter.
func (o *Orchestrator) fetchOne(ctx context.Context, req domain.PageRequest) (*domain.Page, error) {
	if err := o.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer o.limiter.Release()
	return o.fetcher.FetchPage(ctx, req)
}

// backoffDelay computes the delay before the given retry attempt:
// base * 2^(attempt-1) plus up to 25% jitter, capped. Doubling stops at the
// cap so large attempt counts cannot overflow the duration.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
