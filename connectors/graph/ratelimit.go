package graph

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// ProactiveRate is the default proactive throttle (requests/second).
	ProactiveRate = 4.0

	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"
)

// RateLimiter combines proactive throttling with reactive backoff from
// Retry-After headers.
type RateLimiter struct {
	mu      sync.Mutex
	holdOff time.Time     // earliest time the next request may be sent
	bucket  *rate.Limiter // proactive throttling
}

// NewRateLimiter creates a rate limiter throttling to rps requests/second.
// rps <= 0 selects the default.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = ProactiveRate
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Wait blocks until it's safe to make a request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	holdOff := r.holdOff
	r.mu.Unlock()

	if wait := time.Until(holdOff); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// UpdateFromResponse records a Retry-After directive, if any.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	retryAfter := resp.Header.Get(HeaderRetryAfter)
	if retryAfter == "" {
		return
	}

	var until time.Time
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		until = time.Now().Add(time.Duration(seconds) * time.Second)
	} else if t, err := http.ParseTime(retryAfter); err == nil {
		until = t
	} else {
		return
	}

	r.mu.Lock()
	if until.After(r.holdOff) {
		r.holdOff = until
	}
	r.mu.Unlock()
}

// HoldOffUntil returns the current reactive hold-off deadline.
func (r *RateLimiter) HoldOffUntil() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holdOff
}
