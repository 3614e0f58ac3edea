package deltaq

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/deltaq/core/ports/driven"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL     string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	requestRate float64
	timeout     time.Duration

	fetcher driven.PageFetcher

	store    driven.TokenStore
	storeSet bool

	pageSize              int
	maxRetries            int
	retryBaseDelay        time.Duration
	maxConcurrentRequests int
}

// WithBaseURL overrides the delta endpoint root.
func WithBaseURL(u string) Option {
	return func(c *clientConfig) { c.baseURL = u }
}

// WithTokenSource authenticates outbound requests with the given source.
// Credential acquisition itself is the caller's concern.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *clientConfig) { c.tokenSource = ts }
}

// WithHTTPClient supplies a custom HTTP client, taking precedence over
// WithTokenSource.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithRequestRate overrides the proactive request throttle
// (requests/second).
func WithRequestRate(rps float64) Option {
	return func(c *clientConfig) { c.requestRate = rps }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithPageFetcher replaces the built-in fetcher entirely. Endpoint options
// (base URL, token source, HTTP client, rate, timeout) are ignored.
func WithPageFetcher(f driven.PageFetcher) Option {
	return func(c *clientConfig) { c.fetcher = f }
}

// WithTokenStore selects the token store backend. The default is a
// file-backed store in ./deltalinks.
func WithTokenStore(s driven.TokenStore) Option {
	return func(c *clientConfig) {
		c.store = s
		c.storeSet = true
	}
}

// WithoutStorage disables token persistence: every run is a full sync and
// ChangeSummary.TokenPersisted reports false.
func WithoutStorage() Option {
	return func(c *clientConfig) {
		c.store = nil
		c.storeSet = true
	}
}

// WithPageSize sets the default page size ($top) for syncs whose
// QueryOptions leave it zero.
func WithPageSize(n int) Option {
	return func(c *clientConfig) { c.pageSize = n }
}

// WithMaxRetries sets the transient-failure attempt ceiling.
func WithMaxRetries(n int) Option {
	return func(c *clientConfig) { c.maxRetries = n }
}

// WithRetryBaseDelay sets the initial backoff delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *clientConfig) { c.retryBaseDelay = d }
}

// WithMaxConcurrentRequests caps in-flight page requests across all
// concurrent syncs on the client.
func WithMaxConcurrentRequests(n int) Option {
	return func(c *clientConfig) { c.maxConcurrentRequests = n }
}
