package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
	"github.com/custodia-labs/deltaq/internal/logger"
)

const (
	// DefaultBaseURL is the default delta endpoint root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response body is read for the
	// error message.
	maxErrorBody = 4 << 10
)

// Ensure Fetcher implements the interface.
var _ driven.PageFetcher = (*Fetcher)(nil)

// Fetcher performs one page-worth of delta query per call. Stateless across
// calls apart from rate-limiter bookkeeping.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

// Option configures a Fetcher.
type Option func(*fetcherConfig)

type fetcherConfig struct {
	baseURL     string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	rps         float64
	timeout     time.Duration
}

// WithBaseURL overrides the delta endpoint root.
func WithBaseURL(u string) Option {
	return func(c *fetcherConfig) { c.baseURL = u }
}

// WithTokenSource authenticates outbound requests with the given source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *fetcherConfig) { c.tokenSource = ts }
}

// WithHTTPClient supplies a custom HTTP client. Takes precedence over
// WithTokenSource.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *fetcherConfig) { c.httpClient = hc }
}

// WithRequestRate overrides the proactive throttle (requests/second).
func WithRequestRate(rps float64) Option {
	return func(c *fetcherConfig) { c.rps = rps }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *fetcherConfig) { c.timeout = d }
}

// NewFetcher creates a delta-endpoint page fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	cfg := fetcherConfig{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		if cfg.tokenSource != nil {
			hc = oauth2.NewClient(context.Background(), cfg.tokenSource)
		} else {
			hc = &http.Client{}
		}
		hc.Timeout = cfg.timeout
	}

	return &Fetcher{
		baseURL:    strings.TrimSuffix(cfg.baseURL, "/"),
		httpClient: hc,
		limiter:    NewRateLimiter(cfg.rps),
	}
}

// deltaResponse is the wire shape of one result page.
type deltaResponse struct {
	Value     []domain.Record `json:"value"`
	NextLink  string          `json:"@odata.nextLink"`
	DeltaLink string          `json:"@odata.deltaLink"`
}

// FetchPage issues exactly one request and normalises the result.
func (f *Fetcher) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.Page, error) {
	u, err := requestURL(f.baseURL, req)
	if err != nil {
		return nil, err
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrFatal, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	logger.Debug("GET %s", u)
	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	f.limiter.UpdateFromResponse(resp)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
			URL:        u,
		}
		return nil, classifyStatus(apiErr, req.HasToken())
	}

	var body deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode page: %w", domain.ErrMalformedResponse, err)
	}
	if body.NextLink != "" && body.DeltaLink != "" {
		return nil, fmt.Errorf("%w: page carries both next link and delta link",
			domain.ErrMalformedResponse)
	}

	switch {
	case body.NextLink != "":
		logger.Debug("More pages for %s (skiptoken %s)",
			req.Resource, ExtractSkipToken(body.NextLink))
	case body.DeltaLink != "":
		logger.Debug("Run complete for %s (deltatoken %s)",
			req.Resource, ExtractDeltaToken(body.DeltaLink))
	}

	return &domain.Page{
		Records:   body.Value,
		NextLink:  body.NextLink,
		DeltaLink: body.DeltaLink,
	}, nil
}

// readErrorMessage extracts a short error description from a failed
// response body, tolerating both OData error envelopes and plain text.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		if envelope.Error.Code != "" {
			return envelope.Error.Code + ": " + envelope.Error.Message
		}
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}
