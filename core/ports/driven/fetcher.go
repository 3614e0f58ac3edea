package driven

import (
	"context"
	"errors"

	"github.com/custodia-labs/deltaq/core/domain"
)

// PageFetcher performs exactly one page-worth of query against the remote
// system and normalises its result shape. Stateless across calls; the only
// side effect is the outbound request.
//
// Errors are classified through the domain sentinels: domain.ErrInvalidToken
// when the remote rejects the continuation token, domain.ErrTransient for
// retryable conditions, domain.ErrFatal for everything retrying cannot fix.
type PageFetcher interface {
	FetchPage(ctx context.Context, req domain.PageRequest) (*domain.Page, error)
}

// SyncComplete is sent on the stream's error channel when a run finishes
// successfully. It carries the terminal delta link and the run's summary.
type SyncComplete struct {
	// DeltaLink is the terminal continuation link, empty when the run was
	// truncated before one was obtained.
	DeltaLink string

	// Summary is the finalised change summary for the run.
	Summary domain.ChangeSummary
}

// Error implements the error interface so SyncComplete can travel on the
// error channel.
func (SyncComplete) Error() string {
	return "sync complete"
}

// IsSyncComplete checks whether an error is actually a successful
// completion. Returns the SyncComplete and true if it is.
func IsSyncComplete(err error) (*SyncComplete, bool) {
	var sc *SyncComplete
	if errors.As(err, &sc) {
		return sc, true
	}
	return nil, false
}
