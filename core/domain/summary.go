package domain

import (
	"fmt"
	"time"
)

// ChangeSummary aggregates what one sync run changed. It is created fresh
// per invocation and never persisted by the core itself.
type ChangeSummary struct {
	// RunID uniquely identifies this sync run.
	RunID string

	// Resource is the collection that was synced.
	Resource string

	// NewOrUpdated counts created or modified records.
	NewOrUpdated int

	// Deleted counts permanently deleted records.
	Deleted int

	// Changed counts soft-deleted records.
	Changed int

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time
	CompletedAt time.Time

	// Duration is CompletedAt minus StartedAt.
	Duration time.Duration

	// FullSync reports whether the run retrieved the entire dataset rather
	// than resuming from a stored delta link.
	FullSync bool

	// Pages is the number of pages fetched.
	Pages int

	// Truncated reports that a max-object ceiling stopped the run early.
	Truncated bool

	// TokenPersisted reports whether the terminal delta link was durably
	// stored. False when the run was truncated, storage was absent, or
	// storage degraded mid-run.
	TokenPersisted bool

	// SinceTimestamp is the previous successful sync time for incremental
	// runs, zero for full syncs.
	SinceTimestamp time.Time
}

// Total returns the total number of changes in the run.
func (s ChangeSummary) Total() int {
	return s.NewOrUpdated + s.Deleted + s.Changed
}

// String returns a compact one-line description of the run.
func (s ChangeSummary) String() string {
	kind := "full"
	if !s.FullSync {
		kind = "incremental"
	}
	return fmt.Sprintf(
		"%s sync of %s: %d total changes (%d new/updated, %d deleted, %d changed) in %s",
		kind, s.Resource, s.Total(), s.NewOrUpdated, s.Deleted, s.Changed,
		s.Duration.Round(time.Millisecond),
	)
}

// SyncResult is the materialized outcome of a run: every yielded record,
// the final delta link (empty when the run ended without one), and the
// run's change summary.
type SyncResult struct {
	Records   []Record
	DeltaLink string
	Summary   ChangeSummary
}
