package domain

import "time"

// Page is one normalised page of delta results from the Page Fetcher.
// At most one of NextLink and DeltaLink is set: a next link means more pages
// remain in this run, a delta link means the run is complete and the link is
// the resume point for the next incremental sync.
type Page struct {
	// Records are the raw entities on this page, in remote order.
	Records []Record

	// NextLink is the mid-run pagination link, if more pages remain.
	NextLink string

	// DeltaLink is the terminal continuation link, if the run is complete.
	DeltaLink string
}

// PageMetadata describes one yielded page and the cumulative state of the
// run at that point.
type PageMetadata struct {
	// Page is the 1-based page number within this run.
	Page int

	// ObjectCount is the number of records yielded from this page
	// (after any truncation).
	ObjectCount int

	// HasNextPage reports whether the remote indicated more pages.
	HasNextPage bool

	// DeltaLink is the terminal link carried by this page, if any. Empty
	// when more pages remain or the page was truncated.
	DeltaLink string

	// Truncated reports that the max-object ceiling cut this page short.
	Truncated bool

	// Per-page change counts.
	PageNewOrUpdated int
	PageDeleted      int
	PageChanged      int

	// Cumulative change counts across the run so far.
	TotalNewOrUpdated int
	TotalDeleted      int
	TotalChanged      int

	// SinceTimestamp is the previous successful sync time, when known.
	SinceTimestamp time.Time
}

// TotalObjects returns the cumulative record count across the run so far.
func (m PageMetadata) TotalObjects() int {
	return m.TotalNewOrUpdated + m.TotalDeleted + m.TotalChanged
}

// PageResult pairs one page of records with the run state at that point.
// It is the unit yielded by the streaming interface.
type PageResult struct {
	Records []Record
	Meta    PageMetadata
}
