package domain

import "time"

// SyncState is the per-resource entry held in a token store: the terminal
// delta link from the last successful run plus bookkeeping metadata.
// It is created on the first successful sync of a resource, overwritten on
// every subsequent one, and deleted when the token is found invalid.
type SyncState struct {
	// Resource is the collection this state belongs to.
	Resource string `json:"resource"`

	// DeltaLink is the opaque terminal continuation link.
	DeltaLink string `json:"delta_link"`

	// LastUpdated is when this state was last written.
	LastUpdated time.Time `json:"last_updated"`

	// Metadata is an open bag written alongside the link
	// (page counts, change summaries, query parameters).
	Metadata map[string]any `json:"metadata"`
}
