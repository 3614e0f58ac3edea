package domain

// QueryOptions shape the initial request of a sync run. They have no effect
// when resuming from a stored link, which already encodes the original
// parameters.
type QueryOptions struct {
	// Select lists the properties to return. Empty means remote default.
	Select []string

	// Filter is an OData filter expression.
	Filter string

	// PageSize is the maximum number of records per page ($top).
	// Zero means remote default.
	PageSize int

	// DeltaToken resumes explicitly from a caller-supplied delta token,
	// overriding any stored link.
	DeltaToken string

	// DeltaTokenLatest requests an empty baseline sync: no records, just a
	// fresh delta link marking "synced as of now".
	DeltaTokenLatest bool

	// MaxObjects truncates consumption once this many records have been
	// yielded. Zero means unlimited. No continuation token is persisted for
	// a truncated page.
	MaxObjects int

	// ExtraParams carries resource-specific query parameters verbatim.
	ExtraParams map[string]string
}

// PageRequest asks the Page Fetcher for exactly one page. Exactly one resume
// mode is active per call: a next link (mid-run), a delta link (incremental
// resume), or neither (fresh sync shaped by Options).
type PageRequest struct {
	// Resource is the collection to query (e.g. "users").
	Resource string

	// Options shape a fresh request. Ignored when a resume link is set.
	Options QueryOptions

	// NextLink is the mid-run pagination link from the previous page.
	NextLink string

	// DeltaLink is the stored terminal link from a previous run.
	DeltaLink string
}

// ResumeLink returns the active resume link, if any.
func (r PageRequest) ResumeLink() string {
	if r.NextLink != "" {
		return r.NextLink
	}
	return r.DeltaLink
}

// HasToken reports whether a continuation token (of either kind) is in
// flight for this request. Used by error classification: a rejected request
// without a token cannot be a token problem.
func (r PageRequest) HasToken() bool {
	return r.NextLink != "" || r.DeltaLink != "" || r.Options.DeltaToken != ""
}
