package graph

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/custodia-labs/deltaq/core/domain"
)

// Resource collections supported by the delta endpoint, keyed by their
// lower-cased names.
var resourcePaths = map[string]string{
	"users":             "users",
	"groups":            "groups",
	"applications":      "applications",
	"serviceprincipals": "servicePrincipals",
}

// ResourcePath resolves a resource name (case-insensitive) to its URL path
// segment.
func ResourcePath(resource string) (string, error) {
	path, ok := resourcePaths[strings.ToLower(resource)]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedResource, resource)
	}
	return path, nil
}

// requestURL resolves a page request to the URL to fetch. Resume links
// (next link or delta link) are used verbatim since they already encode the
// original query parameters; only a fresh sync builds a delta URL from the
// query options. The two paths are an explicit decision, not fallback
// control flow.
func requestURL(baseURL string, req domain.PageRequest) (string, error) {
	if req.NextLink != "" && req.DeltaLink != "" {
		return "", fmt.Errorf("%w: page request carries both a next link and a delta link",
			domain.ErrFatal)
	}

	if link := req.ResumeLink(); link != "" {
		return link, nil
	}

	return buildDeltaURL(baseURL, req.Resource, req.Options)
}

// buildDeltaURL shapes the initial delta request for a resource.
func buildDeltaURL(baseURL, resource string, opts domain.QueryOptions) (string, error) {
	path, err := ResourcePath(resource)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	if len(opts.Select) > 0 {
		q.Set("$select", strings.Join(opts.Select, ","))
	}
	if opts.Filter != "" {
		q.Set("$filter", opts.Filter)
	}
	if opts.PageSize > 0 {
		q.Set("$top", strconv.Itoa(opts.PageSize))
	}
	switch {
	case opts.DeltaTokenLatest:
		// Baseline-only sync: no data, just a fresh resume point.
		q.Set("$deltatoken", "latest")
	case opts.DeltaToken != "":
		q.Set("$deltatoken", opts.DeltaToken)
	}
	for k, v := range opts.ExtraParams {
		q.Set(k, v)
	}

	u := strings.TrimSuffix(baseURL, "/") + "/" + path + "/delta"
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u, nil
}
