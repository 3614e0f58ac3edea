// Package graph implements the page fetcher for an OData-style delta
// endpoint: it shapes one request per call (fresh query, next link, or
// delta link), normalises the response into records plus at most one
// continuation link, classifies remote errors into the domain taxonomy,
// and throttles outbound requests.
package graph
