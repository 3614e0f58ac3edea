package graph

import "net/url"

// ExtractDeltaToken extracts the opaque delta token from a delta link URL.
// Returns empty string if the link carries none.
func ExtractDeltaToken(link string) string {
	return tokenParam(link, "$deltatoken", "deltatoken")
}

// ExtractSkipToken extracts the opaque skip token from a next-page URL.
// Returns empty string if the link carries none.
func ExtractSkipToken(link string) string {
	return tokenParam(link, "$skiptoken", "skiptoken")
}

func tokenParam(link string, names ...string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}
