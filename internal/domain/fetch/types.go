package fetch

import (
	"net/url"
	"time"
)

// Fetch limits. These are contract values, not tunables.
const (
	// MaxBodyBytes caps the decoded response body.
	MaxBodyBytes = 10 << 20

	// Timeout is the end-to-end wall clock budget for one fetch,
	// redirects included.
	Timeout = 15 * time.Second

	// MaxRedirects is the number of redirect hops followed. The hop after
	// the last allowed one fails with blocked_redirect.
	MaxRedirects = 5
)

// Page is the result of a successful outbound fetch.
type Page struct {
	// Body is the decoded (UTF-8) response body.
	Body []byte

	// ContentType is the media type without parameters, lowercased.
	ContentType string

	// InputURL is the caller's URL after validation and raw rewriting.
	InputURL *url.URL

	// FinalURL is the URL that produced the body, after redirects.
	FinalURL *url.URL

	// StatusCode is the final HTTP status.
	StatusCode int

	// RawContent marks bodies fetched from raw-content endpoints or served
	// as text/plain or text/markdown; these bypass HTML transformation.
	RawContent bool

	// FetchedAt is when the body finished reading, UTC.
	FetchedAt time.Time
}

// acceptedTypes is the Content-Type allowlist for non-raw URLs. JSON and
// other source types are only reachable through raw-content URLs, which
// bypass this check.
var acceptedTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
	"text/plain":            {},
	"text/markdown":         {},
	"text/xml":              {},
	"application/xml":       {},
}

// AcceptedContentType reports whether mediaType (lowercase, no parameters)
// may be transformed. Raw-content URLs bypass this check.
func AcceptedContentType(mediaType string) bool {
	_, ok := acceptedTypes[mediaType]
	return ok
}

// PassthroughContentType reports whether mediaType is returned as-is
// instead of being run through extraction and conversion.
func PassthroughContentType(mediaType string) bool {
	return mediaType == "text/plain" || mediaType == "text/markdown"
}
