// Package cache defines the content cache entries exposed to MCP
// clients as content-addressed resources.
package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// NamespaceMarkdown holds transformed page markdown.
const NamespaceMarkdown = "markdown"

// DefaultMaxEntries caps the number of cached entries.
const DefaultMaxEntries = 100

// DefaultTTL is how long an entry stays live after insertion.
const DefaultTTL = 5 * time.Minute

// uriPrefix is the scheme-and-authority prefix of cache resource URIs.
const uriPrefix = "superfetch://cache/"

// ErrInvalidURI is returned when a resource URI does not address a
// cache entry.
var ErrInvalidURI = errors.New("invalid cache resource uri")

// Key addresses one cache entry.
type Key struct {
	// Namespace groups entries of one content family.
	Namespace string
	// Fingerprint is the stable hash of the entry's inputs.
	Fingerprint string
}

// URI returns the resource URI for the key, in the form
// superfetch://cache/<namespace>/<fingerprint>.
func (k Key) URI() string {
	return uriPrefix + k.Namespace + "/" + k.Fingerprint
}

// DownloadPath returns the HTTP download route for the key.
func (k Key) DownloadPath() string {
	return "/mcp/downloads/" + k.Namespace + "/" + k.Fingerprint
}

// ParseURI extracts the key from a cache resource URI.
func ParseURI(uri string) (Key, error) {
	rest, ok := strings.CutPrefix(uri, uriPrefix)
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	ns, fp, ok := strings.Cut(rest, "/")
	if !ok || ns == "" || fp == "" || strings.Contains(fp, "/") {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return Key{Namespace: ns, Fingerprint: fp}, nil
}

// Entry is one cached payload.
type Entry struct {
	// Key addresses the entry.
	Key Key
	// Payload is the cached bytes, served verbatim on download.
	Payload []byte
	// MIME is the payload media type.
	MIME string
	// Size is the payload length in bytes.
	Size int
	// Title is the extracted page title, if any. Echoed on cache hits
	// and used to derive the download filename.
	Title string
	// SourceURL is the URL that was fetched, after raw rewriting.
	SourceURL string
	// ResolvedURL is the final URL after redirects.
	ResolvedURL string
	// CreatedAt is when the entry was inserted (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the entry stops being served (UTC).
	ExpiresAt time.Time
}

// RemainingTTL returns the time left before the entry expires at the
// given instant, floored at zero.
func (e *Entry) RemainingTTL(now time.Time) time.Duration {
	if !now.Before(e.ExpiresAt) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

// EventType labels cache subscription events.
type EventType string

const (
	// EventInserted is emitted when a new entry is written.
	EventInserted EventType = "inserted"
	// EventUpdated is emitted when an existing entry is overwritten.
	EventUpdated EventType = "updated"
	// EventDeleted is emitted when an entry is evicted or expires.
	EventDeleted EventType = "deleted"
)

// Event describes a cache mutation for resource subscribers.
type Event struct {
	Type EventType
	Key  Key
}

// Fingerprint derives the stable fingerprint for a canonical URL and
// the transform options that shape its output.
func Fingerprint(canonicalURL string, skipNoiseRemoval bool) string {
	h := xxhash.New()
	_, _ = h.WriteString(canonicalURL)
	_, _ = h.Write([]byte{0}) // separator
	if skipNoiseRemoval {
		_, _ = h.WriteString("raw")
	} else {
		_, _ = h.WriteString("clean")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
