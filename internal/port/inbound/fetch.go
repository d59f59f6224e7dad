// Package inbound defines the inbound port interfaces for the fetch
// core. Inbound adapters (the MCP tool handler, the CLI) call these
// interfaces.
package inbound

import (
	"context"

	"github.com/superfetch/superfetch/internal/domain/cache"
)

// FetchRequest is one fetch-url invocation.
type FetchRequest struct {
	// URL is the page to fetch, exactly as presented by the client.
	URL string
	// SkipNoiseRemoval leaves page chrome in place.
	SkipNoiseRemoval bool
	// ForceRefresh bypasses the content cache for this call.
	ForceRefresh bool
	// MaxInlineChars overrides the configured inline budget when > 0.
	MaxInlineChars int
}

// FetchResult is the tool-facing outcome of a fetch.
type FetchResult struct {
	// URL is the URL that was requested after validation and raw-host
	// rewriting.
	URL string
	// InputURL is the URL exactly as presented.
	InputURL string
	// ResolvedURL is the final URL after redirects.
	ResolvedURL string
	// Title is the extracted page title, if any.
	Title string
	// Markdown is the full converted document.
	Markdown string
	// Truncated reports that Markdown exceeds the inline budget.
	Truncated bool
	// Resource addresses the cached payload, when caching is enabled.
	Resource *cache.Key
	// CacheHit reports that the result was served from the cache.
	CacheHit bool
}

// FetchService is the inbound port for the fetch pipeline.
type FetchService interface {
	// Fetch runs guard, fetch, transform, and cache for one URL.
	// Errors carry a fetch domain code for transport mapping.
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}
