// Package outbound defines the outbound port interfaces for fetching
// pages, transforming content, and verifying credentials.
package outbound

import (
	"context"
	"net/url"

	"github.com/superfetch/superfetch/internal/domain/fetch"
)

// PageFetcher is the outbound port for retrieving a public web page.
// Implementations must re-validate every redirect hop and pin outbound
// connections to addresses that passed the IP blocklist.
type PageFetcher interface {
	// Fetch retrieves u and returns the capped response body. The URL
	// must already have passed validation.
	Fetch(ctx context.Context, u *url.URL) (*fetch.Page, error)
}
