package ratelimit

import "context"

// Limiter is the interface for rate limiting operations.
//
// Implementations count requests per key in fixed windows: the first
// request opens a window, subsequent requests increment the counter,
// and the counter resets when the window ends. The interface is
// storage-agnostic.
type Limiter interface {
	// Allow records a request identified by key and checks it against
	// the given config. It returns the result of the check and any
	// error that occurred.
	//
	// When the request is denied, RetryAfter in the result indicates
	// how long the client should wait before retrying.
	Allow(ctx context.Context, key string, config Config) (Result, error)
}
