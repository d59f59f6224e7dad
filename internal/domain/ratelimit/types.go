// Package ratelimit provides fixed-window rate limiting domain types.
package ratelimit

import (
	"time"
)

// Config defines the fixed-window parameters.
type Config struct {
	// Max is the number of allowed requests per window.
	Max int

	// Window is the length of the counting window.
	Window time.Duration
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the whole-second delay to advertise when the request
	// is denied. Always at least one second when Allowed is false.
	RetryAfter time.Duration

	// ResetAt is when the current window ends and the counter restarts.
	ResetAt time.Time
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// ClientKey returns the limiter key for a client IP.
// Format: "ratelimit:ip:{ip}".
func ClientKey(ip string) string {
	return keyPrefix + ":ip:" + ip
}
