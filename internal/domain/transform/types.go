// Package transform defines the tasks executed by the worker pool that
// turns fetched HTML into markdown, and the pool sizing rules.
package transform

import (
	"net/url"
	"time"
)

// MaxWorkerCap bounds the pool size regardless of configuration.
const MaxWorkerCap = 16

// QueueFactor sizes the task queue per unit of max capacity.
const QueueFactor = 32

// DefaultTaskTimeout bounds a single transform.
const DefaultTaskTimeout = 30 * time.Second

// DefaultMaxInlineChars is the inline markdown budget when the caller
// and the configuration leave it unset.
const DefaultMaxInlineChars = 20000

// Request describes one HTML-to-Markdown transform.
type Request struct {
	// HTML is the page markup to transform.
	HTML []byte
	// URL is the final URL the markup was fetched from.
	URL *url.URL
	// FetchedAt is when the fetch completed (UTC).
	FetchedAt time.Time
	// IncludeMetadata prepends YAML frontmatter to the markdown.
	IncludeMetadata bool
	// SkipNoiseRemoval leaves page chrome in place and bypasses
	// readability extraction.
	SkipNoiseRemoval bool
	// MaxInlineChars marks the response truncated when the markdown
	// exceeds this many characters. Zero disables the check. The
	// returned markdown is never cut; the flag only reports.
	MaxInlineChars int
}

// Response is the outcome of a transform.
type Response struct {
	// Markdown is the converted document, frontmatter included when
	// requested.
	Markdown string
	// Title is the extracted page title, if any.
	Title string
	// Truncated reports that Markdown exceeds the inline budget and
	// should be delivered as a resource link.
	Truncated bool
}

// Stats is a point-in-time snapshot of the worker pool, reported by
// the health endpoint and the metrics collector.
type Stats struct {
	// QueueDepth is the number of tasks waiting for a worker.
	QueueDepth int
	// QueueCapacity is the queue bound; admission past it fails.
	QueueCapacity int
	// Workers is the current number of worker slots.
	Workers int
	// Busy is the number of slots executing a task right now.
	Busy int
	// MaxWorkers is the ceiling the pool may grow to.
	MaxWorkers int
}

// MinCapacity returns the fixed minimum number of workers for the
// given available parallelism.
func MinCapacity(parallelism int) int {
	m := parallelism / 2
	if m > 4 {
		m = 4
	}
	if m < 2 {
		m = 2
	}
	return m
}

// MaxCapacity returns the worker ceiling for the given parallelism and
// the configured limit (zero or negative = unset). The ceiling never
// drops below MinCapacity and never exceeds MaxWorkerCap.
func MaxCapacity(parallelism, configured int) int {
	m := configured
	if m <= 0 {
		m = parallelism
	}
	if m > MaxWorkerCap {
		m = MaxWorkerCap
	}
	if lo := MinCapacity(parallelism); m < lo {
		m = lo
	}
	return m
}

// QueueCapacity returns the task queue bound for a pool with the given
// worker ceiling.
func QueueCapacity(maxCapacity int) int {
	return maxCapacity * QueueFactor
}
