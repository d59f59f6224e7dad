// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/superfetch/superfetch/internal/domain/ratelimit"
)

// windowEntry is the per-key fixed-window counter.
type windowEntry struct {
	count        int
	resetTime    time.Time
	lastAccessed time.Time
}

// MemoryRateLimiter implements ratelimit.Limiter with fixed windows in
// memory. Thread-safe for concurrent access. Includes background
// cleanup to prevent unbounded growth of the per-client table.
type MemoryRateLimiter struct {
	entries         map[string]*windowEntry
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxIdle         time.Duration
}

// NewRateLimiter creates a new in-memory rate limiter with default
// cleanup settings: sweep every minute, evict keys idle for 2 minutes.
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(time.Minute, 2*time.Minute)
}

// NewRateLimiterWithConfig creates a new in-memory rate limiter.
// cleanupInterval is how often the sweeper runs; maxIdle is how long a
// key may go unused before removal (conventionally twice the window).
func NewRateLimiterWithConfig(cleanupInterval, maxIdle time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries:         make(map[string]*windowEntry),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
	}
}

// Allow records a request for key and checks it against config.
// The first request in a window sets the counter to one; later requests
// increment it until the window resets.
func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, config ratelimit.Config) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if config.Max <= 0 {
		config.Max = 1
	}

	e, ok := r.entries[key]
	if !ok || now.After(e.resetTime) {
		e = &windowEntry{count: 1, resetTime: now.Add(config.Window), lastAccessed: now}
		r.entries[key] = e
	} else {
		e.count++
		e.lastAccessed = now
	}

	if e.count > config.Max {
		retry := e.resetTime.Sub(now)
		secs := int64((retry + time.Second - 1) / time.Second)
		if secs < 1 {
			secs = 1
		}
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(secs) * time.Second,
			ResetAt:    e.resetTime,
		}, nil
	}

	return ratelimit.Result{
		Allowed:   true,
		Remaining: config.Max - e.count,
		ResetAt:   e.resetTime,
	}, nil
}

// StartCleanup starts the background sweeper goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes keys idle longer than maxIdle.
func (r *MemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxIdle)
	cleaned := 0

	for key, e := range r.entries {
		if e.lastAccessed.Before(cutoff) {
			delete(r.entries, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.entries))
	}
}

// Stop gracefully stops the sweeper goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*MemoryRateLimiter)(nil)
