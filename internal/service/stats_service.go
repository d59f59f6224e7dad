package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/superfetch/superfetch/internal/domain/fetch"
)

// StatsService tracks fetch pipeline statistics using lock-free atomic
// counters. All counter operations are safe for concurrent access from
// multiple goroutines. The HTTP transport exposes the snapshot through
// the verbose health payload and bridges it into Prometheus.
type StatsService struct {
	fetchesOK   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	rateLimited atomic.Int64

	fetchNanos     atomic.Int64
	transformNanos atomic.Int64
	transformCount atomic.Int64

	// Per-code failure counters (mutex-protected map).
	mu          sync.Mutex
	errorCounts map[string]int64
}

// NewStatsService creates a StatsService with all counters at zero.
func NewStatsService() *StatsService {
	return &StatsService{
		errorCounts: make(map[string]int64),
	}
}

// RecordFetchOK counts one successful fetch and its total duration.
func (s *StatsService) RecordFetchOK(d time.Duration) {
	s.fetchesOK.Add(1)
	s.fetchNanos.Add(int64(d))
}

// RecordFetchError counts one failed fetch under its taxonomy code.
func (s *StatsService) RecordFetchError(code fetch.Code) {
	s.mu.Lock()
	s.errorCounts[string(code)]++
	s.mu.Unlock()
}

// RecordCacheHit counts one content cache hit.
func (s *StatsService) RecordCacheHit() {
	s.cacheHits.Add(1)
}

// RecordCacheMiss counts one content cache miss.
func (s *StatsService) RecordCacheMiss() {
	s.cacheMisses.Add(1)
}

// RecordRateLimited counts one request rejected by the rate limiter.
func (s *StatsService) RecordRateLimited() {
	s.rateLimited.Add(1)
}

// RecordTransform counts one pool transform and its duration.
func (s *StatsService) RecordTransform(d time.Duration) {
	s.transformCount.Add(1)
	s.transformNanos.Add(int64(d))
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	FetchesOK     int64            `json:"fetches_ok"`
	FetchErrors   map[string]int64 `json:"fetch_errors"`
	CacheHits     int64            `json:"cache_hits"`
	CacheMisses   int64            `json:"cache_misses"`
	RateLimited   int64            `json:"rate_limited"`
	FetchSeconds  float64          `json:"fetch_seconds_total"`
	Transforms    int64            `json:"transforms"`
	TransformSecs float64          `json:"transform_seconds_total"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	ec := make(map[string]int64, len(s.errorCounts))
	for k, v := range s.errorCounts {
		ec[k] = v
	}
	s.mu.Unlock()

	return Stats{
		FetchesOK:     s.fetchesOK.Load(),
		FetchErrors:   ec,
		CacheHits:     s.cacheHits.Load(),
		CacheMisses:   s.cacheMisses.Load(),
		RateLimited:   s.rateLimited.Load(),
		FetchSeconds:  time.Duration(s.fetchNanos.Load()).Seconds(),
		Transforms:    s.transformCount.Load(),
		TransformSecs: time.Duration(s.transformNanos.Load()).Seconds(),
	}
}
