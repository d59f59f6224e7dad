package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/superfetch/superfetch/internal/domain/session"
)

// DefaultSweepInterval is how often expired sessions are evicted.
const DefaultSweepInterval = 1 * time.Minute

// MemorySessionStore implements session.Store with an in-memory map.
// Thread-safe for concurrent access. The capacity check in ReserveSlot
// is atomic with the record count, so concurrent session creations
// cannot overshoot the cap. A background sweeper evicts idle sessions
// and closes their transports.
type MemorySessionStore struct {
	records  map[string]*session.Record
	inFlight int
	mu       sync.Mutex

	max int
	ttl time.Duration

	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
	sweepInterval time.Duration
}

// NewSessionStore creates a session store with the default sweep
// interval.
func NewSessionStore(maxSessions int, ttl time.Duration) *MemorySessionStore {
	return NewSessionStoreWithConfig(maxSessions, ttl, DefaultSweepInterval)
}

// NewSessionStoreWithConfig creates a session store with a custom sweep
// interval.
func NewSessionStoreWithConfig(maxSessions int, ttl, sweepInterval time.Duration) *MemorySessionStore {
	if maxSessions <= 0 {
		maxSessions = session.DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	return &MemorySessionStore{
		records:       make(map[string]*session.Record),
		max:           maxSessions,
		ttl:           ttl,
		stopChan:      make(chan struct{}),
		sweepInterval: sweepInterval,
	}
}

// StartCleanup starts the background sweeper goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *MemorySessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep evicts expired sessions and closes their transports. Transports
// are closed outside the lock: Close runs the session's onclose hook,
// which calls back into Remove.
func (s *MemorySessionStore) sweep() {
	evicted := s.EvictExpired()
	for _, rec := range evicted {
		if rec.Transport != nil {
			_ = rec.Transport.Close()
		}
	}
	if len(evicted) > 0 {
		slog.Debug("evicted expired sessions", "count", len(evicted))
	}
}

// Stop stops the background sweeper goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MemorySessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Get returns the record for id. Expired records are reported absent
// but not deleted here; the sweeper handles deletion.
func (s *MemorySessionStore) Get(id string) (*session.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.ExpiredAt(time.Now().UTC(), s.ttl) {
		return nil, false
	}
	return rec, true
}

// Set inserts or replaces the record keyed by its ID.
func (s *MemorySessionStore) Set(rec *session.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// Touch bumps the record's LastSeen. LastSeen never moves backwards.
func (s *MemorySessionStore) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if now := time.Now().UTC(); now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	return true
}

// Remove deletes the record and returns it, if present.
func (s *MemorySessionStore) Remove(id string) (*session.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	delete(s.records, id)
	return rec, true
}

// EvictOldest removes and returns the record with the minimum LastSeen.
// The caller owns closing the record's transport.
func (s *MemorySessionStore) EvictOldest() (*session.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *session.Record
	for _, rec := range s.records {
		if oldest == nil || rec.LastSeen.Before(oldest.LastSeen) {
			oldest = rec
		}
	}
	if oldest == nil {
		return nil, false
	}
	delete(s.records, oldest.ID)
	return oldest, true
}

// EvictExpired removes and returns every record idle longer than the
// store TTL. The caller owns closing the records' transports.
func (s *MemorySessionStore) EvictExpired() []*session.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var evicted []*session.Record
	for id, rec := range s.records {
		if rec.ExpiredAt(now, s.ttl) {
			delete(s.records, id)
			evicted = append(evicted, rec)
		}
	}
	return evicted
}

// Clear removes and returns all records. The caller owns closing the
// records' transports.
func (s *MemorySessionStore) Clear() []*session.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := make([]*session.Record, 0, len(s.records))
	for id, rec := range s.records {
		delete(s.records, id)
		cleared = append(cleared, rec)
	}
	return cleared
}

// Size returns the number of stored records.
func (s *MemorySessionStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ReserveSlot reserves an in-flight slot when record count plus
// reserved slots is below the cap. The returned release function is
// idempotent.
func (s *MemorySessionStore) ReserveSlot() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records)+s.inFlight >= s.max {
		return nil, false
	}
	s.inFlight++

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		})
	}
	return release, true
}

// InFlight returns the number of reserved-but-uninitialized slots.
func (s *MemorySessionStore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Compile-time interface verification.
var _ session.Store = (*MemorySessionStore)(nil)
