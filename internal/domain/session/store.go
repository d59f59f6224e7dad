package session

// Store provides session persistence plus the in-flight slot counter
// used for admission. Implementations must make the capacity check in
// ReserveSlot atomic with Size so concurrent creations cannot overshoot
// the session cap.
type Store interface {
	// Get returns the record for id, if present and not expired.
	Get(id string) (*Record, bool)

	// Set inserts or replaces the record keyed by its ID. Records enter
	// the store only after their transport has signaled initialized.
	Set(rec *Record)

	// Touch bumps the record's LastSeen. Returns false if id is absent.
	Touch(id string) bool

	// Remove deletes the record and returns it, if present.
	Remove(id string) (*Record, bool)

	// EvictOldest removes and returns the record with the minimum
	// LastSeen, if any.
	EvictOldest() (*Record, bool)

	// EvictExpired removes and returns every record idle longer than
	// the store's TTL.
	EvictExpired() []*Record

	// Clear removes and returns all records.
	Clear() []*Record

	// Size returns the number of stored records.
	Size() int

	// ReserveSlot reserves an in-flight slot when size plus reserved
	// slots is below the session cap. The returned release function is
	// idempotent; it must be called on initialize success and failure
	// alike.
	ReserveSlot() (release func(), ok bool)

	// InFlight returns the number of reserved-but-uninitialized slots.
	InFlight() int
}
