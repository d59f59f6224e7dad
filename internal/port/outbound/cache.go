package outbound

import (
	"github.com/superfetch/superfetch/internal/domain/cache"
)

// ContentCache is the outbound port for the bounded content cache.
type ContentCache interface {
	// Get returns the live entry for key, touching its recency.
	Get(key cache.Key) (*cache.Entry, bool)

	// Set inserts or overwrites the entry, evicting the least recently
	// used entry when the cache is full.
	Set(entry *cache.Entry)

	// Remove deletes the entry for key, if present.
	Remove(key cache.Key) bool

	// Size returns the number of live entries.
	Size() int

	// Subscribe registers a listener for cache events. The returned
	// cancel function drops the listener and closes the channel.
	Subscribe() (events <-chan cache.Event, cancel func())
}
