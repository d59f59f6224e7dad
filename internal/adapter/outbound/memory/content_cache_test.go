package memory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/superfetch/superfetch/internal/domain/cache"
	"go.uber.org/goleak"
)

func testEntry(fingerprint, payload string, ttl time.Duration) *cache.Entry {
	now := time.Now().UTC()
	return &cache.Entry{
		Key:       cache.Key{Namespace: cache.NamespaceMarkdown, Fingerprint: fingerprint},
		Payload:   []byte(payload),
		MIME:      "text/markdown; charset=utf-8",
		Size:      len(payload),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// wantEvent asserts the next buffered event. Cache mutations emit
// synchronously, so the event must already be in the channel.
func wantEvent(t *testing.T, ch <-chan cache.Event, typ cache.EventType, fingerprint string) {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Type != typ || ev.Key.Fingerprint != fingerprint {
			t.Errorf("event = %s %s, want %s %s", ev.Type, ev.Key.Fingerprint, typ, fingerprint)
		}
	default:
		t.Fatalf("no buffered event, want %s %s", typ, fingerprint)
	}
}

func TestContentCache_GetSet(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	entry := testEntry("abc", "# Hello", time.Minute)
	c.Set(entry)

	got, ok := c.Get(entry.Key)
	if !ok {
		t.Fatal("Get() should hit after Set()")
	}
	if string(got.Payload) != "# Hello" {
		t.Errorf("Payload = %q, want %q", got.Payload, "# Hello")
	}
	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1", c.Size())
	}
}

func TestContentCache_Miss(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	key := cache.Key{Namespace: cache.NamespaceMarkdown, Fingerprint: "missing"}
	if _, ok := c.Get(key); ok {
		t.Error("Get() should miss for an unknown key")
	}
}

func TestContentCache_LRUEviction(t *testing.T) {
	t.Parallel()

	c := NewContentCache(2)

	a := testEntry("a", "A", time.Minute)
	b := testEntry("b", "B", time.Minute)
	d := testEntry("d", "D", time.Minute)

	c.Set(a)
	c.Set(b)
	c.Set(d)

	if _, ok := c.Get(a.Key); ok {
		t.Error("Oldest entry should have been evicted")
	}
	if _, ok := c.Get(b.Key); !ok {
		t.Error("Second entry should survive")
	}
	if _, ok := c.Get(d.Key); !ok {
		t.Error("Newest entry should survive")
	}
	if c.Size() != 2 {
		t.Errorf("Size = %d, want 2", c.Size())
	}
}

func TestContentCache_TouchOnHit(t *testing.T) {
	t.Parallel()

	c := NewContentCache(2)

	a := testEntry("a", "A", time.Minute)
	b := testEntry("b", "B", time.Minute)
	d := testEntry("d", "D", time.Minute)

	c.Set(a)
	c.Set(b)

	// Reading a moves it to the front, so b becomes the eviction victim
	if _, ok := c.Get(a.Key); !ok {
		t.Fatal("Get() should hit")
	}
	c.Set(d)

	if _, ok := c.Get(a.Key); !ok {
		t.Error("Recently read entry should survive eviction")
	}
	if _, ok := c.Get(b.Key); ok {
		t.Error("Least recently used entry should have been evicted")
	}
}

func TestContentCache_UpdateMovesToFront(t *testing.T) {
	t.Parallel()

	c := NewContentCache(2)

	c.Set(testEntry("a", "A1", time.Minute))
	c.Set(testEntry("b", "B", time.Minute))

	// Overwriting a refreshes its position and payload
	c.Set(testEntry("a", "A2", time.Minute))
	c.Set(testEntry("d", "D", time.Minute))

	got, ok := c.Get(cache.Key{Namespace: cache.NamespaceMarkdown, Fingerprint: "a"})
	if !ok {
		t.Fatal("Updated entry should survive eviction")
	}
	if string(got.Payload) != "A2" {
		t.Errorf("Payload = %q, want %q", got.Payload, "A2")
	}
	if _, ok := c.Get(cache.Key{Namespace: cache.NamespaceMarkdown, Fingerprint: "b"}); ok {
		t.Error("Stale entry should have been evicted")
	}
}

func TestContentCache_ExpiredPurgedOnAccess(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	expired := testEntry("old", "stale", -time.Minute)
	c.Set(expired)

	if _, ok := c.Get(expired.Key); ok {
		t.Error("Get() should miss for an expired entry")
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d, want 0 after lazy purge", c.Size())
	}
}

func TestContentCache_Remove(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	entry := testEntry("gone", "bye", time.Minute)
	c.Set(entry)

	if !c.Remove(entry.Key) {
		t.Error("Remove() should report a present entry")
	}
	if c.Remove(entry.Key) {
		t.Error("Second Remove() should report absence")
	}
	if _, ok := c.Get(entry.Key); ok {
		t.Error("Get() should miss after Remove()")
	}
}

func TestContentCache_Events(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	ch, cancel := c.Subscribe()
	defer cancel()

	entry := testEntry("ev", "v1", time.Minute)
	c.Set(entry)
	wantEvent(t, ch, cache.EventInserted, "ev")

	c.Set(testEntry("ev", "v2", time.Minute))
	wantEvent(t, ch, cache.EventUpdated, "ev")

	c.Remove(entry.Key)
	wantEvent(t, ch, cache.EventDeleted, "ev")
}

func TestContentCache_EvictionEmitsDeleted(t *testing.T) {
	t.Parallel()

	c := NewContentCache(1)

	ch, cancel := c.Subscribe()
	defer cancel()

	c.Set(testEntry("first", "1", time.Minute))
	wantEvent(t, ch, cache.EventInserted, "first")

	c.Set(testEntry("second", "2", time.Minute))
	wantEvent(t, ch, cache.EventDeleted, "first")
	wantEvent(t, ch, cache.EventInserted, "second")
}

func TestContentCache_LazyPurgeEmitsDeleted(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	ch, cancel := c.Subscribe()
	defer cancel()

	expired := testEntry("old", "stale", -time.Minute)
	c.Set(expired)
	wantEvent(t, ch, cache.EventInserted, "old")

	c.Get(expired.Key)
	wantEvent(t, ch, cache.EventDeleted, "old")
}

func TestContentCache_SubscribeCancel(t *testing.T) {
	t.Parallel()

	c := NewContentCache(10)

	ch, cancel := c.Subscribe()

	c.Set(testEntry("one", "1", time.Minute))

	cancel()
	cancel() // safe to call again

	// Drain the buffered event, then observe the close
	for {
		if _, ok := <-ch; !ok {
			break
		}
	}

	// Mutations after cancel must not panic on the closed channel
	c.Set(testEntry("two", "2", time.Minute))
}

func TestContentCache_SlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	c := NewContentCache(100)

	ch, cancel := c.Subscribe()
	defer cancel()

	// Never read: the buffer fills and further events are dropped
	// instead of blocking the cache.
	for i := 0; i < eventBuffer*3; i++ {
		c.Set(testEntry("k"+strconv.Itoa(i), "v", time.Minute))
	}

	if len(ch) != eventBuffer {
		t.Errorf("Buffered events = %d, want full buffer of %d", len(ch), eventBuffer)
	}
}

func TestContentCacheSweep(t *testing.T) {
	t.Parallel()

	c := NewContentCacheWithConfig(10, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartCleanup(ctx)
	defer c.Stop()

	c.Set(testEntry("short", "soon gone", 60*time.Millisecond))
	c.Set(testEntry("long", "stays", time.Minute))

	time.Sleep(200 * time.Millisecond)

	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1 after sweep", c.Size())
	}
	if _, ok := c.Get(cache.Key{Namespace: cache.NamespaceMarkdown, Fingerprint: "long"}); !ok {
		t.Error("Live entry should survive the sweep")
	}
}

func TestContentCacheNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewContentCacheWithConfig(10, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	c.StartCleanup(ctx)

	c.Set(testEntry("leak", "x", time.Minute))

	time.Sleep(120 * time.Millisecond)

	cancel()
	c.Stop()
}

func TestContentCacheStopMultipleCalls(t *testing.T) {
	t.Parallel()

	c := NewContentCacheWithConfig(10, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.StartCleanup(ctx)

	c.Stop()
	c.Stop()
	c.Stop()
}
