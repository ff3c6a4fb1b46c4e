package template

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(ttl time.Duration, size int) (*Cache, *time.Time) {
	c := NewCache(ttl, size)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func testTmpl(id string) *Template {
	return &Template{ID: id, RunCommand: "npm run dev"}
}

func TestCacheGetSet(t *testing.T) {
	c, _ := newTestCache(time.Minute, 4)

	c.Set("t1", testTmpl("t1"))

	got, ok := c.Get("t1")
	if !ok || got.ID != "t1" {
		t.Fatalf("Get(t1) = %v, %v", got, ok)
	}
	if _, ok := c.Get("t2"); ok {
		t.Error("Get(t2) should miss")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, now := newTestCache(time.Minute, 4)

	c.Set("t1", testTmpl("t1"))
	*now = now.Add(time.Minute + time.Second)

	if _, ok := c.Get("t1"); ok {
		t.Error("expired entry should be absent")
	}
	// Expired entry was removed on access, not just hidden.
	if c.Len() != 0 {
		t.Errorf("Len = %d after expiry, want 0", c.Len())
	}
}

func TestCacheEvictsOldestOnInsert(t *testing.T) {
	c, now := newTestCache(time.Hour, 3)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("t%d", i), testTmpl(fmt.Sprintf("t%d", i)))
		*now = now.Add(time.Second)
	}

	// Access t0 repeatedly; this must NOT refresh its insertion time.
	c.Get("t0")
	c.Get("t0")

	c.Set("t3", testTmpl("t3"))

	if _, ok := c.Get("t0"); ok {
		t.Error("t0 (oldest insert) should have been evicted")
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		if _, ok := c.Get(id); !ok {
			t.Errorf("%s should survive eviction", id)
		}
	}
}

func TestCacheSetExistingDoesNotEvict(t *testing.T) {
	c, now := newTestCache(time.Hour, 2)

	c.Set("t0", testTmpl("t0"))
	*now = now.Add(time.Second)
	c.Set("t1", testTmpl("t1"))
	*now = now.Add(time.Second)

	// Re-inserting a resident id refreshes it without evicting anything.
	c.Set("t0", testTmpl("t0"))

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get("t1"); !ok {
		t.Error("t1 should not have been evicted")
	}
}

func TestCachePrune(t *testing.T) {
	c, now := newTestCache(time.Minute, 8)

	c.Set("old1", testTmpl("old1"))
	c.Set("old2", testTmpl("old2"))
	*now = now.Add(2 * time.Minute)
	c.Set("fresh", testTmpl("fresh"))

	removed := c.Prune()
	if removed != 2 {
		t.Errorf("Prune removed %d, want 2", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should survive prune")
	}
}
