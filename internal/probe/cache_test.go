package probe

import (
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	o := Outcome{OK: true, Format: "mp3", ObservedAt: time.Now()}
	c.Put("http://a/t.mp3", o)

	got, ok := c.Get("http://a/t.mp3")
	if !ok {
		t.Fatal("expected cached outcome")
	}
	if !got.OK || got.Format != "mp3" {
		t.Fatalf("unexpected outcome %+v", got)
	}
	if !c.Fresh(got) {
		t.Fatal("expected outcome to be fresh")
	}

	time.Sleep(60 * time.Millisecond)

	got, ok = c.Get("http://a/t.mp3")
	if !ok {
		t.Fatal("stale value must still be retrievable")
	}
	if c.Fresh(got) {
		t.Fatal("expected outcome to be stale after TTL")
	}
	// The stale lookup dropped the entry.
	if _, ok := c.Get("http://a/t.mp3"); ok {
		t.Fatal("expected lazy eviction after stale lookup")
	}
}

func TestCacheMiss(t *testing.T) {
	c := NewCache(time.Minute)
	if _, ok := c.Get("http://a/none.mp3"); ok {
		t.Fatal("expected miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache got %d", c.Len())
	}
}
