package cache

import (
	"testing"
	"time"
)

func TestGetSetInvalidate(t *testing.T) {
	c := New[int](time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("empty cache should miss")
	}
	c.Set("a", 7)
	if v, ok := c.Get("a"); !ok || v != 7 {
		t.Fatalf("expected hit with 7, got %v %v", v, ok)
	}
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("invalidated entry must miss")
	}
}

func TestExpiry(t *testing.T) {
	c := New[string](time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("fresh entry should hit")
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expired entry must miss")
	}
}

func TestZeroTTLDisables(t *testing.T) {
	c := New[int](0)
	c.Set("k", 1)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("zero ttl cache should never hit")
	}
}
