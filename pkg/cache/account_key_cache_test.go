package cache

import (
	"testing"
	"time"
)

func TestAccountKeyCachePutGet(t *testing.T) {
	c, err := NewAccountKeyCache(4, time.Minute)
	if err != nil {
		t.Fatalf("NewAccountKeyCache() error = %v", err)
	}
	c.Put("0.0.1", AccountKeyInfo{PublicKey: "pk1", KeyType: "ED25519"})

	got, ok := c.Get("0.0.1")
	if !ok || got.PublicKey != "pk1" {
		t.Fatalf("Get() = %+v, %v, want pk1 entry", got, ok)
	}
}

func TestAccountKeyCacheMissForUnknownAccount(t *testing.T) {
	c, err := NewAccountKeyCache(4, time.Minute)
	if err != nil {
		t.Fatalf("NewAccountKeyCache() error = %v", err)
	}
	if _, ok := c.Get("0.0.999"); ok {
		t.Fatal("Get() for an account never put should miss")
	}
}

func TestAccountKeyCacheExpiresAfterTTL(t *testing.T) {
	c, err := NewAccountKeyCache(4, time.Minute)
	if err != nil {
		t.Fatalf("NewAccountKeyCache() error = %v", err)
	}
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("0.0.1", AccountKeyInfo{PublicKey: "pk1"})

	c.now = func() time.Time { return now.Add(61 * time.Second) }
	if _, ok := c.Get("0.0.1"); ok {
		t.Fatal("Get() should miss once the entry's TTL has elapsed")
	}
}

func TestAccountKeyCacheEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c, err := NewAccountKeyCache(2, time.Minute)
	if err != nil {
		t.Fatalf("NewAccountKeyCache() error = %v", err)
	}
	c.Put("0.0.1", AccountKeyInfo{PublicKey: "pk1"})
	c.Put("0.0.2", AccountKeyInfo{PublicKey: "pk2"})
	// Touch 0.0.1 so 0.0.2 becomes the least recently used entry.
	c.Get("0.0.1")
	c.Put("0.0.3", AccountKeyInfo{PublicKey: "pk3"})

	if _, ok := c.Get("0.0.2"); ok {
		t.Fatal("expected 0.0.2 to have been evicted at capacity")
	}
	if _, ok := c.Get("0.0.1"); !ok {
		t.Fatal("expected 0.0.1 to survive eviction as the most recently used entry")
	}
	if _, ok := c.Get("0.0.3"); !ok {
		t.Fatal("expected the newly inserted 0.0.3 to be present")
	}
}

func TestAccountKeyCachePutResetsTTL(t *testing.T) {
	c, err := NewAccountKeyCache(4, time.Minute)
	if err != nil {
		t.Fatalf("NewAccountKeyCache() error = %v", err)
	}
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("0.0.1", AccountKeyInfo{PublicKey: "pk1"})

	c.now = func() time.Time { return now.Add(45 * time.Second) }
	c.Put("0.0.1", AccountKeyInfo{PublicKey: "pk1-refreshed"})

	c.now = func() time.Time { return now.Add(90 * time.Second) }
	got, ok := c.Get("0.0.1")
	if !ok || got.PublicKey != "pk1-refreshed" {
		t.Fatalf("Get() = %+v, %v, want the refreshed entry still alive after its TTL reset", got, ok)
	}
}
