// Package cache provides a small TTL-bounded LRU used to avoid repeated
// mirror-node lookups for account public keys.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AccountKeyInfo is the cached shape of a LedgerClient.AccountKey result.
type AccountKeyInfo struct {
	PublicKey string
	KeyType   string
}

type entry struct {
	value     AccountKeyInfo
	expiresAt time.Time
}

// AccountKeyCache is an LRU cache with a fixed per-entry TTL.
type AccountKeyCache struct {
	ttl time.Duration
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// NewAccountKeyCache constructs a cache holding up to size entries, each
// valid for ttl.
func NewAccountKeyCache(size int, ttl time.Duration) (*AccountKeyCache, error) {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &AccountKeyCache{ttl: ttl, lru: c, now: time.Now}, nil
}

// Get returns the cached info for accountID if present and not expired.
func (c *AccountKeyCache) Get(accountID string) (AccountKeyInfo, bool) {
	e, ok := c.lru.Get(accountID)
	if !ok {
		return AccountKeyInfo{}, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(accountID)
		return AccountKeyInfo{}, false
	}
	return e.value, true
}

// Put stores info for accountID, replacing any existing entry and resetting
// its TTL.
func (c *AccountKeyCache) Put(accountID string, info AccountKeyInfo) {
	c.lru.Add(accountID, entry{value: info, expiresAt: c.now().Add(c.ttl)})
}
