package main

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheTTL = 24 * time.Hour

// cacheEntry is a cached metrics record and the time it stops being valid
type cacheEntry struct {
	record  MetricsRecord
	expires time.Time
}

// metricsCache holds normalized ALM records keyed by article identifier.
// Expired entries read as misses. Size bounds the number of entries kept;
// least recently used ones go first. It is safe for concurrent use.
type metricsCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// newMetricsCache creates a cache holding at most size records for ttl each.
// now may be nil, in which case time.Now is used.
func newMetricsCache(size int, ttl time.Duration, now func() time.Time) (*metricsCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &metricsCache{entries: entries, ttl: ttl, now: now}, nil
}

// normalizeID folds an article identifier for comparison. DOIs are case
// insensitive, and ALM does not always echo the case it was sent.
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func cacheKey(id string) string {
	return normalizeID(id) + ".alm"
}

// Get returns the cached record for id if there is one and it has not expired
func (mc *metricsCache) Get(id string) (MetricsRecord, bool) {
	entry, ok := mc.entries.Get(cacheKey(id))
	if !ok || !mc.now().Before(entry.expires) {
		return MetricsRecord{}, false
	}
	return entry.record, true
}

// Put stores (or refreshes) the record for id
func (mc *metricsCache) Put(id string, rec MetricsRecord) {
	mc.entries.Add(cacheKey(id), cacheEntry{record: rec, expires: mc.now().Add(mc.ttl)})
}

// Len is the number of entries held, expired ones included
func (mc *metricsCache) Len() int {
	return mc.entries.Len()
}
