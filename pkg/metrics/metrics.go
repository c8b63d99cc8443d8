package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks cache performance statistics. The zero value is ready to use
// and a nil *Metrics ignores every record call.
type Metrics struct {
	// Cache hit/miss counters
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64

	// Operation counters
	getOperations atomic.Uint64
	setOperations atomic.Uint64

	// Timing metrics (in nanoseconds)
	totalGetLatency atomic.Uint64
	totalSetLatency atomic.Uint64

	// Invalidation metrics
	invalidationCount atomic.Uint64
	evictedEntries    atomic.Uint64
}

// New creates a new metrics instance
func New() *Metrics {
	return &Metrics{}
}

// RecordCacheHit increments cache hit counter
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Add(1)
}

// RecordCacheMiss increments cache miss counter
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Add(1)
}

// RecordCacheError increments cache error counter
func (m *Metrics) RecordCacheError() {
	if m == nil {
		return
	}
	m.cacheErrors.Add(1)
}

// RecordGet records a get operation with latency
func (m *Metrics) RecordGet(duration time.Duration) {
	if m == nil {
		return
	}
	m.getOperations.Add(1)
	m.totalGetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordSet records a set operation with latency
func (m *Metrics) RecordSet(duration time.Duration) {
	if m == nil {
		return
	}
	m.setOperations.Add(1)
	m.totalSetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordInvalidation records one invalidation and how many entries it removed
func (m *Metrics) RecordInvalidation(evicted int) {
	if m == nil {
		return
	}
	m.invalidationCount.Add(1)
	m.evictedEntries.Add(uint64(evicted))
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	getOps := m.getOperations.Load()
	setOps := m.setOperations.Load()

	var avgGetLatency, avgSetLatency time.Duration
	if getOps > 0 {
		avgGetLatency = time.Duration(m.totalGetLatency.Load() / getOps)
	}
	if setOps > 0 {
		avgSetLatency = time.Duration(m.totalSetLatency.Load() / setOps)
	}

	return Snapshot{
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheErrors:       m.cacheErrors.Load(),
		CacheHitRate:      hitRate,
		GetOperations:     getOps,
		SetOperations:     setOps,
		AvgGetLatency:     avgGetLatency,
		AvgSetLatency:     avgSetLatency,
		InvalidationCount: m.invalidationCount.Load(),
		EvictedEntries:    m.evictedEntries.Load(),
	}
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.cacheErrors.Store(0)
	m.getOperations.Store(0)
	m.setOperations.Store(0)
	m.totalGetLatency.Store(0)
	m.totalSetLatency.Store(0)
	m.invalidationCount.Store(0)
	m.evictedEntries.Store(0)
}

// Snapshot represents a point-in-time snapshot of metrics
type Snapshot struct {
	// Cache metrics
	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheErrors  uint64  `json:"cache_errors"`
	CacheHitRate float64 `json:"cache_hit_rate"` // Percentage

	// Operation counts
	GetOperations uint64 `json:"get_operations"`
	SetOperations uint64 `json:"set_operations"`

	// Latency metrics
	AvgGetLatency time.Duration `json:"avg_get_latency"`
	AvgSetLatency time.Duration `json:"avg_set_latency"`

	// Invalidation metrics
	InvalidationCount uint64 `json:"invalidation_count"`
	EvictedEntries    uint64 `json:"evicted_entries"`
}
