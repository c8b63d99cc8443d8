package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot(t *testing.T) {
	m := New()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordGet(10 * time.Millisecond)
	m.RecordGet(30 * time.Millisecond)
	m.RecordInvalidation(4)

	s := m.Snapshot()
	assert.Equal(t, uint64(3), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.Equal(t, 75.0, s.CacheHitRate)
	assert.Equal(t, 20*time.Millisecond, s.AvgGetLatency)
	assert.Equal(t, uint64(1), s.InvalidationCount)
	assert.Equal(t, uint64(4), s.EvictedEntries)

	m.Reset()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestNilMetricsIgnoresRecords(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheHit()
		m.RecordInvalidation(1)
		m.Reset()
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
