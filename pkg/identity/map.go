package identity

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/metrics"
)

// Kind tells which field of an Entry holds the value
type Kind uint8

const (
	// KindEntity is a single entity, nil when the absence itself is cached
	KindEntity Kind = iota
	// KindSet is an ordered list of entities
	KindSet
	// KindCount is an aggregate count
	KindCount
	// KindGroups maps parent ids to their ordered dependents
	KindGroups
	// KindCounts maps parent ids to their dependent counts
	KindCounts
)

// Entry is one cached value. Entries are replaced, never merged.
type Entry struct {
	Kind     Kind
	Entity   entity.Entity
	Entities []entity.Entity
	Count    int64
	Groups   map[int64][]entity.Entity
	Counts   map[int64]int64
}

// EntityEntry caches a single entity or its absence
func EntityEntry(e entity.Entity) Entry { return Entry{Kind: KindEntity, Entity: e} }

// SetEntry caches an ordered entity list
func SetEntry(es []entity.Entity) Entry { return Entry{Kind: KindSet, Entities: es} }

// CountEntry caches a count
func CountEntry(n int64) Entry { return Entry{Kind: KindCount, Count: n} }

// GroupsEntry caches dependents grouped by parent id
func GroupsEntry(g map[int64][]entity.Entity) Entry { return Entry{Kind: KindGroups, Groups: g} }

// CountsEntry caches counts grouped by parent id
func CountsEntry(c map[int64]int64) Entry { return Entry{Kind: KindCounts, Counts: c} }

type record struct {
	key   key
	entry Entry
}

// Map is the process-local identity map. Keys are type.id[.segment...].
// Reads share a read lock; puts and invalidation scans hold the write lock for
// their whole duration.
type Map struct {
	mu       sync.RWMutex
	entries  map[string]record
	disabled atomic.Bool
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures a Map
type Option func(*Map)

// WithLogger sets the logger used for dropped writes and invalidations
func WithLogger(l *zap.Logger) Option {
	return func(m *Map) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records hits, misses and invalidations into m
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Map) { m.metrics = mt }
}

// New creates an enabled, empty identity map
func New(opts ...Option) *Map {
	m := &Map{
		entries: make(map[string]record),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the entry stored under (typeName, id, segments...). id may be a
// single id or an id collection.
func (m *Map) Get(typeName string, id any, segments ...string) (Entry, bool) {
	if m.disabled.Load() {
		return Entry{}, false
	}
	k, err := newKey(typeName, id, segments)
	if err != nil {
		return Entry{}, false
	}
	start := time.Now()

	m.mu.RLock()
	rec, ok := m.entries[k.String()]
	m.mu.RUnlock()

	m.metrics.RecordGet(time.Since(start))
	if ok {
		m.metrics.RecordCacheHit()
	} else {
		m.metrics.RecordCacheMiss()
	}
	return rec.entry, ok
}

// Has reports whether a key is cached
func (m *Map) Has(typeName string, id any, segments ...string) bool {
	_, ok := m.Get(typeName, id, segments...)
	return ok
}

// GetEntity returns the cached entity for (typeName, id). The bool is false on
// a miss; a cached absence returns nil, true.
func (m *Map) GetEntity(typeName string, id int64) (entity.Entity, bool) {
	e, ok := m.Get(typeName, id)
	if !ok || e.Kind != KindEntity {
		return nil, false
	}
	return e.Entity, true
}

// Put replaces the entry stored under (typeName, id, segments...)
func (m *Map) Put(typeName string, id any, entry Entry, segments ...string) {
	if m.disabled.Load() {
		return
	}
	k, err := newKey(typeName, id, segments)
	if err != nil {
		m.logger.Warn("identity map put dropped", zap.Error(err))
		return
	}
	start := time.Now()

	m.mu.Lock()
	m.entries[k.String()] = record{key: k, entry: entry}
	m.mu.Unlock()

	m.metrics.RecordSet(time.Since(start))
}

// Invalidate removes cached entries and returns how many were removed.
//
// With no segments the exact key is removed. A lone Wildcard segment removes the
// entity's own entry and every entry that mentions typeName as a later segment,
// which covers all dependent sets that may contain the entity. Segments ending
// in Wildcard remove the entries of typeName whose id covers id (nil matches any
// id) and whose segments start with the ones given.
func (m *Map) Invalidate(typeName string, id any, segments ...string) int {
	n := len(segments)
	switch {
	case n == 0 || segments[n-1] != Wildcard:
		return m.invalidateExact(typeName, id, segments)
	case n == 1:
		return m.invalidateType(typeName, id)
	default:
		return m.invalidateScoped(typeName, id, segments[:n-1])
	}
}

func (m *Map) invalidateExact(typeName string, id any, segments []string) int {
	k, err := newKey(typeName, id, segments)
	if err != nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	if _, ok := m.entries[k.String()]; ok {
		delete(m.entries, k.String())
		removed = 1
	}
	m.metrics.RecordInvalidation(removed)
	return removed
}

func (m *Map) invalidateType(typeName string, id any) int {
	k, err := newKey(typeName, id, nil)
	if err != nil {
		return 0
	}
	own := k.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for s, rec := range m.entries {
		if s == own || rec.key.hasSegment(typeName) {
			delete(m.entries, s)
			removed++
		}
	}
	m.metrics.RecordInvalidation(removed)
	m.logger.Debug("identity map wildcard invalidation",
		zap.String("type", typeName), zap.String("key", own), zap.Int("removed", removed))
	return removed
}

func (m *Map) invalidateScoped(typeName string, id any, prefix []string) int {
	var ids []int64
	if id != nil {
		var err error
		if ids, _, err = normalizeIDs(id); err != nil {
			return 0
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for s, rec := range m.entries {
		if rec.key.typeName != typeName || !rec.key.hasPrefix(prefix) {
			continue
		}
		if id != nil && !coversAny(rec.key, ids) {
			continue
		}
		delete(m.entries, s)
		removed++
	}
	m.metrics.RecordInvalidation(removed)
	m.logger.Debug("identity map scoped invalidation",
		zap.String("type", typeName), zap.Strings("prefix", prefix), zap.Int("removed", removed))
	return removed
}

func coversAny(k key, ids []int64) bool {
	for _, id := range ids {
		if k.covers(id) {
			return true
		}
	}
	return false
}

// Clear removes every entry
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := len(m.entries)
	m.entries = make(map[string]record)
	m.metrics.RecordInvalidation(removed)
}

// Disable clears the map and turns every later read into a miss and every
// later write into a no-op
func (m *Map) Disable() {
	m.disabled.Store(true)
	m.Clear()
}

// Enable turns caching back on
func (m *Map) Enable() {
	m.disabled.Store(false)
}

// Enabled reports whether the map caches
func (m *Map) Enabled() bool {
	return !m.disabled.Load()
}

// Len returns the number of cached entries
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns the rendered keys currently cached, in no particular order
func (m *Map) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns the recorded metrics
func (m *Map) Stats() metrics.Snapshot {
	return m.metrics.Snapshot()
}
