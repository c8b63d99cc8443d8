package schema

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/metrics"
)

// Metadata kinds
const (
	MetaColumns  = "columns"
	MetaInbound  = "inbound"
	MetaOutbound = "outbound"
	MetaLink     = "link"
)

// Introspector answers catalog questions about one store
type Introspector interface {
	Columns(ctx context.Context, table string) ([]db.Column, error)
	ForeignKeys(ctx context.Context, table string, dir db.Direction) ([]db.ForeignKey, error)
}

// Fingerprint identifies the store connection metadata belongs to
type Fingerprint struct {
	Host     string
	Port     int
	Database string
	Schema   string
}

// FingerprintOf derives the fingerprint of a database configuration
func FingerprintOf(cfg *db.Config) Fingerprint {
	return Fingerprint{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		Schema:   cfg.SchemaName(),
	}
}

// Key hashes the fingerprint into a short cache key segment
func (f Fingerprint) Key() string {
	raw := strconv.Itoa(f.Port) + ":" + f.Host + "/" + f.Database + ":" + f.Schema
	return strconv.FormatUint(xxhash.Sum64String(raw), 16)
}

// Link is the result of link-table inference: DependentColumn and
// ParentColumn are the columns of Table referencing each side
type Link struct {
	Table           string `msgpack:"table"`
	ParentColumn    string `msgpack:"parent_column"`
	DependentColumn string `msgpack:"dependent_column"`
}

// Cache is the two-tier metadata cache. Values are encoded with msgpack into
// the persistent store; every successful load or save is mirrored into an
// in-process map. Without a persistent store every call goes to the introspector.
type Cache struct {
	introspector Introspector
	store        PersistentStore
	fingerprint  string

	mu    sync.RWMutex
	local map[string]interface{}

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache
type Option func(*Cache)

// WithStore sets the persistent tier
func WithStore(s PersistentStore) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger used for persistent tier failures
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records tier hits and misses into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates a metadata cache for the store identified by fp
func NewCache(introspector Introspector, fp Fingerprint, opts ...Option) *Cache {
	c := &Cache{
		introspector: introspector,
		fingerprint:  fp.Key(),
		local:        make(map[string]interface{}),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint returns the hashed fingerprint all keys are scoped to
func (c *Cache) Fingerprint() string {
	return c.fingerprint
}

func (c *Cache) key(table, kind string) string {
	return c.fingerprint + ":" + table + ":" + kind
}

// Columns returns the columns of table
func (c *Cache) Columns(ctx context.Context, table string) (Columns, error) {
	cols, err := load(ctx, c, c.key(table, MetaColumns), func() ([]db.Column, error) {
		return c.introspector.Columns(ctx, table)
	})
	return Columns(cols), err
}

// Inbound returns the foreign keys of other tables that reference table
func (c *Cache) Inbound(ctx context.Context, table string) ([]db.ForeignKey, error) {
	return load(ctx, c, c.key(table, MetaInbound), func() ([]db.ForeignKey, error) {
		return c.introspector.ForeignKeys(ctx, table, db.Inbound)
	})
}

// Outbound returns the foreign keys declared by table
func (c *Cache) Outbound(ctx context.Context, table string) ([]db.ForeignKey, error) {
	return load(ctx, c, c.key(table, MetaOutbound), func() ([]db.ForeignKey, error) {
		return c.introspector.ForeignKeys(ctx, table, db.Outbound)
	})
}

// ReferencingTables returns the sorted, distinct tables holding a foreign key to table
func (c *Cache) ReferencingTables(ctx context.Context, table string) ([]string, error) {
	keys, err := c.Inbound(ctx, table)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(keys))
	var tables []string
	for _, fk := range keys {
		if _, ok := seen[fk.Table]; ok {
			continue
		}
		seen[fk.Table] = struct{}{}
		tables = append(tables, fk.Table)
	}
	sort.Strings(tables)
	return tables, nil
}

func linkKey(parentTable, dependentTable string) string {
	return parentTable + "|" + dependentTable
}

// Link returns a cached link-table result for the ordered table pair. ok is
// false when nothing is cached; a cached "no link" returns nil, true.
func (c *Cache) Link(ctx context.Context, parentTable, dependentTable string) (*Link, bool) {
	key := c.key(linkKey(parentTable, dependentTable), MetaLink)
	v, ok := lookup[Link](ctx, c, key)
	if !ok {
		return nil, false
	}
	if v.Table == "" {
		return nil, true
	}
	return &v, true
}

// SaveLink caches a link-table result; nil records that no link exists
func (c *Cache) SaveLink(ctx context.Context, parentTable, dependentTable string, link *Link) {
	var v Link
	if link != nil {
		v = *link
	}
	save(ctx, c, c.key(linkKey(parentTable, dependentTable), MetaLink), v)
}

// Flush drops every cached entry of this fingerprint from both tiers
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.local = make(map[string]interface{})
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Purge(ctx, c.fingerprint+":"); err != nil {
		return errors.Wrap(err, "purge persistent metadata")
	}
	return nil
}

// load returns the value under key from the local mirror, then the persistent
// store, then compute. Computed values are saved to the persistent store.
func load[T any](ctx context.Context, c *Cache, key string, compute func() (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, c, key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		var zero T
		return zero, errors.WithMessagef(err, "introspect %s", key)
	}
	save(ctx, c, key, v)
	return v, nil
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T

	c.mu.RLock()
	cached, ok := c.local[key]
	c.mu.RUnlock()
	if ok {
		if v, ok := cached.(T); ok {
			c.metrics.RecordCacheHit()
			return v, true
		}
	}

	if c.store == nil {
		c.metrics.RecordCacheMiss()
		return zero, false
	}

	data, ok, err := c.store.Load(ctx, key)
	if err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn("metadata store load failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		c.metrics.RecordCacheMiss()
		return zero, false
	}

	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn("metadata entry undecodable", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	c.metrics.RecordCacheHit()
	c.mirror(key, v)
	return v, true
}

func save[T any](ctx context.Context, c *Cache, key string, v T) {
	if c.store == nil {
		return
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		c.logger.Warn("metadata entry unencodable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Save(ctx, key, data); err != nil {
		c.metrics.RecordCacheError()
		c.logger.Warn("metadata store save failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.mirror(key, v)
}

func (c *Cache) mirror(key string, v interface{}) {
	c.mu.Lock()
	c.local[key] = v
	c.mu.Unlock()
}

// Stats returns the recorded metrics
func (c *Cache) Stats() metrics.Snapshot {
	return c.metrics.Snapshot()
}

// String describes the cache for logs
func (c *Cache) String() string {
	return fmt.Sprintf("schema.Cache{fingerprint: %s, persistent: %t}", c.fingerprint, c.store != nil)
}
