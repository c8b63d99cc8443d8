// Package repository loads, saves and links entities through a Query Executor,
// keeping the identity map consistent with every write.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/mapping"
	"github.com/ammar0144/entity4go/pkg/relation"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// DataSource is the entry point for entity access. It is safe for concurrent
// use; entities it returns are shared by identity and are not.
type DataSource struct {
	registry *entity.Registry
	executor db.Executor
	identity *identity.Map
	schema   *schema.Cache
	mapper   *mapping.Mapper
	resolver *relation.Resolver
	logger   *zap.Logger
}

// Option configures a DataSource
type Option func(*DataSource)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(ds *DataSource) {
		if l != nil {
			ds.logger = l
		}
	}
}

// WithIdentityMap shares an identity map between data sources
func WithIdentityMap(m *identity.Map) Option {
	return func(ds *DataSource) { ds.identity = m }
}

// WithSchemaCache sets the metadata cache. Without one, metadata is read from
// the executor's catalog on every call.
func WithSchemaCache(c *schema.Cache) Option {
	return func(ds *DataSource) { ds.schema = c }
}

// WithMapper sets the property mapper
func WithMapper(m *mapping.Mapper) Option {
	return func(ds *DataSource) { ds.mapper = m }
}

// New creates a data source for the types in registry. Every reference and
// dependent must target a registered type.
func New(registry *entity.Registry, executor db.Executor, opts ...Option) (*DataSource, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry cannot be nil", entity.ErrConfiguration)
	}
	if executor == nil {
		return nil, fmt.Errorf("%w: executor cannot be nil", entity.ErrConfiguration)
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	ds := &DataSource{
		registry: registry,
		executor: executor,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ds)
	}

	if ds.identity == nil {
		ds.identity = identity.New(identity.WithLogger(ds.logger))
	}
	if ds.schema == nil {
		ds.schema = schema.NewCache(executor, schema.Fingerprint{}, schema.WithLogger(ds.logger))
	}
	if ds.mapper == nil {
		ds.mapper = mapping.New("")
	}
	ds.resolver = relation.NewResolver(ds.schema, ds.mapper, ds.logger)
	return ds, nil
}

// Registry returns the registered types
func (ds *DataSource) Registry() *entity.Registry { return ds.registry }

// IdentityMap returns the process-local entity cache
func (ds *DataSource) IdentityMap() *identity.Map { return ds.identity }

// Schema returns the metadata cache
func (ds *DataSource) Schema() *schema.Cache { return ds.schema }

// Resolver returns the relationship resolver
func (ds *DataSource) Resolver() *relation.Resolver { return ds.resolver }

// Export returns e as a map with snake_case keys
func (ds *DataSource) Export(e entity.Entity) (map[string]any, error) {
	t, err := ds.registry.Of(e)
	if err != nil {
		return nil, err
	}
	return ds.mapper.Export(t, e), nil
}

// ============================================================================
// CACHE MANAGEMENT
// ============================================================================

// ClearCache drops every identity map entry
func (ds *DataSource) ClearCache() {
	ds.identity.Clear()
}

// DisableCache clears the identity map and stops caching until EnableCache
func (ds *DataSource) DisableCache() {
	ds.identity.Disable()
}

// EnableCache resumes caching
func (ds *DataSource) EnableCache() {
	ds.identity.Enable()
}

// invalidate drops the entity entry and every dependent set mentioning its type
func (ds *DataSource) invalidate(t *entity.Type, id int64) {
	n := ds.identity.Invalidate(t.Name(), id, identity.Wildcard)
	ds.logger.Debug("entity invalidated",
		zap.String("type", t.Name()), zap.Int64("id", id), zap.Int("removed", n))
}

// ============================================================================
// MATERIALIZATION
// ============================================================================

// Materialize converts row into an entity of type t. A cached instance for
// the row id is returned unchanged unless existing is given, in which case
// existing is refreshed from the row. A nil or empty row yields nil.
func (ds *DataSource) Materialize(ctx context.Context, t *entity.Type, row db.Row, existing entity.Entity) (entity.Entity, error) {
	return ds.materialize(ctx, t, row, existing, true)
}

// MaterializeMany materializes rows keyed by id. Rows without an id are skipped.
func (ds *DataSource) MaterializeMany(ctx context.Context, t *entity.Type, rows []db.Row) (map[int64]entity.Entity, error) {
	out := make(map[int64]entity.Entity, len(rows))
	for _, row := range rows {
		id, ok := rowID(row)
		if !ok {
			continue
		}
		e, err := ds.materialize(ctx, t, row, nil, true)
		if err != nil {
			return nil, err
		}
		out[id] = e
	}
	return out, nil
}

func (ds *DataSource) materialize(ctx context.Context, t *entity.Type, row db.Row, existing entity.Entity, cache bool) (entity.Entity, error) {
	if len(row) == 0 {
		return nil, nil
	}

	id, hasID := rowID(row)
	if hasID && existing == nil {
		if cached, ok := ds.identity.GetEntity(t.Name(), id); ok && cached != nil {
			return cached, nil
		}
	}

	e := existing
	if e == nil {
		e = t.New()
	} else if _, err := ds.registry.Of(e); err != nil {
		return nil, err
	}

	columns, err := ds.schema.Columns(ctx, t.TableName())
	if err != nil {
		return nil, err
	}

	b := e.Record()
	if hasID {
		b.SetID(id)
	}
	for _, f := range ds.mapper.FromRow(t, row, columns) {
		b.Assign(f.Property, f.Value)
	}
	if existing != nil {
		b.ForgetResolved()
	}
	if m, ok := e.(entity.RowMapper); ok {
		m.MapRow(row)
	}
	b.Snapshot()

	if hasID && cache {
		ds.identity.Put(t.Name(), id, identity.EntityEntry(e))
	}
	return e, nil
}

func rowID(row db.Row) (int64, bool) {
	id, ok := entity.ToInt64(row["id"])
	return id, ok && id > 0
}
