package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/identity"
)

// GetOption adjusts a single entity load
type GetOption func(*getOptions)

type getOptions struct {
	existing entity.Entity
	ignore   map[string]struct{}
}

// WithExisting refreshes e from the row instead of creating a new instance.
// The identity map is bypassed for the read.
func WithExisting(e entity.Entity) GetOption {
	return func(o *getOptions) { o.existing = e }
}

// IgnoreColumns leaves columns out of the projection. Partially loaded
// entities are not cached.
func IgnoreColumns(columns ...string) GetOption {
	return func(o *getOptions) {
		if o.ignore == nil {
			o.ignore = make(map[string]struct{}, len(columns))
		}
		for _, c := range columns {
			o.ignore[c] = struct{}{}
		}
	}
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// GetEntity loads one entity by id. A missing row returns nil, nil and the
// absence is cached.
func (ds *DataSource) GetEntity(ctx context.Context, typeName string, id int64, opts ...GetOption) (entity.Entity, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	t, err := ds.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, nil
	}

	if o.existing == nil && len(o.ignore) == 0 {
		if cached, ok := ds.identity.GetEntity(t.Name(), id); ok {
			return cached, nil
		}
	}

	q := db.NewBuilder(t.TableName()).Where("id", db.Equal, id).Limit(1)
	if len(o.ignore) > 0 {
		columns, err := ds.schema.Columns(ctx, t.TableName())
		if err != nil {
			return nil, err
		}
		var projection []string
		for _, c := range columns.Names() {
			if _, skip := o.ignore[c]; !skip || c == "id" {
				projection = append(projection, c)
			}
		}
		q.Select(projection...)
	}

	rows, err := ds.executor.Select(ctx, q)
	if err != nil {
		return nil, entity.NewStoreError("select", t.TableName(), err)
	}
	if len(rows) == 0 {
		if len(o.ignore) == 0 {
			ds.identity.Put(t.Name(), id, identity.EntityEntry(nil))
		}
		return nil, nil
	}

	return ds.materialize(ctx, t, rows[0], o.existing, len(o.ignore) == 0)
}

// GetEntities loads entities by id, querying only the ids the identity map
// does not hold. With no ids the whole table is loaded.
func (ds *DataSource) GetEntities(ctx context.Context, typeName string, ids []int64) (map[int64]entity.Entity, error) {
	t, err := ds.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		rows, err := ds.executor.Select(ctx, db.NewBuilder(t.TableName()).OrderBy("id", false))
		if err != nil {
			return nil, entity.NewStoreError("select", t.TableName(), err)
		}
		return ds.MaterializeMany(ctx, t, rows)
	}

	out := make(map[int64]entity.Entity, len(ids))
	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}

		cached, ok := ds.identity.GetEntity(t.Name(), id)
		switch {
		case !ok:
			missing = append(missing, id)
		case cached != nil:
			out[id] = cached
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	rows, err := ds.executor.Select(ctx, db.NewBuilder(t.TableName()).Where("id", db.In, missing))
	if err != nil {
		return nil, entity.NewStoreError("select", t.TableName(), err)
	}
	loaded, err := ds.MaterializeMany(ctx, t, rows)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		e, ok := loaded[id]
		if !ok {
			ds.identity.Put(t.Name(), id, identity.EntityEntry(nil))
			continue
		}
		out[id] = e
	}
	return out, nil
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// SaveEntity inserts e when it has no id and updates it otherwise. e is
// refreshed from the stored row and returned.
func (ds *DataSource) SaveEntity(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	t, err := ds.registry.Of(e)
	if err != nil {
		return nil, err
	}
	b := e.Record()

	if h, ok := e.(entity.PreSaver); ok {
		if err := h.PreSave(ctx); err != nil {
			return nil, err
		}
	}
	b.SyncRefs()

	columns, err := ds.schema.Columns(ctx, t.TableName())
	if err != nil {
		return nil, err
	}
	row := ds.mapper.ToRow(t, e, columns)
	if m, ok := e.(entity.DataMapper); ok {
		m.MapData(row)
	}

	// reference ids as of the last load, for notifications
	previous := make(map[string]int64)
	for _, name := range t.ReferenceNames() {
		previous[name], _ = entity.ToInt64(b.Original(name + "Id"))
	}

	inserted := b.IsNew()
	if inserted {
		id, err := ds.executor.Insert(ctx, t.TableName(), row)
		if err != nil {
			return nil, entity.NewStoreError("insert", t.TableName(), err)
		}
		b.SetID(id)
	} else if len(row) > 0 {
		if err := ds.executor.Update(ctx, t.TableName(), []int64{b.ID()}, row); err != nil {
			return nil, entity.NewStoreError("update", t.TableName(), err)
		}
	}
	ds.invalidate(t, b.ID())

	if inserted {
		if h, ok := e.(entity.PostInserter); ok {
			if err := h.PostInsert(ctx); err != nil {
				return nil, err
			}
		}
	} else if h, ok := e.(entity.PostUpdater); ok {
		if err := h.PostUpdate(ctx); err != nil {
			return nil, err
		}
	}

	ds.notifyReferences(ctx, t, e, previous, inserted)

	if _, err := ds.GetEntity(ctx, t.Name(), b.ID(), WithExisting(e)); err != nil {
		return nil, err
	}
	return e, nil
}

// notifyReferences tells each referenced type about the change of e. A moved
// reference notifies the old parent of a removal and the new one of an addition.
func (ds *DataSource) notifyReferences(ctx context.Context, t *entity.Type, e entity.Entity, previous map[string]int64, inserted bool) {
	refs := t.References()
	for _, name := range t.ReferenceNames() {
		target, err := ds.registry.Lookup(refs[name])
		if err != nil {
			continue
		}
		current, old := e.Record().RefID(name), previous[name]

		switch {
		case inserted:
			if current != 0 {
				target.Notify(ctx, entity.EventAdded, current, e)
			}
		case current == old:
			if current != 0 {
				target.Notify(ctx, entity.EventUpdated, current, e)
			}
		default:
			if old != 0 {
				target.Notify(ctx, entity.EventRemoved, old, e)
			}
			if current != 0 {
				target.Notify(ctx, entity.EventAdded, current, e)
			}
		}
	}
}

// UpdateEntities writes the same property values to every entity in one
// statement. Entities must share a type and be persisted.
func (ds *DataSource) UpdateEntities(ctx context.Context, entities []entity.Entity, values map[string]any) error {
	if len(entities) == 0 || len(values) == 0 {
		return nil
	}
	t, err := ds.registry.Of(entities[0])
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(entities))
	for _, e := range entities {
		if e.TypeName() != t.Name() {
			return fmt.Errorf("%w: cannot update %s together with %s", entity.ErrConfiguration, e.TypeName(), t.Name())
		}
		if e.Record().IsNew() {
			return fmt.Errorf("%w: cannot bulk update an unsaved %s", entity.ErrConfiguration, t.Name())
		}
		ids = append(ids, e.Record().ID())
	}

	columns, err := ds.schema.Columns(ctx, t.TableName())
	if err != nil {
		return err
	}
	row := make(map[string]any, len(values))
	for name, v := range values {
		p, ok := t.Resolve(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", entity.ErrUnknownProperty, t.Name(), name)
		}
		candidates := ds.mapper.Candidates(t, name)
		matched := false
		for _, c := range candidates {
			if !columns.Has(c) {
				continue
			}
			row[c] = v
			matched = true
			if p.Kind != entity.KindReferenceID {
				break
			}
		}
		if !matched {
			return fmt.Errorf("%w: %s.%s has no column", entity.ErrUnknownProperty, t.Name(), name)
		}
	}

	if err := ds.executor.Update(ctx, t.TableName(), ids, row); err != nil {
		return entity.NewStoreError("update", t.TableName(), err)
	}

	for _, e := range entities {
		b := e.Record()
		for name, v := range values {
			b.Assign(name, v)
		}
		b.Snapshot()
		ds.invalidate(t, b.ID())
		ds.identity.Put(t.Name(), b.ID(), identity.EntityEntry(e))
	}
	ds.logger.Debug("entities updated", zap.String("type", t.Name()), zap.Int("count", len(ids)))
	return nil
}

// DeleteEntity removes the row of e. Unsaved entities are ignored.
func (ds *DataSource) DeleteEntity(ctx context.Context, e entity.Entity) error {
	t, err := ds.registry.Of(e)
	if err != nil {
		return err
	}
	b := e.Record()
	if b.IsNew() {
		return nil
	}

	if h, ok := e.(entity.PreDeleter); ok {
		if err := h.PreDelete(ctx); err != nil {
			return err
		}
	}

	if err := ds.executor.Delete(ctx, t.TableName(), db.Condition{Field: "id", Operator: db.Equal, Value: b.ID()}); err != nil {
		return entity.NewStoreError("delete", t.TableName(), err)
	}
	ds.invalidate(t, b.ID())

	refs := t.References()
	for _, name := range t.ReferenceNames() {
		if id := b.RefID(name); id != 0 {
			if target, err := ds.registry.Lookup(refs[name]); err == nil {
				target.Notify(ctx, entity.EventRemoved, id, e)
			}
		}
	}

	if h, ok := e.(entity.PostDeleter); ok {
		return h.PostDelete(ctx)
	}
	return nil
}
