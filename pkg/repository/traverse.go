package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
)

// Load fetches entities by id and eagerly resolves every dotted relationship
// path, e.g. "modules.lessons" or "owner:Instructor.courses". A segment may
// carry a ":Type" hint that overrides the related type.
func (ds *DataSource) Load(ctx context.Context, typeName string, ids []int64, paths ...string) (map[int64]entity.Entity, error) {
	t, err := ds.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	entities, err := ds.GetEntities(ctx, typeName, ids)
	if err != nil {
		return nil, err
	}

	list := make([]entity.Entity, 0, len(entities))
	for _, id := range uniqueIDs(ids) {
		if e, ok := entities[id]; ok {
			list = append(list, e)
		}
	}
	if len(ids) == 0 {
		for _, e := range entities {
			list = append(list, e)
		}
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := ds.loadPath(ctx, t, list, strings.Split(path, ".")); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// loadPath resolves the first segment on every entity and recurses into the
// related entities with the rest of the path
func (ds *DataSource) loadPath(ctx context.Context, t *entity.Type, entities []entity.Entity, segments []string) error {
	if len(segments) == 0 || len(entities) == 0 {
		return nil
	}
	name, hint := splitSegment(segments[0])

	p, ok := t.Resolve(name)
	if ok && p.Kind == entity.KindReferenceID {
		// a reference may be addressed through its shadow id
		name = p.Reference
		p, ok = t.Resolve(name)
	}
	if !ok || (p.Kind != entity.KindReference && p.Kind != entity.KindDependent) {
		return fmt.Errorf("%w: %s has no relationship %q", entity.ErrConfiguration, t.Name(), segments[0])
	}

	target := p.Target
	if hint != "" {
		target = hint
	}
	related, err := ds.registry.Lookup(target)
	if err != nil {
		return err
	}

	var next []entity.Entity
	if p.Kind == entity.KindReference {
		next, err = ds.loadReferences(ctx, related, name, entities)
	} else {
		next, err = ds.loadDependents(ctx, t, related, name, *p.Dependent, entities)
	}
	if err != nil {
		return err
	}
	return ds.loadPath(ctx, related, next, segments[1:])
}

func (ds *DataSource) loadReferences(ctx context.Context, related *entity.Type, name string, entities []entity.Entity) ([]entity.Entity, error) {
	var ids []int64
	for _, e := range entities {
		if id := e.Record().RefID(name); id != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	loaded, err := ds.GetEntities(ctx, related.Name(), ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(loaded))
	var next []entity.Entity
	for _, e := range entities {
		id := e.Record().RefID(name)
		ref, ok := loaded[id]
		if !ok {
			continue
		}
		e.Record().SetRef(name, ref)
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			next = append(next, ref)
		}
	}
	return next, nil
}

func (ds *DataSource) loadDependents(ctx context.Context, t, related *entity.Type, name string, cfg entity.DependentConfig, entities []entity.Entity) ([]entity.Entity, error) {
	ids := make([]int64, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.Record().ID())
	}

	q := QueryFor(name, cfg)
	deps, err := ds.GetDependents(ctx, t.Name(), ids, related.Name(), q)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		e.Record().SetResolved(name, deps.Value(e.Record().ID(), q))
	}
	if q.Count {
		return nil, nil
	}
	return deps.List(), nil
}

func splitSegment(segment string) (name, hint string) {
	if i := strings.IndexByte(segment, ':'); i >= 0 {
		return segment[:i], segment[i+1:]
	}
	return segment, ""
}

// Reference returns the entity a reference points to, loading it when the
// resolved object is missing or no longer matches the shadow id
func (ds *DataSource) Reference(ctx context.Context, e entity.Entity, name string) (entity.Entity, error) {
	t, err := ds.registry.Of(e)
	if err != nil {
		return nil, err
	}
	p, ok := t.Resolve(name)
	if !ok || p.Kind != entity.KindReference {
		return nil, fmt.Errorf("%w: %s has no reference %q", entity.ErrConfiguration, t.Name(), name)
	}

	b := e.Record()
	id := b.RefID(name)
	if id == 0 {
		return nil, nil
	}
	if ref, ok := b.Ref(name); ok && ref != nil && ref.Record().ID() == id {
		return ref, nil
	}

	ref, err := ds.GetEntity(ctx, p.Target, id)
	if err != nil || ref == nil {
		return nil, err
	}
	b.SetRef(name, ref)
	return ref, nil
}

// Dependent returns the value of a declared relationship of e: a list, a
// single entity or a count depending on its declaration. Extra conditions
// narrow the declared ones; such loads are cached separately and not kept on e.
// Values go through the identity map so writes elsewhere are seen.
func (ds *DataSource) Dependent(ctx context.Context, e entity.Entity, name string, extra ...db.Condition) (any, error) {
	t, err := ds.registry.Of(e)
	if err != nil {
		return nil, err
	}
	cfg, ok := t.DependentConfig(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no dependent %q", entity.ErrConfiguration, t.Name(), name)
	}

	b := e.Record()
	// with caching off, eagerly loaded values are the only memo
	if len(extra) == 0 && !ds.identity.Enabled() {
		if v, ok := b.Resolved(name); ok {
			return v, nil
		}
	}

	q := QueryFor(name, cfg)
	q.Where = append(q.Where, extra...)

	var value any
	if b.IsNew() {
		value = zeroValue(q)
	} else {
		deps, err := ds.GetDependents(ctx, t.Name(), []int64{b.ID()}, cfg.Type, q)
		if err != nil {
			return nil, err
		}
		value = deps.Value(b.ID(), q)
	}

	if len(extra) == 0 {
		b.SetResolved(name, value)
	}
	return value, nil
}

// zeroValue is the value of a relationship with no rows
func zeroValue(q DependentQuery) any {
	switch {
	case q.Count:
		return int64(0)
	case q.Single():
		return entity.Entity(nil)
	default:
		return []entity.Entity(nil)
	}
}
