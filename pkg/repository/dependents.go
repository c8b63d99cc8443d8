package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/relation"
)

const (
	dependentsSegment = "dependents"
	parentIDColumn    = "link_parent_id"
	countColumn       = "dependent_count"
	dependentAlias    = "a"
	linkAlias         = "b"
)

// DependentQuery narrows a dependent load. Limit applies per parent; a limit
// of 1 yields a single entity per parent and Count yields row counts.
type DependentQuery struct {
	// Name is the relationship name the load is cached under
	Name  string         `json:"name,omitempty"`
	Where []db.Condition `json:"where,omitempty"`
	Order []string       `json:"order,omitempty"`
	Limit int            `json:"limit,omitempty"`
	Count bool           `json:"count,omitempty"`
}

// QueryFor builds the query of a declared relationship
func QueryFor(name string, cfg entity.DependentConfig) DependentQuery {
	return DependentQuery{
		Name:  name,
		Where: append([]db.Condition(nil), cfg.Where...),
		Order: append([]string(nil), cfg.Order...),
		Limit: cfg.Limit,
		Count: cfg.Count,
	}
}

// Single reports whether each parent resolves to at most one dependent
func (q DependentQuery) Single() bool { return q.Limit == 1 && !q.Count }

// hash identifies the query in cache keys
func (q DependentQuery) hash() string {
	data, err := json.Marshal(q)
	if err != nil {
		// values that cannot be encoded still get a stable, distinct key
		data = []byte(q.Name + strconv.Itoa(q.Limit) + strconv.FormatBool(q.Count))
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Dependents is the result of a dependent load
type Dependents struct {
	// All holds every distinct dependent keyed by id, Order their ids in
	// first-seen order
	All   map[int64]entity.Entity
	Order []int64

	// ByParent holds each parent's dependents in query order
	ByParent map[int64][]entity.Entity

	// Counts is set for count queries, Single for limit 1 queries
	Counts map[int64]int64
	Single map[int64]entity.Entity
}

func newDependents() *Dependents {
	return &Dependents{
		All:      make(map[int64]entity.Entity),
		ByParent: make(map[int64][]entity.Entity),
	}
}

func (d *Dependents) add(parentID int64, e entity.Entity) {
	d.ByParent[parentID] = append(d.ByParent[parentID], e)
	id := e.Record().ID()
	if _, seen := d.All[id]; !seen {
		d.All[id] = e
		d.Order = append(d.Order, id)
	}
}

// List returns every distinct dependent in first-seen order
func (d *Dependents) List() []entity.Entity {
	out := make([]entity.Entity, 0, len(d.Order))
	for _, id := range d.Order {
		out = append(out, d.All[id])
	}
	return out
}

// Value returns what a parent resolves to: a count, a single entity (possibly
// nil) or a list
func (d *Dependents) Value(parentID int64, q DependentQuery) any {
	switch {
	case q.Count:
		return d.Counts[parentID]
	case q.Single():
		return d.Single[parentID]
	default:
		return d.ByParent[parentID]
	}
}

// GetDependents loads the dependents of each parent id. Cached parents are
// served from the identity map; only the others are queried.
func (ds *DataSource) GetDependents(ctx context.Context, parentType string, parentIDs []int64, dependentType string, q DependentQuery) (*Dependents, error) {
	parent, err := ds.registry.Lookup(parentType)
	if err != nil {
		return nil, err
	}
	dependent, err := ds.registry.Lookup(dependentType)
	if err != nil {
		return nil, err
	}

	ids := uniqueIDs(parentIDs)
	result := newDependents()
	if q.Count {
		result.Counts = make(map[int64]int64, len(ids))
	}
	if q.Single() {
		result.Single = make(map[int64]entity.Entity, len(ids))
	}
	if len(ids) == 0 {
		return result, nil
	}

	segments := []string{dependentsSegment, dependent.Name(), q.hash()}

	if len(ids) > 1 {
		if entry, ok := ds.identity.Get(parent.Name(), ids, segments...); ok {
			ds.fromBatchEntry(result, ids, entry, q)
			return result, nil
		}
	}

	var missing []int64
	for _, id := range ids {
		entry, ok := ds.identity.Get(parent.Name(), id, segments...)
		if !ok {
			missing = append(missing, id)
			continue
		}
		ds.fromParentEntry(result, id, entry)
	}

	if len(missing) > 0 {
		ds.logger.Debug("loading dependents",
			zap.String("parent", parent.Name()),
			zap.String("dependent", dependent.Name()),
			zap.Int64s("ids", missing))

		if err := ds.queryDependents(ctx, parent, dependent, missing, q, result); err != nil {
			return nil, err
		}
		for _, id := range missing {
			ds.identity.Put(parent.Name(), id, parentEntry(result, id, q), segments...)
		}
	}

	if len(ids) > 1 {
		ds.identity.Put(parent.Name(), ids, batchEntry(result, ids, q), segments...)
	}
	return result, nil
}

func (ds *DataSource) queryDependents(ctx context.Context, parent, dependent *entity.Type, ids []int64, q DependentQuery, result *Dependents) error {
	rel, err := ds.resolver.Resolve(ctx, parent, dependent)
	if err != nil {
		return err
	}

	builder, parentColumn := dependentQuery(rel, ids)
	for _, c := range q.Where {
		c.Field = qualify(c.Field)
		builder.WhereConditions(c)
	}

	if q.Count {
		builder.Select(parentColumn+" AS "+parentIDColumn, "COUNT(*) AS "+countColumn).GroupBy(parentColumn)
		rows, err := ds.executor.Select(ctx, builder)
		if err != nil {
			return entity.NewStoreError("select", dependent.TableName(), err)
		}
		for _, row := range rows {
			pid, _ := entity.ToInt64(row[parentIDColumn])
			n, _ := entity.ToInt64(row[countColumn])
			result.Counts[pid] = n
		}
		for _, id := range ids {
			if _, ok := result.Counts[id]; !ok {
				result.Counts[id] = 0
			}
		}
		return nil
	}

	builder.Select(dependentAlias+".*", parentColumn+" AS "+parentIDColumn)
	for _, o := range q.Order {
		builder.OrderByRaw(qualify(o))
	}
	builder.OrderBy(dependentAlias+".id", false)

	rows, err := ds.executor.Select(ctx, builder)
	if err != nil {
		return entity.NewStoreError("select", dependent.TableName(), err)
	}

	perParent := make(map[int64]int, len(ids))
	for _, row := range rows {
		pid, ok := entity.ToInt64(row[parentIDColumn])
		if !ok {
			continue
		}
		// the quota is per parent: later parents still get their rows
		if q.Limit > 0 && perParent[pid] >= q.Limit {
			continue
		}
		delete(row, parentIDColumn)

		e, err := ds.materialize(ctx, dependent, row, nil, true)
		if err != nil {
			return err
		}
		if e == nil {
			continue
		}
		perParent[pid]++
		e.Record().AddLink(parent.Name(), pid)
		result.add(pid, e)
	}

	if q.Single() {
		for _, id := range ids {
			var single entity.Entity
			if list := result.ByParent[id]; len(list) > 0 {
				single = list[0]
			}
			result.Single[id] = single
		}
	}
	return nil
}

// dependentQuery starts the select for rel and returns the expression holding
// the parent id
func dependentQuery(rel *relation.Relation, ids []int64) (*db.Builder, string) {
	builder := db.NewBuilder(rel.Dependent.TableName()).As(dependentAlias)
	if rel.IsLink() {
		parentColumn := linkAlias + "." + rel.Link.ParentColumn
		builder.InnerJoin(
			rel.Link.Table+" AS "+linkAlias,
			linkAlias+"."+rel.Link.DependentColumn+" = "+dependentAlias+".id",
		).Where(parentColumn, db.In, ids)
		return builder, parentColumn
	}

	parentColumn := dependentAlias + "." + rel.ForeignKey
	builder.Where(parentColumn, db.In, ids)
	return builder, parentColumn
}

// qualify prefixes a bare column reference with the dependent alias:
// "position DESC" becomes "a.position DESC"
func qualify(expr string) string {
	expr = strings.TrimSpace(expr)
	field := expr
	if i := strings.IndexByte(expr, ' '); i >= 0 {
		field = expr[:i]
	}
	if field == "" || strings.ContainsAny(field, ".(") {
		return expr
	}
	return dependentAlias + "." + expr
}

func (ds *DataSource) fromParentEntry(result *Dependents, id int64, entry identity.Entry) {
	switch entry.Kind {
	case identity.KindCount:
		result.Counts[id] = entry.Count
	case identity.KindEntity:
		result.Single[id] = entry.Entity
		if entry.Entity != nil {
			result.add(id, entry.Entity)
		}
	case identity.KindSet:
		for _, e := range entry.Entities {
			result.add(id, e)
		}
	}
}

func (ds *DataSource) fromBatchEntry(result *Dependents, ids []int64, entry identity.Entry, q DependentQuery) {
	for _, id := range ids {
		switch entry.Kind {
		case identity.KindCounts:
			result.Counts[id] = entry.Counts[id]
		case identity.KindGroups:
			for _, e := range entry.Groups[id] {
				result.add(id, e)
			}
			if q.Single() {
				var single entity.Entity
				if list := entry.Groups[id]; len(list) > 0 {
					single = list[0]
				}
				result.Single[id] = single
			}
		}
	}
}

func parentEntry(result *Dependents, id int64, q DependentQuery) identity.Entry {
	switch {
	case q.Count:
		return identity.CountEntry(result.Counts[id])
	case q.Single():
		return identity.EntityEntry(result.Single[id])
	default:
		return identity.SetEntry(append([]entity.Entity(nil), result.ByParent[id]...))
	}
}

func batchEntry(result *Dependents, ids []int64, q DependentQuery) identity.Entry {
	if q.Count {
		counts := make(map[int64]int64, len(ids))
		for _, id := range ids {
			counts[id] = result.Counts[id]
		}
		return identity.CountsEntry(counts)
	}
	groups := make(map[int64][]entity.Entity, len(ids))
	for _, id := range ids {
		groups[id] = append([]entity.Entity(nil), result.ByParent[id]...)
	}
	return identity.GroupsEntry(groups)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
