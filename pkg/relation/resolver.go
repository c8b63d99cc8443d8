// Package relation infers how two entity types are connected from the
// foreign keys of their tables.
package relation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/mapping"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// Link is an inferred many-to-many join table
type Link = schema.Link

// Relation describes how dependents of a parent type are reached. Exactly one
// of Link and ForeignKey is set.
type Relation struct {
	Parent    *entity.Type
	Dependent *entity.Type

	// Link is the join table of a many-to-many relationship
	Link *Link

	// ForeignKey is the column of the dependent table holding the parent id
	ForeignKey string
}

// IsLink reports whether the relation goes through a join table
func (r *Relation) IsLink() bool { return r.Link != nil }

// Resolver infers relations from cached schema metadata
type Resolver struct {
	cache  *schema.Cache
	mapper *mapping.Mapper
	logger *zap.Logger
}

// NewResolver creates a resolver on cache. mapper resolves declared
// reference columns; logger may be nil.
func NewResolver(cache *schema.Cache, mapper *mapping.Mapper, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mapper == nil {
		mapper = mapping.New("")
	}
	return &Resolver{cache: cache, mapper: mapper, logger: logger}
}

// Resolve returns the relation from parent to dependent: a link table when
// one exists, otherwise the direct foreign key on the dependent table
func (r *Resolver) Resolve(ctx context.Context, parent, dependent *entity.Type) (*Relation, error) {
	link, err := r.FindLinkTable(ctx, parent, dependent)
	if err != nil {
		return nil, err
	}
	if link != nil {
		return &Relation{Parent: parent, Dependent: dependent, Link: link}, nil
	}

	fk, err := r.ParentKey(ctx, parent, dependent)
	if err != nil {
		return nil, err
	}
	return &Relation{Parent: parent, Dependent: dependent, ForeignKey: fk}, nil
}

// FindLinkTable returns the join table connecting parent and dependent, nil
// when they are not in a many-to-many relationship. Results, including nil,
// are cached per ordered table pair.
func (r *Resolver) FindLinkTable(ctx context.Context, parent, dependent *entity.Type) (*Link, error) {
	parentTable, dependentTable := parent.TableName(), dependent.TableName()

	if link, ok := r.cache.Link(ctx, parentTable, dependentTable); ok {
		return link, nil
	}

	link, err := r.inferLink(ctx, parent, dependent)
	if err != nil {
		return nil, err
	}

	r.cache.SaveLink(ctx, parentTable, dependentTable, link)
	if link != nil {
		r.logger.Debug("link table inferred",
			zap.String("parent", parentTable),
			zap.String("dependent", dependentTable),
			zap.String("link", link.Table))
	}
	return link, nil
}

func (r *Resolver) inferLink(ctx context.Context, parent, dependent *entity.Type) (*Link, error) {
	parentTable, dependentTable := parent.TableName(), dependent.TableName()

	parentRefs, err := r.cache.ReferencingTables(ctx, parentTable)
	if err != nil {
		return nil, err
	}
	dependentRefs, err := r.cache.ReferencingTables(ctx, dependentTable)
	if err != nil {
		return nil, err
	}
	if len(parentRefs) == 0 || len(dependentRefs) == 0 {
		return nil, nil
	}

	// a direct reference in either direction is not a many-to-many link
	if contains(parentRefs, dependentTable) || contains(dependentRefs, parentTable) {
		return nil, nil
	}

	candidates := intersect(parentRefs, dependentRefs)
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return r.linkColumns(ctx, candidates[0], parentTable, dependentTable)
	}

	needle := strings.ToLower(dependent.Name())
	var filtered []string
	for _, c := range candidates {
		if strings.Contains(c, needle) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) != 1 {
		return nil, &entity.AmbiguousLinkError{
			Parent:     parent.Name(),
			Dependent:  dependent.Name(),
			Candidates: candidates,
		}
	}
	return r.linkColumns(ctx, filtered[0], parentTable, dependentTable)
}

// linkColumns finds the columns of the join table referencing each side. When
// both sides are the same table the first column goes to the parent.
func (r *Resolver) linkColumns(ctx context.Context, table, parentTable, dependentTable string) (*Link, error) {
	keys, err := r.cache.Outbound(ctx, table)
	if err != nil {
		return nil, err
	}

	link := &Link{Table: table}
	for _, fk := range keys {
		switch {
		case fk.ReferencedTable == parentTable && link.ParentColumn == "":
			link.ParentColumn = fk.Column
		case fk.ReferencedTable == dependentTable && link.DependentColumn == "":
			link.DependentColumn = fk.Column
		}
	}

	if link.ParentColumn == "" || link.DependentColumn == "" {
		return nil, fmt.Errorf("%w: link table %s lacks a foreign key to %s or %s",
			entity.ErrConfiguration, table, parentTable, dependentTable)
	}
	return link, nil
}

// ParentKey returns the column of the dependent table that holds the parent
// id. A reference declared on the dependent type wins over foreign key
// metadata.
func (r *Resolver) ParentKey(ctx context.Context, parent, dependent *entity.Type) (string, error) {
	columns, err := r.cache.Columns(ctx, dependent.TableName())
	if err != nil {
		return "", err
	}

	refs := dependent.References()
	names := dependent.ReferenceNames()
	for _, name := range names {
		if refs[name] != parent.Name() {
			continue
		}
		if col, ok := r.mapper.ColumnForProperty(dependent, name+"Id", columns); ok {
			return col, nil
		}
	}

	keys, err := r.cache.Outbound(ctx, dependent.TableName())
	if err != nil {
		return "", err
	}
	var matches []db.ForeignKey
	for _, fk := range keys {
		if fk.ReferencedTable == parent.TableName() {
			matches = append(matches, fk)
		}
	}
	if len(matches) > 0 {
		if len(matches) > 1 {
			r.logger.Warn("several foreign keys reference parent, using the first",
				zap.String("parent", parent.TableName()),
				zap.String("dependent", dependent.TableName()),
				zap.String("column", matches[0].Column))
		}
		return matches[0].Column, nil
	}

	// undeclared key: try the naming convention on the parent type name
	property := strings.ToLower(parent.Name()[:1]) + parent.Name()[1:] + "Id"
	if col, ok := r.mapper.ColumnForProperty(dependent, property, columns); ok {
		return col, nil
	}

	return "", fmt.Errorf("%w: no relationship between %s and %s",
		entity.ErrConfiguration, parent.Name(), dependent.Name())
}

func contains(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}

func intersect(a, b []string) []string {
	var out []string
	for _, s := range a {
		if contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}
