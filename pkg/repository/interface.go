package repository

import (
	"context"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
)

// Repository is the entity access interface implemented by DataSource
type Repository interface {
	// Queries (identity map first)
	GetEntity(ctx context.Context, typeName string, id int64, opts ...GetOption) (entity.Entity, error)
	GetEntities(ctx context.Context, typeName string, ids []int64) (map[int64]entity.Entity, error)
	GetDependents(ctx context.Context, parentType string, parentIDs []int64, dependentType string, q DependentQuery) (*Dependents, error)

	// Traversal
	Load(ctx context.Context, typeName string, ids []int64, paths ...string) (map[int64]entity.Entity, error)
	Reference(ctx context.Context, e entity.Entity, name string) (entity.Entity, error)
	Dependent(ctx context.Context, e entity.Entity, name string, extra ...db.Condition) (any, error)

	// Commands (invalidate affected cache entries)
	SaveEntity(ctx context.Context, e entity.Entity) (entity.Entity, error)
	UpdateEntities(ctx context.Context, entities []entity.Entity, values map[string]any) error
	DeleteEntity(ctx context.Context, e entity.Entity) error
	AddLink(ctx context.Context, parent, dependent entity.Entity) error
	RemoveLink(ctx context.Context, parent, dependent entity.Entity) error

	// Cache Management
	ClearCache()
	DisableCache()
	EnableCache()
}

var _ Repository = (*DataSource)(nil)
