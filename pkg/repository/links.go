package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/relation"
)

// AddLink inserts the link table row connecting parent and dependent. Adding
// an existing link is a conflict.
func (ds *DataSource) AddLink(ctx context.Context, parent, dependent entity.Entity) error {
	pt, dt, link, err := ds.linkOf(ctx, parent, dependent)
	if err != nil {
		return err
	}
	pid, did := parent.Record().ID(), dependent.Record().ID()

	exists, err := ds.linkExists(ctx, link, pid, did)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %d is already linked to %s %d", entity.ErrConflict, pt.Name(), pid, dt.Name(), did)
	}

	if _, err := ds.executor.Insert(ctx, link.Table, map[string]interface{}{
		link.ParentColumn:    pid,
		link.DependentColumn: did,
	}); err != nil {
		return entity.NewStoreError("insert", link.Table, err)
	}

	ds.invalidateLink(pt, pid, dt, did)
	parent.Record().ForgetResolved()
	dependent.Record().ForgetResolved()
	dependent.Record().AddLink(pt.Name(), pid)

	pt.Notify(ctx, entity.EventAdded, pid, dependent)
	dt.Notify(ctx, entity.EventAdded, did, parent)
	return nil
}

// RemoveLink deletes the link table row connecting parent and dependent.
// Removing a missing link is a conflict.
func (ds *DataSource) RemoveLink(ctx context.Context, parent, dependent entity.Entity) error {
	pt, dt, link, err := ds.linkOf(ctx, parent, dependent)
	if err != nil {
		return err
	}
	pid, did := parent.Record().ID(), dependent.Record().ID()

	exists, err := ds.linkExists(ctx, link, pid, did)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %d is not linked to %s %d", entity.ErrConflict, pt.Name(), pid, dt.Name(), did)
	}

	if err := ds.executor.Delete(ctx, link.Table,
		db.Condition{Field: link.ParentColumn, Operator: db.Equal, Value: pid},
		db.Condition{Field: link.DependentColumn, Operator: db.Equal, Value: did},
	); err != nil {
		return entity.NewStoreError("delete", link.Table, err)
	}

	ds.invalidateLink(pt, pid, dt, did)
	parent.Record().ForgetResolved()
	dependent.Record().ForgetResolved()
	dependent.Record().RemoveLink(pt.Name(), pid)

	pt.Notify(ctx, entity.EventRemoved, pid, dependent)
	dt.Notify(ctx, entity.EventRemoved, did, parent)
	return nil
}

func (ds *DataSource) linkOf(ctx context.Context, parent, dependent entity.Entity) (*entity.Type, *entity.Type, *relation.Link, error) {
	pt, err := ds.registry.Of(parent)
	if err != nil {
		return nil, nil, nil, err
	}
	dt, err := ds.registry.Of(dependent)
	if err != nil {
		return nil, nil, nil, err
	}
	if parent.Record().IsNew() || dependent.Record().IsNew() {
		return nil, nil, nil, fmt.Errorf("%w: both sides of a link must be saved", entity.ErrConfiguration)
	}

	link, err := ds.resolver.FindLinkTable(ctx, pt, dt)
	if err != nil {
		return nil, nil, nil, err
	}
	if link == nil {
		return nil, nil, nil, fmt.Errorf("%w: no link table between %s and %s", entity.ErrConfiguration, pt.Name(), dt.Name())
	}
	return pt, dt, link, nil
}

func (ds *DataSource) linkExists(ctx context.Context, link *relation.Link, pid, did int64) (bool, error) {
	q := db.NewBuilder(link.Table).
		Select("COUNT(*) AS n").
		Where(link.ParentColumn, db.Equal, pid).
		Where(link.DependentColumn, db.Equal, did)

	rows, err := ds.executor.Select(ctx, q)
	if err != nil {
		return false, entity.NewStoreError("select", link.Table, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	n, _ := entity.ToInt64(rows[0]["n"])
	return n > 0, nil
}

// invalidateLink drops the dependent sets on both sides of a link
func (ds *DataSource) invalidateLink(pt *entity.Type, pid int64, dt *entity.Type, did int64) {
	removed := ds.identity.Invalidate(pt.Name(), pid, dependentsSegment, dt.Name(), identity.Wildcard)
	removed += ds.identity.Invalidate(dt.Name(), did, dependentsSegment, pt.Name(), identity.Wildcard)
	ds.logger.Debug("link invalidated",
		zap.String("parent", pt.Name()), zap.Int64("parent_id", pid),
		zap.String("dependent", dt.Name()), zap.Int64("dependent_id", did),
		zap.Int("removed", removed))
}
