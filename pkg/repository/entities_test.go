package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/entity"
)

func TestGetEntityCachesAbsence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.ds.GetEntity(ctx, "Course", 999)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, 1, f.exec.selects())

	e, err = f.ds.GetEntity(ctx, "Course", 999)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, 1, f.exec.selects())
}

func TestGetEntityErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ds.GetEntity(ctx, "Nope", 1)
	assert.True(t, errors.Is(err, entity.ErrUnknownType))

	_, err = f.ds.GetEntity(ctx, "Ghost", 1)
	assert.True(t, entity.IsStore(err))

	e, err := f.ds.GetEntity(ctx, "Course", 0)
	assert.NoError(t, err)
	assert.Nil(t, e)
}

func TestGetEntityIgnoreColumns(t *testing.T) {
	f := newFixture(t)

	e, err := f.ds.GetEntity(context.Background(), "Course", 1, IgnoreColumns("price", "id"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(1), e.Record().ID())
	assert.Nil(t, e.Record().Get("price"))
	assert.Contains(t, f.exec.queries[0], "SELECT id, title")

	// partial loads stay out of the identity map
	full := f.get(t, "Course", 1)
	assert.NotSame(t, e, full)
	assert.Equal(t, 12.5, full.Record().Get("price"))
}

func TestGetEntitiesQueriesOnlyMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cached := f.get(t, "Course", 2)
	f.exec.reset()

	got, err := f.ds.GetEntities(ctx, "Course", []int64{1, 2, 3, 2})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Same(t, cached, got[2])

	require.Equal(t, 1, f.exec.selects())
	assert.Contains(t, f.exec.queries[0], "id IN (?, ?)")
	assert.Equal(t, []interface{}{int64(1), int64(3)}, f.exec.args[0])

	f.exec.reset()
	again, err := f.ds.GetEntities(ctx, "Course", []int64{1, 3})
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Zero(t, f.exec.selects())
}

func TestGetEntitiesCachesMissingIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.ds.GetEntities(ctx, "Course", []int64{1, 404})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	f.exec.reset()
	got, err = f.ds.GetEntities(ctx, "Course", []int64{404})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, f.exec.selects())
}

func TestGetEntitiesWholeTable(t *testing.T) {
	f := newFixture(t)

	got, err := f.ds.GetEntities(context.Background(), "Instructor", nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Grace", got[6].Record().Get("name"))
}

func TestSaveEntityInsertAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	courseType, _ := f.ds.Registry().Lookup("Course")

	e := courseType.New()
	require.NoError(t, e.Record().Set("title", "Elixir"))
	require.NoError(t, e.Record().Set("price", 19.5))

	saved, err := f.ds.SaveEntity(ctx, e)
	require.NoError(t, err)
	assert.Same(t, e, saved)
	id := e.Record().ID()
	assert.Greater(t, id, int64(10))
	assert.Empty(t, e.Record().Dirty())
	assert.Same(t, e, f.get(t, "Course", id))

	require.NoError(t, e.Record().Set("title", "Elixir 2"))
	assert.Equal(t, []string{"title"}, e.Record().Dirty())
	_, err = f.ds.SaveEntity(ctx, e)
	require.NoError(t, err)

	f.ds.ClearCache()
	fresh := f.get(t, "Course", id)
	assert.Equal(t, "Elixir 2", fresh.Record().Get("title"))
	assert.Equal(t, 19.5, fresh.Record().Get("price"))
}

func TestSaveEntityRoundTripIsClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.get(t, "Course", 1)
	_, err := f.ds.SaveEntity(ctx, c)
	require.NoError(t, err)

	again := f.get(t, "Course", 1)
	assert.Empty(t, again.Record().Dirty())
	assert.Equal(t, "Go", again.Record().Get("title"))
	assert.Equal(t, 12.5, again.Record().Get("price"))
}

func TestSaveEntityInvalidatesDependentSets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.get(t, "Course", 1)

	v, err := f.ds.Dependent(ctx, c, "modules")
	require.NoError(t, err)
	mods := v.([]entity.Entity)
	require.Equal(t, []int64{11, 12, 13, 14, 15}, idsOf(mods))

	f.exec.reset()
	_, err = f.ds.Dependent(ctx, c, "modules")
	require.NoError(t, err)
	assert.Zero(t, f.exec.selects())

	require.NoError(t, mods[0].Record().Set("title", "Renamed"))
	_, err = f.ds.SaveEntity(ctx, mods[0])
	require.NoError(t, err)

	f.exec.reset()
	v, err = f.ds.Dependent(ctx, c, "modules")
	require.NoError(t, err)
	assert.Equal(t, 1, f.exec.selects())
	reloaded := v.([]entity.Entity)
	assert.Same(t, mods[0], reloaded[0])
	assert.Equal(t, "Renamed", reloaded[0].Record().Get("title"))
}

func TestSaveEntityHookError(t *testing.T) {
	f := newFixture(t)
	lessonType, _ := f.ds.Registry().Lookup("Lesson")

	_, err := f.ds.SaveEntity(context.Background(), lessonType.New())
	assert.ErrorIs(t, err, errUntitled)
}

func TestSaveEntityResolvesAssignedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	courseType, _ := f.ds.Registry().Lookup("Course")
	moduleType, _ := f.ds.Registry().Lookup("Module")

	c := courseType.New()
	require.NoError(t, c.Record().Set("title", "Haskell"))
	m := moduleType.New()
	require.NoError(t, m.Record().Set("title", "Monads"))
	require.NoError(t, m.Record().Set("course", c))

	_, err := f.ds.SaveEntity(ctx, c)
	require.NoError(t, err)
	_, err = f.ds.SaveEntity(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, c.Record().ID(), m.Record().RefID("course"))
	f.ds.ClearCache()
	assert.Equal(t, c.Record().ID(), f.get(t, "Module", m.Record().ID()).Record().RefID("course"))
}

func TestReferenceNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	moduleType, _ := f.ds.Registry().Lookup("Module")

	m := moduleType.New()
	require.NoError(t, m.Record().Set("title", "Extra"))
	require.NoError(t, m.Record().Set("courseId", int64(1)))
	_, err := f.ds.SaveEntity(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []string{"added:1:Module"}, f.events)

	f.events = nil
	require.NoError(t, m.Record().Set("courseId", int64(2)))
	_, err = f.ds.SaveEntity(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []string{"removed:1:Module", "added:2:Module"}, f.events)

	f.events = nil
	require.NoError(t, m.Record().Set("title", "Extra 2"))
	_, err = f.ds.SaveEntity(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []string{"updated:2:Module"}, f.events)

	f.events = nil
	require.NoError(t, f.ds.DeleteEntity(ctx, m))
	assert.Equal(t, []string{"removed:2:Module"}, f.events)
}

func TestUpdateEntities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.get(t, "Module", 11), f.get(t, "Module", 12)

	require.NoError(t, f.ds.UpdateEntities(ctx, []entity.Entity{a, b}, map[string]any{"position": int64(9)}))
	assert.Equal(t, int64(9), a.Record().Get("position"))
	assert.Empty(t, a.Record().Dirty())
	assert.Same(t, a, f.get(t, "Module", 11))

	f.ds.ClearCache()
	assert.Equal(t, int64(9), f.get(t, "Module", 12).Record().Get("position"))

	err := f.ds.UpdateEntities(ctx, []entity.Entity{a}, map[string]any{"nope": 1})
	assert.True(t, errors.Is(err, entity.ErrUnknownProperty))

	err = f.ds.UpdateEntities(ctx, []entity.Entity{a, f.get(t, "Course", 1)}, map[string]any{"title": "x"})
	assert.True(t, entity.IsConfiguration(err))

	moduleType, _ := f.ds.Registry().Lookup("Module")
	err = f.ds.UpdateEntities(ctx, []entity.Entity{moduleType.New()}, map[string]any{"title": "x"})
	assert.True(t, entity.IsConfiguration(err))
}

func TestUpdateEntitiesMovesReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.get(t, "Module", 15)

	require.NoError(t, f.ds.UpdateEntities(ctx, []entity.Entity{m}, map[string]any{"courseId": int64(3)}))
	assert.Equal(t, int64(3), m.Record().RefID("course"))

	count, err := f.ds.Dependent(ctx, f.get(t, "Course", 3), "moduleCount")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.get(t, "Lesson", 103)

	require.NoError(t, f.ds.DeleteEntity(ctx, l))
	gone, err := f.ds.GetEntity(ctx, "Lesson", 103)
	require.NoError(t, err)
	assert.Nil(t, gone)

	lessonType, _ := f.ds.Registry().Lookup("Lesson")
	assert.NoError(t, f.ds.DeleteEntity(ctx, lessonType.New()))
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the foreign key on module.course_id is enforced
	moduleType, _ := f.ds.Registry().Lookup("Module")
	m := moduleType.New()
	require.NoError(t, m.Record().Set("title", "Dangling"))
	require.NoError(t, m.Record().Set("courseId", int64(777)))

	_, err := f.ds.SaveEntity(ctx, m)
	require.Error(t, err)
	assert.True(t, entity.IsStore(err))
	assert.True(t, strings.Contains(err.Error(), "module"))
}
