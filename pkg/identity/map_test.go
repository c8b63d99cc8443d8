package identity

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/metrics"
)

type course struct{ entity.Base }

func (*course) TypeName() string { return "Course" }

func newCourse(id int64) *course {
	c := &course{}
	c.SetID(id)
	return c
}

func sortedKeys(m *Map) []string {
	keys := m.Keys()
	sort.Strings(keys)
	return keys
}

func TestKeySerialization(t *testing.T) {
	k, err := newKey("Course", []any{"3", 1, int64(2), 3}, []string{"dependents", "Instructor", "abc"})
	require.NoError(t, err)
	assert.Equal(t, "Course.[1,2,3].dependents.Instructor.abc", k.String())

	k, err = newKey("Course", "10", nil)
	require.NoError(t, err)
	assert.Equal(t, "Course.10", k.String())

	_, err = newKey("Course", 1, []string{"a.b"})
	assert.ErrorIs(t, err, ErrInvalidSegment)
}

func TestStringAndIntIDsShareAKey(t *testing.T) {
	m := New()
	c := newCourse(10)
	m.Put("Course", "10", EntityEntry(c))

	got, ok := m.GetEntity("Course", 10)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestCachedAbsence(t *testing.T) {
	m := New()
	m.Put("Course", 99, EntityEntry(nil))

	got, ok := m.GetEntity("Course", 99)
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestPutReplaces(t *testing.T) {
	m := New()
	m.Put("Course", 1, CountEntry(2), "dependents", "Instructor", "h")
	m.Put("Course", 1, CountEntry(5), "dependents", "Instructor", "h")

	e, ok := m.Get("Course", 1, "dependents", "Instructor", "h")
	require.True(t, ok)
	assert.Equal(t, int64(5), e.Count)
	assert.Equal(t, 1, m.Len())
}

func TestInvalidateExact(t *testing.T) {
	m := New()
	m.Put("Course", 1, EntityEntry(newCourse(1)))
	m.Put("Course", 2, EntityEntry(newCourse(2)))

	assert.Equal(t, 1, m.Invalidate("Course", 1))
	assert.False(t, m.Has("Course", 1))
	assert.True(t, m.Has("Course", 2))
}

func TestInvalidateFullWildcard(t *testing.T) {
	m := New()
	m.Put("Instructor", 5, EntityEntry(nil))
	m.Put("Instructor", 6, EntityEntry(nil))
	m.Put("Course", 10, SetEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", []int64{10, 11}, GroupsEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", 10, SetEntry(nil), "dependents", "Module", "h2")
	m.Put("Instructor", 5, SetEntry(nil), "dependents", "Course", "h3")

	removed := m.Invalidate("Instructor", 5, Wildcard)

	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{
		"Course.10.dependents.Module.h2",
		"Instructor.5.dependents.Course.h3",
		"Instructor.6",
	}, sortedKeys(m))
}

func TestInvalidateScopedWildcard(t *testing.T) {
	m := New()
	m.Put("Course", 10, EntityEntry(newCourse(10)))
	m.Put("Course", 10, SetEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", 10, CountEntry(1), "dependents", "Instructor", "h2")
	m.Put("Course", []int64{10, 12}, GroupsEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", []int64{11, 12}, GroupsEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", 10, SetEntry(nil), "dependents", "Module", "h1")
	m.Put("Course", 11, SetEntry(nil), "dependents", "Instructor", "h1")

	removed := m.Invalidate("Course", 10, "dependents", "Instructor", Wildcard)

	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{
		"Course.10",
		"Course.10.dependents.Module.h1",
		"Course.11.dependents.Instructor.h1",
		"Course.[11,12].dependents.Instructor.h1",
	}, sortedKeys(m))
}

func TestInvalidateScopedAnyID(t *testing.T) {
	m := New()
	m.Put("Course", 10, SetEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", 11, SetEntry(nil), "dependents", "Instructor", "h1")
	m.Put("Course", 11, EntityEntry(nil))

	assert.Equal(t, 2, m.Invalidate("Course", nil, "dependents", Wildcard))
	assert.Equal(t, []string{"Course.11"}, sortedKeys(m))
}

func TestDisable(t *testing.T) {
	m := New()
	m.Put("Course", 1, EntityEntry(newCourse(1)))
	m.Disable()

	assert.False(t, m.Enabled())
	assert.False(t, m.Has("Course", 1))
	m.Put("Course", 2, EntityEntry(newCourse(2)))
	assert.Equal(t, 0, m.Len())

	m.Enable()
	m.Put("Course", 2, EntityEntry(newCourse(2)))
	assert.True(t, m.Has("Course", 2))
}

func TestMetricsRecorded(t *testing.T) {
	mt := metrics.New()
	m := New(WithMetrics(mt))
	m.Put("Course", 1, EntityEntry(nil))
	m.Has("Course", 1)
	m.Has("Course", 2)
	m.Invalidate("Course", 1, Wildcard)

	s := m.Stats()
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.Equal(t, uint64(1), s.EvictedEntries)
}

func TestConcurrentInvalidation(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m.Put("Course", i, SetEntry(nil), "dependents", "Instructor", fmt.Sprintf("h%d", w))
				m.Get("Course", i, "dependents", "Instructor", fmt.Sprintf("h%d", w))
				if i%10 == 0 {
					m.Invalidate("Instructor", i, Wildcard)
				}
			}
		}(w)
	}
	wg.Wait()
	m.Invalidate("Instructor", 0, Wildcard)
	assert.Equal(t, 0, m.Len())
}

func TestFractionalIDsAreRejected(t *testing.T) {
	_, err := newKey("Course", 1.5, nil)
	assert.ErrorIs(t, err, ErrInvalidID)

	k, err := newKey("Course", float64(2), nil)
	require.NoError(t, err)
	assert.Equal(t, "Course.2", k.String())

	m := New()
	m.Put("Course", 1, EntityEntry(newCourse(1)))
	m.Put("Course", 1.5, EntityEntry(newCourse(2)))

	_, ok := m.Get("Course", 1.5)
	assert.False(t, ok)
	got, ok := m.GetEntity("Course", 1)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Record().ID())
}
