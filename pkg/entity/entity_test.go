package entity

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCategory struct{ Base }

func (*testCategory) TypeName() string { return "Category" }

type testCourse struct{ Base }

func (*testCourse) TypeName() string { return "Course" }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		NewType("Category", func() Entity { return &testCategory{} }).Properties("name"),
		NewType("Course", func() Entity { return &testCourse{} }).
			Properties("title", "allowSyndication", "label").
			Reference("category", "Category").
			Dependent("instructors", DependentConfig{Type: "Category"}).
			Accessor("label", Accessor{
				Get: func(e Entity) any {
					v, _ := e.Record().Value("label")
					if v == nil {
						return nil
					}
					return strings.ToUpper(v.(string))
				},
			}),
	))
	return reg
}

func TestRegistryRejectsDottedNames(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(NewType("Bad.Name", func() Entity { return &testCourse{} }))
	assert.True(t, IsConfiguration(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(NewType("Course", func() Entity { return &testCourse{} }))
	assert.True(t, IsConfiguration(err))
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(
		NewType("Course", func() Entity { return &testCourse{} }).Reference("category", "Missing"),
	))
	assert.True(t, IsConfiguration(reg.Validate()))

	assert.NoError(t, testRegistry(t).Validate())
}

func TestRegistryByTable(t *testing.T) {
	reg := testRegistry(t)
	courseType, ok := reg.ByTable("course")
	require.True(t, ok)
	assert.Equal(t, "Course", courseType.Name())

	require.NoError(t, reg.Register(NewType("Tag", func() Entity { return &testCategory{} }).Table("course_tag")))
	tagType, ok := reg.ByTable("course_tag")
	require.True(t, ok)
	assert.Equal(t, "Tag", tagType.Name())

	_, ok = reg.ByTable("tag")
	assert.False(t, ok)
}

func TestLookupUnknownType(t *testing.T) {
	_, err := testRegistry(t).Lookup("Nope")
	assert.True(t, errors.Is(err, ErrUnknownType))
	assert.True(t, IsConfiguration(err))
}

func TestDispatchPrecedence(t *testing.T) {
	reg := testRegistry(t)
	course, err := reg.Lookup("Course")
	require.NoError(t, err)

	p, ok := course.Resolve("label")
	require.True(t, ok)
	assert.Equal(t, KindAccessor, p.Kind)

	p, ok = course.Resolve("categoryId")
	require.True(t, ok)
	assert.Equal(t, KindReferenceID, p.Kind)
	assert.Equal(t, "category", p.Reference)

	p, ok = course.Resolve("instructors")
	require.True(t, ok)
	assert.Equal(t, KindDependent, p.Kind)

	e := course.New()
	require.NoError(t, e.Record().Set("label", "intro"))
	assert.Equal(t, "INTRO", e.Record().Get("label"))

	names := []string{}
	for _, sp := range course.Storable() {
		names = append(names, sp.Name)
	}
	assert.Equal(t, []string{"allowSyndication", "categoryId", "label", "title"}, names)
}

func TestReferenceShadowConsistency(t *testing.T) {
	reg := testRegistry(t)
	courseType, _ := reg.Lookup("Course")
	catType, _ := reg.Lookup("Category")

	course := courseType.New().Record()
	cat := catType.New()
	cat.Record().SetID(7)

	require.NoError(t, course.Set("category", cat))
	assert.Equal(t, int64(7), course.RefID("category"))
	assert.Equal(t, int64(7), course.Get("categoryId"))

	require.NoError(t, course.Set("categoryId", 9))
	_, resolved := course.Ref("category")
	assert.False(t, resolved)
	assert.Nil(t, course.Get("category"))

	require.NoError(t, course.Set("category", nil))
	assert.Equal(t, int64(0), course.RefID("category"))
}

func TestSetUnknownProperty(t *testing.T) {
	courseType, _ := testRegistry(t).Lookup("Course")
	err := courseType.New().Record().Set("nope", 1)
	assert.True(t, errors.Is(err, ErrUnknownProperty))
}

func TestDirtyTracking(t *testing.T) {
	courseType, _ := testRegistry(t).Lookup("Course")
	c := courseType.New().Record()
	c.Assign("title", "Go")
	c.Snapshot()
	assert.Empty(t, c.Dirty())

	require.NoError(t, c.Set("title", "Rust"))
	require.NoError(t, c.Set("categoryId", int64(3)))
	assert.Equal(t, []string{"categoryId", "title"}, c.Dirty())
	assert.Equal(t, map[string]any{"categoryId": int64(3), "title": "Rust"}, c.Changes())

	c.Snapshot()
	assert.False(t, c.IsDirty())
}

func TestLinksAreDeduplicated(t *testing.T) {
	var b Base
	b.AddLink("Course", 10)
	b.AddLink("Course", 10)
	b.AddLink("Course", 11)
	assert.Equal(t, []int64{10, 11}, b.LinkedTo("Course"))

	b.RemoveLink("Course", 10)
	assert.Equal(t, map[string][]int64{"Course": {11}}, b.Links())
}

func TestNamingHelpers(t *testing.T) {
	assert.Equal(t, "allow_syndication", SnakeCase("allowSyndication"))
	assert.Equal(t, "course_instructor", SnakeCase("CourseInstructor"))
	assert.Equal(t, "http_server", SnakeCase("HTTPServer"))
	assert.Equal(t, "allowSyndication", CamelCase("allow_syndication"))

	n, ok := ToInt64("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	_, ok = ToInt64("x")
	assert.False(t, ok)
}

func TestToInt64Floats(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"integral float64", float64(7), 7, true},
		{"integral float32", float32(3), 3, true},
		{"fraction", 1.5, 0, false},
		{"negative fraction", float32(-2.25), 0, false},
		{"overflow", math.MaxFloat64, 0, false},
		{"nan", math.NaN(), 0, false},
		{"uint64 overflow", uint64(math.MaxUint64), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestBaseConcurrentAccess(t *testing.T) {
	courseType, _ := testRegistry(t).Lookup("Course")
	c := courseType.New().Record()
	c.SetID(1)
	category := &testCategory{}
	category.SetID(3)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetResolved("instructors", []Entity{category})
			_, _ = c.Resolved("instructors")
			c.AddLink("Category", int64(i%4))
			_ = c.Links()
			c.SetRef("category", category)
			_ = c.Get("category")
			_ = c.RefID("category")
			c.Assign("title", "Go")
			_ = c.Dirty()
			c.Snapshot()
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.LinkedTo("Category"), 4)
	assert.Equal(t, int64(3), c.RefID("category"))
	assert.Equal(t, "Go", c.Get("title"))
	assert.False(t, c.IsDirty())
}

func TestAmbiguousLinkErrorIsConfiguration(t *testing.T) {
	err := error(&AmbiguousLinkError{Parent: "a", Dependent: "b", Candidates: []string{"x", "y"}})
	assert.True(t, errors.Is(err, ErrAmbiguousLink))
	assert.True(t, IsConfiguration(err))

	store := NewStoreError("select", "course", errors.New("boom"))
	assert.True(t, IsStore(store))
	assert.EqualError(t, errors.Unwrap(store), "boom")
	assert.Nil(t, NewStoreError("select", "course", nil))
}
