package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/mapping"
	"github.com/ammar0144/entity4go/pkg/schema"
)

type catalog struct {
	columns map[string][]string
	keys    []db.ForeignKey
	queries int
}

func (c *catalog) Columns(ctx context.Context, table string) ([]db.Column, error) {
	c.queries++
	var cols []db.Column
	for _, name := range c.columns[table] {
		cols = append(cols, db.Column{Name: name, Type: "int"})
	}
	return cols, nil
}

func (c *catalog) ForeignKeys(ctx context.Context, table string, dir db.Direction) ([]db.ForeignKey, error) {
	c.queries++
	var out []db.ForeignKey
	for _, fk := range c.keys {
		if (dir == db.Inbound && fk.ReferencedTable == table) || (dir == db.Outbound && fk.Table == table) {
			out = append(out, fk)
		}
	}
	return out, nil
}

func fk(table, column, referenced string) db.ForeignKey {
	return db.ForeignKey{Table: table, Column: column, ReferencedTable: referenced, ReferencedColumn: "id"}
}

func schoolCatalog() *catalog {
	return &catalog{
		columns: map[string][]string{
			"course":     {"id", "title"},
			"instructor": {"id", "name"},
			"module":     {"id", "course_id", "title"},
			"lesson":     {"id", "module_ref"},
			"tag":        {"id"},
			"label":      {"id"},
		},
		keys: []db.ForeignKey{
			fk("course_instructor", "course_id", "course"),
			fk("course_instructor", "instructor_id", "instructor"),
			fk("module", "course_id", "course"),
			fk("lesson", "module_ref", "module"),
			fk("course_tag", "course_id", "course"),
			fk("course_tag", "tag_id", "tag"),
			fk("course_tag_archive", "course_id", "course"),
			fk("course_tag_archive", "tag_id", "tag"),
			fk("course_label", "course_id", "course"),
			fk("course_label", "label_id", "label"),
			fk("course_extra", "course_id", "course"),
			fk("course_extra", "label_id", "label"),
		},
	}
}

type stub struct{ entity.Base }

func (*stub) TypeName() string { return "" }

func newType(name string) *entity.Type {
	return entity.NewType(name, func() entity.Entity { return &stub{} })
}

type fixture struct {
	catalog  *catalog
	resolver *Resolver
	types    map[string]*entity.Type
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := schoolCatalog()
	types := map[string]*entity.Type{
		"Course":     newType("Course"),
		"Instructor": newType("Instructor"),
		"Module":     newType("Module").Reference("course", "Course"),
		"Lesson":     newType("Lesson"),
		"Tag":        newType("Tag"),
		"Label":      newType("Label"),
	}
	reg := entity.NewRegistry()
	for _, typ := range types {
		require.NoError(t, reg.Register(typ))
	}

	cache := schema.NewCache(cat, schema.Fingerprint{Host: "test"}, schema.WithStore(schema.NewMemoryStore()))
	return &fixture{
		catalog:  cat,
		resolver: NewResolver(cache, mapping.New(""), nil),
		types:    types,
	}
}

func TestFindLinkTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.resolver.FindLinkTable(ctx, f.types["Course"], f.types["Instructor"])
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, Link{Table: "course_instructor", ParentColumn: "course_id", DependentColumn: "instructor_id"}, *link)

	reverse, err := f.resolver.FindLinkTable(ctx, f.types["Instructor"], f.types["Course"])
	require.NoError(t, err)
	require.NotNil(t, reverse)
	assert.Equal(t, Link{Table: "course_instructor", ParentColumn: "instructor_id", DependentColumn: "course_id"}, *reverse)
}

func TestDirectReferenceIsNotALink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, pair := range [][2]string{{"Course", "Module"}, {"Module", "Course"}, {"Module", "Lesson"}} {
		link, err := f.resolver.FindLinkTable(ctx, f.types[pair[0]], f.types[pair[1]])
		require.NoError(t, err)
		assert.Nil(t, link, "%s -> %s", pair[0], pair[1])
	}
}

func TestNoInboundReferences(t *testing.T) {
	f := newFixture(t)
	link, err := f.resolver.FindLinkTable(context.Background(), f.types["Lesson"], f.types["Course"])
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestAmbiguousLink(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.FindLinkTable(context.Background(), f.types["Course"], f.types["Tag"])
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrAmbiguousLink)
	assert.True(t, entity.IsConfiguration(err))

	var ambiguous *entity.AmbiguousLinkError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"course_tag", "course_tag_archive"}, ambiguous.Candidates)
}

func TestLinkDisambiguatedByName(t *testing.T) {
	f := newFixture(t)

	link, err := f.resolver.FindLinkTable(context.Background(), f.types["Course"], f.types["Label"])
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "course_label", link.Table)
}

func TestLinkResultsAreCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.FindLinkTable(ctx, f.types["Course"], f.types["Instructor"])
	require.NoError(t, err)
	_, err = f.resolver.FindLinkTable(ctx, f.types["Course"], f.types["Module"])
	require.NoError(t, err)
	queries := f.catalog.queries

	for i := 0; i < 3; i++ {
		again, err := f.resolver.FindLinkTable(ctx, f.types["Course"], f.types["Instructor"])
		require.NoError(t, err)
		assert.Equal(t, first, again)

		none, err := f.resolver.FindLinkTable(ctx, f.types["Course"], f.types["Module"])
		require.NoError(t, err)
		assert.Nil(t, none)
	}
	assert.Equal(t, queries, f.catalog.queries)
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		parent, dependent string
		link              string
		foreignKey        string
	}{
		{"Course", "Instructor", "course_instructor", ""},
		{"Course", "Module", "", "course_id"},
		{"Module", "Lesson", "", "module_ref"},
	}

	for _, tt := range tests {
		t.Run(tt.parent+"/"+tt.dependent, func(t *testing.T) {
			rel, err := f.resolver.Resolve(ctx, f.types[tt.parent], f.types[tt.dependent])
			require.NoError(t, err)
			assert.Equal(t, tt.link != "", rel.IsLink())
			if rel.IsLink() {
				assert.Equal(t, tt.link, rel.Link.Table)
			}
			assert.Equal(t, tt.foreignKey, rel.ForeignKey)
		})
	}
}

func TestResolveUnrelated(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), f.types["Instructor"], f.types["Module"])
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}
