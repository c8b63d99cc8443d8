package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
)

func schoolDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "school.db")
	m, err := db.NewManager(&db.Config{
		Driver:   db.DriverSQLite,
		Database: path,
		Logging:  db.LoggingConfig{Level: "silent"},
	})
	require.NoError(t, err)
	defer m.Close()

	for _, stmt := range []string{
		`CREATE TABLE course (id INTEGER PRIMARY KEY, title TEXT, price DECIMAL(10,2))`,
		`CREATE TABLE instructor (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE course_instructor (
			course_id INTEGER REFERENCES course(id),
			instructor_id INTEGER REFERENCES instructor(id)
		)`,
		`CREATE TABLE module (id INTEGER PRIMARY KEY, course_id INTEGER REFERENCES course(id), title TEXT)`,
		`CREATE TABLE tag (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE course_tag (course_id INTEGER REFERENCES course(id), tag_id INTEGER REFERENCES tag(id))`,
		`CREATE TABLE course_tag_archive (course_id INTEGER REFERENCES course(id), tag_id INTEGER REFERENCES tag(id))`,
	} {
		require.NoError(t, m.DB().Exec(stmt).Error)
	}
	return path
}

func run(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--driver", "sqlite", "--database", path, "--metadata", "none"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	out, err := run(t, schoolDB(t), "inspect", "module")
	require.NoError(t, err)

	assert.Contains(t, out, "TABLE")
	assert.Regexp(t, `course_id\s+integer\s+integer`, out)
	assert.Regexp(t, `course_id\s+-> course\.id`, out)
}

func TestInspectReferencedBy(t *testing.T) {
	out, err := run(t, schoolDB(t), "inspect", "course")
	require.NoError(t, err)
	assert.Regexp(t, `price\s+decimal\(10,2\)\s+decimal`, out)
	assert.Contains(t, out, "course_instructor, course_tag, course_tag_archive, module")
}

func TestInspectUnknownTable(t *testing.T) {
	_, err := run(t, schoolDB(t), "inspect", "nope")
	assert.Error(t, err)
}

func TestLinkTable(t *testing.T) {
	path := schoolDB(t)

	out, err := run(t, path, "link", "course", "instructor")
	require.NoError(t, err)
	assert.Equal(t,
		"link table course_instructor: course_instructor.course_id = course.id, course_instructor.instructor_id = instructor.id\n",
		out)

	out, err = run(t, path, "link", "instructor", "course")
	require.NoError(t, err)
	assert.Contains(t, out, "course_instructor.instructor_id = instructor.id")
}

func TestLinkDirect(t *testing.T) {
	out, err := run(t, schoolDB(t), "link", "course", "module")
	require.NoError(t, err)
	assert.Equal(t, "direct: module.course_id = course.id\n", out)
}

func TestLinkAmbiguous(t *testing.T) {
	out, err := run(t, schoolDB(t), "link", "course", "tag")
	assert.True(t, entity.IsConfiguration(err))
	assert.Contains(t, out, "ambiguous: course_tag, course_tag_archive")
}

func TestFlushMetadata(t *testing.T) {
	out, err := run(t, schoolDB(t), "flush-metadata")
	require.NoError(t, err)
	assert.Contains(t, out, "metadata flushed")
}

func TestTypeForTable(t *testing.T) {
	typ := typeForTable("course_instructor")
	assert.Equal(t, "CourseInstructor", typ.Name())
	assert.Equal(t, "course_instructor", typ.TableName())
}
