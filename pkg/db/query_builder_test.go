package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Builder
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "plain table",
			build:   func() *Builder { return NewBuilder("course") },
			wantSQL: "SELECT * FROM course",
		},
		{
			name: "in condition expands placeholders",
			build: func() *Builder {
				return NewBuilder("course").Select("id", "title").Where("id", In, []int64{1, 3})
			},
			wantSQL:  "SELECT id, title FROM course WHERE id IN (?, ?)",
			wantArgs: []interface{}{int64(1), int64(3)},
		},
		{
			name: "empty in never matches",
			build: func() *Builder {
				return NewBuilder("course").Where("id", In, []int64{})
			},
			wantSQL: "SELECT * FROM course WHERE 1 = 0",
		},
		{
			name: "dependent join through link table",
			build: func() *Builder {
				return NewBuilder("instructor").As("a").
					Select("a.*", "b.course_id AS link_parent_id").
					InnerJoin("course_instructor AS b", "b.instructor_id = a.id").
					Where("b.course_id", In, []int64{10}).
					Where("a.active", Equal, 1).
					OrderByRaw("a.name ASC").
					Limit(5)
			},
			wantSQL: "SELECT a.*, b.course_id AS link_parent_id FROM instructor AS a " +
				"INNER JOIN course_instructor AS b ON b.instructor_id = a.id " +
				"WHERE b.course_id IN (?) AND a.active = ? ORDER BY a.name ASC LIMIT 5",
			wantArgs: []interface{}{int64(10), 1},
		},
		{
			name: "count grouped by parent",
			build: func() *Builder {
				return NewBuilder("module").As("a").
					Select("a.course_id AS link_parent_id", "COUNT(*) AS link_count").
					Where("a.course_id", In, []int64{1, 2}).
					GroupBy("a.course_id")
			},
			wantSQL:  "SELECT a.course_id AS link_parent_id, COUNT(*) AS link_count FROM module AS a WHERE a.course_id IN (?, ?) GROUP BY a.course_id",
			wantArgs: []interface{}{int64(1), int64(2)},
		},
		{
			name: "between and null check",
			build: func() *Builder {
				return NewBuilder("course").
					Where("price", Between, []int{10, 20}).
					Where("published_at", IsNull, nil).
					OrderBy("price", true)
			},
			wantSQL:  "SELECT * FROM course WHERE price BETWEEN ? AND ? AND published_at IS NULL ORDER BY price DESC",
			wantArgs: []interface{}{10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.build().BuildSelect()
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildWrites(t *testing.T) {
	sql, n := NewBuilder("course").BuildInsert([]string{"price", "title"})
	assert.Equal(t, "INSERT INTO course (price, title) VALUES (?, ?)", sql)
	assert.Equal(t, 2, n)

	sql, args := NewBuilder("course").Where("id", In, []int64{1, 2}).BuildUpdate([]string{"title"})
	assert.Equal(t, "UPDATE course SET title = ? WHERE id IN (?, ?)", sql)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, args)

	sql, args = NewBuilder("course_instructor").
		WhereConditions(Condition{Field: "course_id", Operator: Equal, Value: 10}).
		BuildDelete()
	assert.Equal(t, "DELETE FROM course_instructor WHERE course_id = ?", sql)
	assert.Equal(t, []interface{}{10}, args)
}
