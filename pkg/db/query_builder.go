package db

import (
	"fmt"
	"reflect"
	"strings"
)

// Structured query description consumed by Executor.Select. The repository layer
// describes entity and dependent queries with a Builder; the executor renders it.
//
// Identifiers (tables, columns, aliases, join conditions) are written as given
// and must come from registered type descriptors or catalog metadata. Values go
// through Condition.Value and are always parameterized.

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	NotLike            Operator = "NOT LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
	Between            Operator = "BETWEEN"
	NotBetween         Operator = "NOT BETWEEN"
)

// JoinType represents SQL JOIN types
type JoinType string

const (
	InnerJoin JoinType = "INNER JOIN"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
)

// Condition represents a WHERE clause condition
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"op"`
	Value    interface{} `json:"value,omitempty"`
}

// ConditionGroup holds the WHERE conditions joined by one logical operator
type ConditionGroup struct {
	Conditions []Condition
	Operator   LogicalOperator
}

// JoinClause represents a JOIN operation
type JoinClause struct {
	Type      JoinType
	Table     string
	Condition string
}

// Builder helps build complex SQL queries
type Builder struct {
	table      string
	alias      string
	selectCols []string
	joins      []JoinClause
	where      *ConditionGroup
	groupBy    []string
	orderBy    []string
	limit      int
}

// NewBuilder creates a new query builder
func NewBuilder(table string) *Builder {
	return &Builder{
		table:      table,
		selectCols: []string{"*"},
		joins:      []JoinClause{},
		where:      &ConditionGroup{Operator: And},
		groupBy:    []string{},
		orderBy:    []string{},
	}
}

// As sets the alias of the source table
func (b *Builder) As(alias string) *Builder {
	b.alias = alias
	return b
}

// Table returns the source table
func (b *Builder) Table() string {
	return b.table
}

// Select sets the columns to select
func (b *Builder) Select(cols ...string) *Builder {
	b.selectCols = cols
	return b
}

// Where adds a WHERE condition
func (b *Builder) Where(field string, operator Operator, value interface{}) *Builder {
	b.where.Conditions = append(b.where.Conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return b
}

// WhereConditions appends prepared conditions
func (b *Builder) WhereConditions(conds ...Condition) *Builder {
	b.where.Conditions = append(b.where.Conditions, conds...)
	return b
}

// Join adds a JOIN clause
func (b *Builder) Join(joinType JoinType, table, condition string) *Builder {
	b.joins = append(b.joins, JoinClause{
		Type:      joinType,
		Table:     table,
		Condition: condition,
	})
	return b
}

// InnerJoin adds an INNER JOIN
func (b *Builder) InnerJoin(table, condition string) *Builder {
	return b.Join(InnerJoin, table, condition)
}

// GroupBy adds GROUP BY columns
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = append(b.groupBy, columns...)
	return b
}

// OrderBy adds an ORDER BY clause
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	order := field
	if desc {
		order += " DESC"
	} else {
		order += " ASC"
	}
	b.orderBy = append(b.orderBy, order)
	return b
}

// OrderByRaw adds an ORDER BY expression as given, e.g. "a.position DESC"
func (b *Builder) OrderByRaw(expr string) *Builder {
	b.orderBy = append(b.orderBy, expr)
	return b
}

// Limit sets the LIMIT clause
// Negative values are normalized to 0
func (b *Builder) Limit(limit int) *Builder {
	if limit < 0 {
		limit = 0
	}
	b.limit = limit
	return b
}

// BuildSelect builds a SELECT query
func (b *Builder) BuildSelect() (string, []interface{}) {
	var query strings.Builder
	var args []interface{}

	// SELECT clause
	query.WriteString("SELECT ")
	query.WriteString(strings.Join(b.selectCols, ", "))
	query.WriteString(" FROM ")
	query.WriteString(b.table)
	if b.alias != "" {
		query.WriteString(" AS ")
		query.WriteString(b.alias)
	}

	// JOIN clauses
	if len(b.joins) > 0 {
		for _, join := range b.joins {
			query.WriteString(" ")
			query.WriteString(string(join.Type))
			query.WriteString(" ")
			query.WriteString(join.Table)
			query.WriteString(" ON ")
			query.WriteString(join.Condition)
		}
	}

	// WHERE clause
	if whereSQL, whereArgs := b.buildConditionGroup(b.where); whereSQL != "" {
		query.WriteString(" WHERE ")
		query.WriteString(whereSQL)
		args = append(args, whereArgs...)
	}

	// GROUP BY clause
	if len(b.groupBy) > 0 {
		query.WriteString(" GROUP BY ")
		query.WriteString(strings.Join(b.groupBy, ", "))
	}

	// ORDER BY clause
	if len(b.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(b.orderBy, ", "))
	}

	// LIMIT clause
	if b.limit > 0 {
		query.WriteString(fmt.Sprintf(" LIMIT %d", b.limit))
	}

	return query.String(), args
}

// buildConditionGroup joins the conditions of group with its operator
func (b *Builder) buildConditionGroup(group *ConditionGroup) (string, []interface{}) {
	if len(group.Conditions) == 0 {
		return "", nil
	}

	conditions := make([]string, 0, len(group.Conditions))
	var args []interface{}
	for _, cond := range group.Conditions {
		condSQL, condArgs := b.buildCondition(cond)
		conditions = append(conditions, condSQL)
		args = append(args, condArgs...)
	}

	operator := " " + string(group.Operator) + " "
	return strings.Join(conditions, operator), args
}

// buildCondition builds SQL for a single condition
func (b *Builder) buildCondition(cond Condition) (string, []interface{}) {
	switch cond.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil
	case In, NotIn:
		return b.buildInCondition(cond)
	case Between, NotBetween:
		return b.buildBetweenCondition(cond)
	default:
		return fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), []interface{}{cond.Value}
	}
}

// buildInCondition builds IN/NOT IN conditions with proper placeholder expansion
func (b *Builder) buildInCondition(cond Condition) (string, []interface{}) {
	if cond.Value == nil {
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		// Single value, treat as regular condition
		return fmt.Sprintf("%s %s (?)", cond.Field, cond.Operator), []interface{}{cond.Value}
	}

	length := v.Len()
	if length == 0 {
		// Empty slice - return condition that never matches
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	placeholders := make([]string, length)
	args := make([]interface{}, length)
	for i := 0; i < length; i++ {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}

	sql := fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", "))
	return sql, args
}

// buildBetweenCondition builds BETWEEN/NOT BETWEEN conditions
func (b *Builder) buildBetweenCondition(cond Condition) (string, []interface{}) {
	// Expect value to be a slice/array with exactly 2 elements
	if cond.Value == nil {
		return "1 = 0", nil
	}

	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		// Return error condition - non-slice values are invalid for BETWEEN
		return "1 = 0", nil // Invalid condition that never matches
	}

	if v.Len() != 2 {
		// Return error condition - BETWEEN requires exactly 2 values
		return "1 = 0", nil // Invalid condition that never matches
	}

	sql := fmt.Sprintf("%s %s ? AND ?", cond.Field, cond.Operator)
	args := []interface{}{v.Index(0).Interface(), v.Index(1).Interface()}
	return sql, args
}

// BuildInsert builds an INSERT query for the given columns
func (b *Builder) BuildInsert(columns []string) (string, int) {
	var query strings.Builder
	query.WriteString("INSERT INTO ")
	query.WriteString(b.table)
	query.WriteString(" (")
	query.WriteString(strings.Join(columns, ", "))
	query.WriteString(") VALUES (")

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	query.WriteString(strings.Join(placeholders, ", "))
	query.WriteString(")")

	return query.String(), len(columns)
}

// BuildUpdate builds an UPDATE query setting columns, filtered by the builder's
// WHERE conditions. The returned args hold the where arguments only; callers
// prepend the column values.
func (b *Builder) BuildUpdate(columns []string) (string, []interface{}) {
	var query strings.Builder
	query.WriteString("UPDATE ")
	query.WriteString(b.table)
	query.WriteString(" SET ")

	setClauses := make([]string, len(columns))
	for i, col := range columns {
		setClauses[i] = col + " = ?"
	}
	query.WriteString(strings.Join(setClauses, ", "))

	whereSQL, args := b.buildConditionGroup(b.where)
	if whereSQL != "" {
		query.WriteString(" WHERE ")
		query.WriteString(whereSQL)
	}
	return query.String(), args
}

// BuildDelete builds a DELETE query filtered by the builder's WHERE conditions
func (b *Builder) BuildDelete() (string, []interface{}) {
	query := fmt.Sprintf("DELETE FROM %s", b.table)
	whereSQL, args := b.buildConditionGroup(b.where)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	return query, args
}
