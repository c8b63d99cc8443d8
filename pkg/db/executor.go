package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Row is one result row keyed by column name. Text columns are returned as
// string, never []byte.
type Row map[string]interface{}

// Executor runs structured queries and catalog lookups against one store
type Executor interface {
	Select(ctx context.Context, q *Builder) ([]Row, error)
	Insert(ctx context.Context, table string, values map[string]interface{}) (int64, error)
	Update(ctx context.Context, table string, ids []int64, values map[string]interface{}) error
	Delete(ctx context.Context, table string, conds ...Condition) error

	Columns(ctx context.Context, table string) ([]Column, error)
	ForeignKeys(ctx context.Context, table string, dir Direction) ([]ForeignKey, error)
}

// GormExecutor implements Executor on a GORM connection
type GormExecutor struct {
	db      *gorm.DB
	driver  string
	schema  string
	timeout time.Duration
}

// NewExecutor creates an executor for the manager's connection
func NewExecutor(m *Manager) *GormExecutor {
	cfg := m.Config()
	e := &GormExecutor{
		db:      m.DB(),
		driver:  cfg.DriverName(),
		schema:  cfg.SchemaName(),
		timeout: cfg.QueryTimeout,
	}
	if e.schema == "" && e.driver == DriverMySQL {
		e.schema = currentDatabase(m.DB())
	}
	return e
}

// Driver returns the dialect the executor speaks
func (e *GormExecutor) Driver() string { return e.driver }

// withQueryTimeout wraps a context with the configured query timeout
func (e *GormExecutor) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

// ============================================================================
// DATA OPERATIONS
// ============================================================================

// Select renders q and returns its rows
func (e *GormExecutor) Select(ctx context.Context, q *Builder) ([]Row, error) {
	query, args := q.BuildSelect()
	return e.query(ctx, query, args...)
}

// Insert writes one row and returns the generated id
func (e *GormExecutor) Insert(ctx context.Context, table string, values map[string]interface{}) (int64, error) {
	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	columns, args := sortedValues(values)
	query, _ := NewBuilder(table).BuildInsert(columns)
	if len(columns) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
		if e.driver == DriverMySQL {
			query = fmt.Sprintf("INSERT INTO %s () VALUES ()", table)
		}
	}

	sqlDB, err := e.db.DB()
	if err != nil {
		return 0, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	res, err := sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Update sets values on the rows with the given ids
func (e *GormExecutor) Update(ctx context.Context, table string, ids []int64, values map[string]interface{}) error {
	if len(ids) == 0 || len(values) == 0 {
		return nil
	}
	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	columns, args := sortedValues(values)
	query, whereArgs := NewBuilder(table).Where("id", In, ids).BuildUpdate(columns)
	return e.db.WithContext(ctx).Exec(query, append(args, whereArgs...)...).Error
}

// Delete removes the rows matching every condition
func (e *GormExecutor) Delete(ctx context.Context, table string, conds ...Condition) error {
	if len(conds) == 0 {
		return fmt.Errorf("refusing to delete from %s without conditions", table)
	}
	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(table).WhereConditions(conds...).BuildDelete()
	return e.db.WithContext(ctx).Exec(query, args...).Error
}

func (e *GormExecutor) query(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	rows, err := e.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// scanRows converts sql.Rows into Rows
func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func sortedValues(values map[string]interface{}) ([]string, []interface{}) {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	args := make([]interface{}, len(columns))
	for i, col := range columns {
		args[i] = values[col]
	}
	return columns, args
}

// currentDatabase asks the connection for its database name
func currentDatabase(gormDB *gorm.DB) string {
	if gormDB == nil {
		return ""
	}
	if migrator := gormDB.Migrator(); migrator != nil {
		if name := migrator.CurrentDatabase(); name != "" {
			return name
		}
	}
	var name string
	if err := gormDB.Raw("SELECT DATABASE()").Scan(&name).Error; err != nil {
		return ""
	}
	return name
}
