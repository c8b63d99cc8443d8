package db

import (
	"context"
	"fmt"
	"strings"
)

// Column is one table column as declared in the catalog
type Column struct {
	Name string `json:"name" msgpack:"name"`
	Type string `json:"type" msgpack:"type"`
}

// Direction selects which foreign keys ForeignKeys returns
type Direction string

const (
	// Outbound keys are declared by the table itself
	Outbound Direction = "outbound"
	// Inbound keys are declared by other tables and reference the table
	Inbound Direction = "inbound"
)

// ForeignKey is one column-level foreign key edge: Table.Column references
// ReferencedTable.ReferencedColumn
type ForeignKey struct {
	Table            string `json:"table" msgpack:"table"`
	Column           string `json:"column" msgpack:"column"`
	ReferencedTable  string `json:"referenced_table" msgpack:"referenced_table"`
	ReferencedColumn string `json:"referenced_column" msgpack:"referenced_column"`
}

// Columns returns the columns of table in declaration order
func (e *GormExecutor) Columns(ctx context.Context, table string) ([]Column, error) {
	var (
		rows []Row
		err  error
	)
	switch e.driver {
	case DriverSQLite:
		rows, err = e.query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table)))
	default:
		rows, err = e.query(ctx,
			"SELECT COLUMN_NAME AS name, DATA_TYPE AS type FROM INFORMATION_SCHEMA.COLUMNS "+
				"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION",
			e.schema, table)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to introspect columns of %s: %w", table, err)
	}

	columns := make([]Column, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, Column{
			Name: stringValue(row["name"]),
			Type: strings.ToLower(stringValue(row["type"])),
		})
	}
	return columns, nil
}

// ForeignKeys returns the foreign keys declared by table (Outbound) or
// referencing it (Inbound)
func (e *GormExecutor) ForeignKeys(ctx context.Context, table string, dir Direction) ([]ForeignKey, error) {
	if e.driver == DriverSQLite {
		return e.sqliteForeignKeys(ctx, table, dir)
	}

	query := "SELECT TABLE_NAME AS tbl, COLUMN_NAME AS col, REFERENCED_TABLE_NAME AS ref_tbl, " +
		"REFERENCED_COLUMN_NAME AS ref_col FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE "
	if dir == Inbound {
		query += "WHERE REFERENCED_TABLE_SCHEMA = ? AND REFERENCED_TABLE_NAME = ?"
	} else {
		query += "WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL"
	}
	query += " ORDER BY TABLE_NAME, COLUMN_NAME"

	rows, err := e.query(ctx, query, e.schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s foreign keys of %s: %w", dir, table, err)
	}

	keys := make([]ForeignKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, ForeignKey{
			Table:            stringValue(row["tbl"]),
			Column:           stringValue(row["col"]),
			ReferencedTable:  stringValue(row["ref_tbl"]),
			ReferencedColumn: stringValue(row["ref_col"]),
		})
	}
	return keys, nil
}

func (e *GormExecutor) sqliteForeignKeys(ctx context.Context, table string, dir Direction) ([]ForeignKey, error) {
	if dir == Outbound {
		return e.sqliteOutbound(ctx, table)
	}

	tables, err := e.query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var keys []ForeignKey
	for _, row := range tables {
		outbound, err := e.sqliteOutbound(ctx, stringValue(row["name"]))
		if err != nil {
			return nil, err
		}
		for _, fk := range outbound {
			if fk.ReferencedTable == table {
				keys = append(keys, fk)
			}
		}
	}
	return keys, nil
}

func (e *GormExecutor) sqliteOutbound(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := e.query(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect foreign keys of %s: %w", table, err)
	}

	keys := make([]ForeignKey, 0, len(rows))
	for _, row := range rows {
		refCol := stringValue(row["to"])
		if refCol == "" {
			refCol = "id"
		}
		keys = append(keys, ForeignKey{
			Table:            table,
			Column:           stringValue(row["from"]),
			ReferencedTable:  stringValue(row["table"]),
			ReferencedColumn: refCol,
		})
	}
	return keys, nil
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
