package schema

import (
	"strings"

	"github.com/ammar0144/entity4go/pkg/db"
)

// ColumnKind drives value coercion when rows are materialized
type ColumnKind int

const (
	KindOther ColumnKind = iota
	KindTemporal
	KindDecimal
	KindInteger
)

// String returns the name of the kind
func (k ColumnKind) String() string {
	switch k {
	case KindTemporal:
		return "temporal"
	case KindDecimal:
		return "decimal"
	case KindInteger:
		return "integer"
	default:
		return "other"
	}
}

// Classify maps a declared column type such as "int(11) unsigned" or
// "DATETIME" to its kind
func Classify(declared string) ColumnKind {
	t := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}

	switch t {
	case "date", "time", "datetime", "timestamp", "year":
		return KindTemporal
	case "decimal", "numeric", "float", "double", "real":
		return KindDecimal
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint", "serial", "bigserial", "smallserial":
		return KindInteger
	}
	return KindOther
}

// Columns is the column list of one table
type Columns []db.Column

// Names returns the column names in declaration order
func (cs Columns) Names() []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the table has a column called name
func (cs Columns) Has(name string) bool {
	_, ok := cs.Lookup(name)
	return ok
}

// Lookup returns the column called name
func (cs Columns) Lookup(name string) (db.Column, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return db.Column{}, false
}

// Kind classifies the declared type of column name; unknown columns are KindOther
func (cs Columns) Kind(name string) ColumnKind {
	c, ok := cs.Lookup(name)
	if !ok {
		return KindOther
	}
	return Classify(c.Type)
}

// Set returns the column names as a lookup set
func (cs Columns) Set() map[string]struct{} {
	set := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		set[c.Name] = struct{}{}
	}
	return set
}
