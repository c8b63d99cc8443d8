// Package mapping resolves entity properties to table columns by naming
// convention and converts values between rows and entities.
package mapping

import (
	"strings"

	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// DefaultPrefix is the namespace token of namespaced column names
const DefaultPrefix = "domain"

// Rule is one step of the column name fallback
type Rule int

const (
	// RuleExact uses the property name as is
	RuleExact Rule = iota
	// RuleSnake converts allowSyndication to allow_syndication
	RuleSnake
	// RuleNamespaced prefixes the snake form: domain_allow_syndication
	RuleNamespaced
	// RuleScoped adds the lowercased type name: domain_category_type_id
	RuleScoped
)

// Mapper resolves property/column names for registered types
type Mapper struct {
	prefix string
}

// New creates a mapper using prefix for namespaced names, DefaultPrefix when empty
func New(prefix string) *Mapper {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Mapper{prefix: prefix}
}

// Prefix returns the namespace token
func (m *Mapper) Prefix() string { return m.prefix }

// Candidates returns the column names property may be stored under, indexed by Rule
func (m *Mapper) Candidates(t *entity.Type, property string) [4]string {
	snake := entity.SnakeCase(property)
	return [4]string{
		RuleExact:      property,
		RuleSnake:      snake,
		RuleNamespaced: m.prefix + "_" + snake,
		RuleScoped:     m.prefix + "_" + strings.ToLower(t.Name()) + "_" + snake,
	}
}

// ColumnForProperty returns the first candidate column of property that
// exists in columns
func (m *Mapper) ColumnForProperty(t *entity.Type, property string, columns schema.Columns) (string, bool) {
	if property == "id" {
		return "id", columns.Has("id")
	}
	set := columns.Set()
	for _, c := range m.Candidates(t, property) {
		if _, ok := set[c]; ok {
			return c, true
		}
	}
	return "", false
}

// PropertyForColumn returns the storable property of t that column belongs to.
// Rules are tried in order across all properties, so an exact match on one
// property beats a convention match on another.
func (m *Mapper) PropertyForColumn(t *entity.Type, column string) (string, bool) {
	if column == "id" {
		return "id", true
	}
	props := t.Storable()
	for rule := RuleExact; rule <= RuleScoped; rule++ {
		for _, p := range props {
			if m.Candidates(t, p.Name)[rule] == column {
				return p.Name, true
			}
		}
	}
	return "", false
}

// Field is one property value read from a row
type Field struct {
	Property string
	Column   string
	Kind     schema.ColumnKind
	Value    any
}

// FromRow picks the value of every storable property out of row, using the
// first candidate column present in the row. Values are coerced by the
// declared kind of their column.
func (m *Mapper) FromRow(t *entity.Type, row map[string]any, columns schema.Columns) []Field {
	var fields []Field
	for _, p := range t.Storable() {
		for _, c := range m.Candidates(t, p.Name) {
			v, ok := row[c]
			if !ok {
				continue
			}
			kind := columns.Kind(c)
			fields = append(fields, Field{
				Property: p.Name,
				Column:   c,
				Kind:     kind,
				Value:    Coerce(kind, v),
			})
			break
		}
	}
	return fields
}

// ToRow converts the storable values of e to column values of its table.
// Reference ids are written under every naming variant the table has, plain
// values under their first matching column. The id is never included.
func (m *Mapper) ToRow(t *entity.Type, e entity.Entity, columns schema.Columns) map[string]any {
	values := e.Record().Storable()
	set := columns.Set()
	row := make(map[string]any, len(values))

	for _, p := range t.Storable() {
		v, ok := values[p.Name]
		if !ok {
			continue
		}
		candidates := m.Candidates(t, p.Name)

		if len(set) == 0 {
			// no metadata: fall back to the convention form
			row[candidates[RuleSnake]] = v
			continue
		}

		if p.Kind == entity.KindReferenceID {
			for _, c := range candidates {
				if _, exists := set[c]; exists {
					row[c] = v
				}
			}
			continue
		}
		for _, c := range candidates {
			if _, exists := set[c]; exists {
				row[c] = v
				break
			}
		}
	}

	delete(row, "id")
	return row
}

// Export returns the entity as a map with snake_case keys. References are
// flattened to their ids.
func (m *Mapper) Export(t *entity.Type, e entity.Entity) map[string]any {
	values := e.Record().Storable()
	out := map[string]any{"id": e.Record().ID()}
	for _, p := range t.Storable() {
		out[entity.SnakeCase(p.Name)] = values[p.Name]
	}
	return out
}
