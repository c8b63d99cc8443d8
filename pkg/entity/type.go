package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ammar0144/entity4go/pkg/db"
)

// Kind is the storage kind of a declared property
type Kind int

const (
	// KindPlain is a scalar value stored in its own column
	KindPlain Kind = iota
	// KindDependent is a declared one-to-many or many-to-many relationship
	KindDependent
	// KindReferenceID is the shadow foreign key of a reference, named <reference>Id
	KindReferenceID
	// KindReference is a one-to-one relationship resolved through its shadow id
	KindReference
	// KindAccessor is an explicit getter/setter pair
	KindAccessor
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindDependent:
		return "dependent"
	case KindReferenceID:
		return "reference-id"
	case KindReference:
		return "reference"
	case KindAccessor:
		return "accessor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DependentConfig declares a dependent relationship of a type
type DependentConfig struct {
	Type  string         `json:"type"`
	Where []db.Condition `json:"where,omitempty"`
	Order []string       `json:"order,omitempty"`
	Limit int            `json:"limit,omitempty"`
	Count bool           `json:"count,omitempty"`
}

// Accessor overrides reads and writes of a property
type Accessor struct {
	Get func(e Entity) any
	Set func(e Entity, v any) error
}

// Notifier is called on a referenced type when one of its dependents changes.
// id is the referenced (parent) entity id.
type Notifier func(ctx context.Context, id int64, dependent Entity)

// Property is one entry of a type's dispatch table
type Property struct {
	Name string
	Kind Kind

	// Target is the related type name for references, reference ids and dependents
	Target string

	// Reference is the owning reference name of a KindReferenceID property
	Reference string

	Dependent *DependentConfig
	Accessor  *Accessor
}

// Type is the static descriptor of an entity type
type Type struct {
	name    string
	table   string
	factory func() Entity

	plain      []string
	references map[string]string
	dependents map[string]DependentConfig
	accessors  map[string]Accessor

	dispatch map[string]Property

	onAdded   Notifier
	onUpdated Notifier
	onRemoved Notifier
}

// NewType starts a descriptor for the named type. The table defaults to the
// snake_case form of the name.
func NewType(name string, factory func() Entity) *Type {
	return &Type{
		name:       name,
		table:      SnakeCase(name),
		factory:    factory,
		references: make(map[string]string),
		dependents: make(map[string]DependentConfig),
		accessors:  make(map[string]Accessor),
	}
}

// Table overrides the table name
func (t *Type) Table(table string) *Type {
	t.table = table
	return t
}

// Properties declares plain scalar properties
func (t *Type) Properties(names ...string) *Type {
	t.plain = append(t.plain, names...)
	return t
}

// Reference declares a one-to-one relationship to target. The shadow property
// <name>Id carries the foreign key.
func (t *Type) Reference(name, target string) *Type {
	t.references[name] = target
	return t
}

// Dependent declares a one-to-many or many-to-many relationship
func (t *Type) Dependent(name string, cfg DependentConfig) *Type {
	t.dependents[name] = cfg
	return t
}

// Accessor declares an explicit getter/setter for name
func (t *Type) Accessor(name string, acc Accessor) *Type {
	t.accessors[name] = acc
	return t
}

// OnDependentAdded registers the notifier fired when a dependent is inserted or linked
func (t *Type) OnDependentAdded(fn Notifier) *Type {
	t.onAdded = fn
	return t
}

// OnDependentUpdated registers the notifier fired when a dependent is updated
func (t *Type) OnDependentUpdated(fn Notifier) *Type {
	t.onUpdated = fn
	return t
}

// OnDependentRemoved registers the notifier fired when a dependent is deleted or unlinked
func (t *Type) OnDependentRemoved(fn Notifier) *Type {
	t.onRemoved = fn
	return t
}

// compile builds the dispatch table. Later kinds override earlier ones, giving
// accessor > reference > dependent > plain.
func (t *Type) compile() error {
	if t.name == "" {
		return fmt.Errorf("%w: type name is required", ErrConfiguration)
	}
	if strings.Contains(t.name, ".") {
		return fmt.Errorf("%w: type name %q must not contain '.'", ErrConfiguration, t.name)
	}
	if t.factory == nil {
		return fmt.Errorf("%w: type %s has no factory", ErrConfiguration, t.name)
	}
	if t.table == "" {
		return fmt.Errorf("%w: type %s has no table", ErrConfiguration, t.name)
	}

	dispatch := make(map[string]Property)
	for _, name := range t.plain {
		dispatch[name] = Property{Name: name, Kind: KindPlain}
	}
	for name, cfg := range t.dependents {
		if cfg.Type == "" {
			return fmt.Errorf("%w: dependent %s.%s has no type", ErrConfiguration, t.name, name)
		}
		c := cfg
		dispatch[name] = Property{Name: name, Kind: KindDependent, Target: cfg.Type, Dependent: &c}
	}
	for name, target := range t.references {
		dispatch[name+"Id"] = Property{Name: name + "Id", Kind: KindReferenceID, Target: target, Reference: name}
		dispatch[name] = Property{Name: name, Kind: KindReference, Target: target}
	}
	for name, acc := range t.accessors {
		a := acc
		dispatch[name] = Property{Name: name, Kind: KindAccessor, Accessor: &a}
	}
	t.dispatch = dispatch
	return nil
}

// Name returns the registered type name
func (t *Type) Name() string { return t.name }

// TableName returns the backing table
func (t *Type) TableName() string { return t.table }

// New instantiates an entity bound to this type
func (t *Type) New() Entity {
	e := t.factory()
	e.Record().bind(t, e)
	return e
}

// Resolve looks a property up in the dispatch table
func (t *Type) Resolve(name string) (Property, bool) {
	p, ok := t.dispatch[name]
	return p, ok
}

// Storable returns the column-backed properties: plain values and reference
// shadow ids, sorted by name
func (t *Type) Storable() []Property {
	var out []Property
	for _, p := range t.dispatch {
		if p.Kind == KindPlain || p.Kind == KindReferenceID {
			out = append(out, p)
		}
	}
	// plain names shadowed by an accessor are still stored
	for _, name := range t.plain {
		if p := t.dispatch[name]; p.Kind == KindAccessor {
			out = append(out, Property{Name: name, Kind: KindPlain})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// References returns reference name to target type
func (t *Type) References() map[string]string {
	out := make(map[string]string, len(t.references))
	for k, v := range t.references {
		out[k] = v
	}
	return out
}

// ReferenceNames returns the declared reference names, sorted
func (t *Type) ReferenceNames() []string {
	names := make([]string, 0, len(t.references))
	for name := range t.references {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependentConfig returns the declared relationship for name
func (t *Type) DependentConfig(name string) (DependentConfig, bool) {
	cfg, ok := t.dependents[name]
	return cfg, ok
}

// Notify fires the notifier registered for event on this type
func (t *Type) Notify(ctx context.Context, event Event, id int64, dependent Entity) {
	var fn Notifier
	switch event {
	case EventAdded:
		fn = t.onAdded
	case EventUpdated:
		fn = t.onUpdated
	case EventRemoved:
		fn = t.onRemoved
	}
	if fn != nil {
		fn(ctx, id, dependent)
	}
}

// Event identifies a dependent notification
type Event int

const (
	EventAdded Event = iota
	EventUpdated
	EventRemoved
)
