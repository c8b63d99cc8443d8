package entity

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the compiled type descriptors of one data source
type Registry struct {
	mu      sync.RWMutex
	types   map[string]*Type
	byTable map[string]*Type
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]*Type),
		byTable: make(map[string]*Type),
	}
}

// Register compiles and adds types. Names must be unique.
func (r *Registry) Register(types ...*Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		if err := t.compile(); err != nil {
			return err
		}
		if _, exists := r.types[t.name]; exists {
			return fmt.Errorf("%w: type %s already registered", ErrConfiguration, t.name)
		}
		r.types[t.name] = t
		r.byTable[t.table] = t
	}
	return nil
}

// Validate checks that every reference and dependent targets a registered type
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.types {
		for name, target := range t.references {
			if _, ok := r.types[target]; !ok {
				return fmt.Errorf("%w: reference %s.%s targets unknown type %s", ErrConfiguration, t.name, name, target)
			}
		}
		for name, cfg := range t.dependents {
			if _, ok := r.types[cfg.Type]; !ok {
				return fmt.Errorf("%w: dependent %s.%s targets unknown type %s", ErrConfiguration, t.name, name, cfg.Type)
			}
		}
	}
	return nil
}

// Lookup returns the named type
func (r *Registry) Lookup(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// ByTable returns the type backed by table
func (r *Registry) ByTable(table string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byTable[table]
	return t, ok
}

// Of returns the type of e and binds e to it if it was constructed directly
func (r *Registry) Of(e Entity) (*Type, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrConfiguration)
	}
	t, err := r.Lookup(e.TypeName())
	if err != nil {
		return nil, err
	}
	if b := e.Record(); b.Type() == nil {
		b.bind(t, e)
	}
	return t, nil
}

// Names returns the registered type names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
