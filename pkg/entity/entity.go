package entity

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Entity is a domain object backed by one table row.
// Domain structs embed Base and declare their registered type name:
//
//	type Course struct{ entity.Base }
//
//	func (*Course) TypeName() string { return "Course" }
type Entity interface {
	TypeName() string
	Record() *Base
}

// Base carries the state shared by every entity. Entities are shared through
// the identity map, so every field is guarded by mu. Accessors and other
// entities are always called with mu released.
type Base struct {
	mu   sync.RWMutex
	id   int64
	typ  *Type
	self Entity

	values   map[string]any
	refIDs   map[string]int64
	refs     map[string]Entity
	resolved map[string]any
	links    map[string][]int64
	snapshot map[string]any
}

// Record returns the embedded state
func (b *Base) Record() *Base { return b }

func (b *Base) bind(t *Type, self Entity) {
	b.mu.Lock()
	b.typ = t
	b.self = self
	b.mu.Unlock()
}

// Type returns the bound descriptor, nil for entities never seen by a registry
func (b *Base) Type() *Type {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.typ
}

// ID returns the primary key, 0 when not yet persisted
func (b *Base) ID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// SetID assigns the primary key
func (b *Base) SetID(id int64) {
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
}

// IsNew reports whether the entity has not been persisted
func (b *Base) IsNew() bool { return b.ID() == 0 }

// Get reads a property through the dispatch table
func (b *Base) Get(name string) any {
	if name == "id" {
		return b.ID()
	}
	p, ok := b.resolve(name)
	if !ok {
		v, _ := b.Value(name)
		return v
	}

	switch p.Kind {
	case KindAccessor:
		if self := b.owner(); p.Accessor.Get != nil && self != nil {
			return p.Accessor.Get(self)
		}
		v, _ := b.Value(name)
		return v
	case KindReference:
		ref, _ := b.Ref(name)
		return ref
	case KindReferenceID:
		return b.RefID(p.Reference)
	case KindDependent:
		v, _ := b.Resolved(name)
		return v
	default:
		v, _ := b.Value(name)
		return v
	}
}

// Set writes a property through the dispatch table
func (b *Base) Set(name string, v any) error {
	if name == "id" {
		id, ok := ToInt64(v)
		if !ok && v != nil {
			return fmt.Errorf("%w: id must be an integer, got %T", ErrUnknownProperty, v)
		}
		b.SetID(id)
		return nil
	}
	p, ok := b.resolve(name)
	if !ok {
		if t := b.Type(); t != nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, t.name, name)
		}
		b.setValue(name, v)
		return nil
	}

	switch p.Kind {
	case KindAccessor:
		if self := b.owner(); p.Accessor.Set != nil && self != nil {
			return p.Accessor.Set(self, v)
		}
		b.setValue(name, v)
	case KindReference:
		if v == nil {
			b.SetRef(name, nil)
			return nil
		}
		ref, ok := v.(Entity)
		if !ok {
			return fmt.Errorf("%w: reference %s expects an entity, got %T", ErrUnknownProperty, name, v)
		}
		b.SetRef(name, ref)
	case KindReferenceID:
		id, _ := ToInt64(v)
		b.SetRefID(p.Reference, id)
	case KindDependent:
		b.SetResolved(name, v)
	default:
		b.setValue(name, v)
	}
	return nil
}

// Assign stores a column-backed value without going through accessors
func (b *Base) Assign(name string, v any) {
	if p, ok := b.resolve(name); ok && p.Kind == KindReferenceID {
		id, _ := ToInt64(v)
		b.SetRefID(p.Reference, id)
		return
	}
	b.setValue(name, v)
}

// Value returns the stored plain value
func (b *Base) Value(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

func (b *Base) setValue(name string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[name] = v
}

func (b *Base) owner() Entity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self
}

// String returns a plain value as string, empty when unset
func (b *Base) String(name string) string {
	switch v := b.Get(name).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns a value as int64, 0 when unset or not numeric
func (b *Base) Int64(name string) int64 {
	i, _ := ToInt64(b.Get(name))
	return i
}

// Float returns a value as float64, 0 when unset or not numeric
func (b *Base) Float(name string) float64 {
	switch v := b.Get(name).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		i, _ := ToInt64(v)
		return float64(i)
	}
}

// Bool returns a value as bool
func (b *Base) Bool(name string) bool {
	switch v := b.Get(name).(type) {
	case bool:
		return v
	default:
		i, _ := ToInt64(v)
		return i != 0
	}
}

// Time returns a temporal value, the zero time when unset
func (b *Base) Time(name string) time.Time {
	if t, ok := b.Get(name).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// RefID returns the shadow foreign key of reference name
func (b *Base) RefID(name string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.refIDs[name]
}

// SetRefID sets the shadow foreign key and drops a resolved object that no
// longer matches it
func (b *Base) SetRefID(name string, id int64) {
	ref, resolved := b.Ref(name)
	stale := resolved && (ref == nil || ref.Record().ID() != id)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refIDs == nil {
		b.refIDs = make(map[string]int64)
	}
	b.refIDs[name] = id
	if current, ok := b.refs[name]; stale && ok && current == ref {
		delete(b.refs, name)
	}
}

// Ref returns the resolved reference object, if resolved
func (b *Base) Ref(name string) (Entity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ref, ok := b.refs[name]
	return ref, ok
}

// SetRef sets the resolved reference object and its shadow id
func (b *Base) SetRef(name string, ref Entity) {
	var id int64
	if ref != nil {
		id = ref.Record().ID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == nil {
		b.refs = make(map[string]Entity)
	}
	if b.refIDs == nil {
		b.refIDs = make(map[string]int64)
	}
	b.refs[name] = ref
	b.refIDs[name] = id
}

// SyncRefs copies the ids of resolved reference objects into the shadow fields.
// Needed when a referenced entity was saved after being assigned.
func (b *Base) SyncRefs() {
	b.mu.RLock()
	refs := make(map[string]Entity, len(b.refs))
	for name, ref := range b.refs {
		if ref != nil {
			refs[name] = ref
		}
	}
	b.mu.RUnlock()

	ids := make(map[string]int64, len(refs))
	for name, ref := range refs {
		ids[name] = ref.Record().ID()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, id := range ids {
		if b.refs[name] == refs[name] {
			b.refIDs[name] = id
		}
	}
}

// Resolved returns a loaded dependent value
func (b *Base) Resolved(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.resolved[name]
	return v, ok
}

// SetResolved stores a loaded dependent value
func (b *Base) SetResolved(name string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved == nil {
		b.resolved = make(map[string]any)
	}
	b.resolved[name] = v
}

// ForgetResolved drops every loaded dependent value
func (b *Base) ForgetResolved() {
	b.mu.Lock()
	b.resolved = nil
	b.mu.Unlock()
}

// Links returns parent type name to the parent ids this entity was loaded through
func (b *Base) Links() map[string][]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]int64, len(b.links))
	for k, v := range b.links {
		out[k] = append([]int64(nil), v...)
	}
	return out
}

// LinkedTo returns the parent ids of parentType
func (b *Base) LinkedTo(parentType string) []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]int64(nil), b.links[parentType]...)
}

// AddLink records that this entity is a dependent of parentType/id
func (b *Base) AddLink(parentType string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.links == nil {
		b.links = make(map[string][]int64)
	}
	for _, existing := range b.links[parentType] {
		if existing == id {
			return
		}
	}
	b.links[parentType] = append(b.links[parentType], id)
}

// RemoveLink forgets a parent link
func (b *Base) RemoveLink(parentType string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.links[parentType]
	for i, existing := range ids {
		if existing == id {
			b.links[parentType] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

// Storable returns the column-backed values keyed by property name. Reference
// shadow ids appear as <reference>Id, nil when unset.
func (b *Base) Storable() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.storable()
}

func (b *Base) storable() map[string]any {
	out := make(map[string]any, len(b.values)+len(b.refIDs))
	for k, v := range b.values {
		out[k] = v
	}
	if b.typ != nil {
		for _, name := range b.typ.ReferenceNames() {
			out[name+"Id"] = nilIfZero(b.refIDs[name])
		}
		return out
	}
	for name, id := range b.refIDs {
		out[name+"Id"] = nilIfZero(id)
	}
	return out
}

// Snapshot records the current values as the clean state
func (b *Base) Snapshot() {
	b.mu.Lock()
	b.snapshot = b.storable()
	b.mu.Unlock()
}

// Dirty returns the names of properties changed since the last snapshot
func (b *Base) Dirty() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dirty(b.storable())
}

func (b *Base) dirty(current map[string]any) []string {
	var dirty []string
	for k, v := range current {
		old, ok := b.snapshot[k]
		if !ok {
			if v != nil {
				dirty = append(dirty, k)
			}
			continue
		}
		if !valuesEqual(old, v) {
			dirty = append(dirty, k)
		}
	}
	for k, old := range b.snapshot {
		if _, ok := current[k]; !ok && old != nil {
			dirty = append(dirty, k)
		}
	}
	sort.Strings(dirty)
	return dirty
}

// Original returns the value of a storable property at the last snapshot
func (b *Base) Original(name string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot[name]
}

// Changes returns the changed properties with their current values
func (b *Base) Changes() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	current := b.storable()
	out := make(map[string]any)
	for _, k := range b.dirty(current) {
		out[k] = current[k]
	}
	return out
}

// IsDirty reports whether any property changed since the last snapshot
func (b *Base) IsDirty() bool {
	return len(b.Dirty()) > 0
}

func (b *Base) resolve(name string) (Property, bool) {
	t := b.Type()
	if t == nil {
		return Property{}, false
	}
	return t.Resolve(name)
}

func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func nilIfZero(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
