package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity operations
var (
	// ErrConfiguration is returned when a relationship path, dependent name or
	// type mapping cannot be resolved from the registered descriptors
	ErrConfiguration = errors.New("entity configuration error")

	// ErrAmbiguousLink is returned when more than one link table could join two types
	ErrAmbiguousLink = fmt.Errorf("%w: ambiguous link table", ErrConfiguration)

	// ErrConflict is returned when adding a link that exists or removing one that does not
	ErrConflict = errors.New("entity link conflict")

	// ErrUnknownProperty is returned when setting a property the type does not declare
	ErrUnknownProperty = errors.New("unknown entity property")

	// ErrUnknownType is returned when a type name is not registered
	ErrUnknownType = fmt.Errorf("%w: unknown entity type", ErrConfiguration)

	// ErrStore marks failures surfaced by the query executor
	ErrStore = errors.New("entity store error")
)

// AmbiguousLinkError lists the candidate link tables that could not be narrowed to one
type AmbiguousLinkError struct {
	Parent     string
	Dependent  string
	Candidates []string
}

func (e *AmbiguousLinkError) Error() string {
	return fmt.Sprintf("ambiguous link table between %s and %s: candidates %v", e.Parent, e.Dependent, e.Candidates)
}

// Is reports ErrAmbiguousLink and ErrConfiguration
func (e *AmbiguousLinkError) Is(target error) bool {
	return target == ErrAmbiguousLink || target == ErrConfiguration
}

// StoreError wraps an executor failure with the operation that produced it
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// NewStoreError wraps err, or returns nil when err is nil
func NewStoreError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Table: table, Err: err}
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsConflict checks if an error is ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStore checks if an error came from the query executor
func IsStore(err error) bool {
	return errors.Is(err, ErrStore)
}
