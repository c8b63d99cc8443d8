package schema

import (
	"context"
	"strings"
	"sync"
)

// PersistentStore is the tier that keeps encoded metadata across process
// restarts. Load reports a miss with ok == false and a nil error.
type PersistentStore interface {
	Load(ctx context.Context, key string) (value []byte, ok bool, err error)
	Save(ctx context.Context, key string, value []byte) error
	Purge(ctx context.Context, prefix string) error
}

// MemoryStore is a PersistentStore that lives as long as the process
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

// Load returns the value stored under key. The bool is false on a miss.
func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[key]
	return v, ok, nil
}

// Save stores value under key, replacing any previous value
func (s *MemoryStore) Save(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[key] = append([]byte(nil), value...)
	return nil
}

// Purge removes every key starting with prefix
func (s *MemoryStore) Purge(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			delete(s.m, k)
		}
	}
	return nil
}
