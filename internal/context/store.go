// Package context holds the run-scoped, append-only context store that stages
// read their inputs from and commit their outputs to.
package context

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrKeyNotFound is returned by Get when a key has not been committed.
	ErrKeyNotFound = errors.New("context key not found")
	// ErrDuplicateKey is returned by Commit when a key is already set.
	ErrDuplicateKey = errors.New("context key already committed")
)

// Store is an append-only key/value store owned by a single pipeline run.
// Once a key is committed it is never overwritten.
type Store struct {
	mu     sync.RWMutex
	values map[string]Value
	order  []string
}

// NewStore creates a store seeded with the initial context. Initial keys are
// committed in sorted order and are append-only like any other key.
func NewStore(initial map[string]any) (*Store, error) {
	s := &Store{values: make(map[string]Value)}
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Commit(k, initial[k]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns a deep copy of the value for key.
func (s *Store) Get(key string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return clone(v), nil
}

// Has reports whether key has been committed.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Commit sets key to a normalized copy of value. It fails with ErrDuplicateKey
// if the key is already set.
func (s *Store) Commit(key string, value any) error {
	if key == "" {
		return fmt.Errorf("commit: empty key")
	}
	v, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("commit %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	s.values[key] = v
	s.order = append(s.order, key)
	return nil
}

// Keys returns committed keys in commit order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of committed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns an immutable view of the store as it is now. Later commits
// are not visible through the snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		values[k] = clone(v)
	}
	return Snapshot{values: values, order: append([]string(nil), s.order...)}
}

// Snapshot is a read-only view of a Store. The zero value is an empty snapshot.
// A Snapshot is safe for concurrent use.
type Snapshot struct {
	values map[string]Value
	order  []string
}

// Get returns a deep copy of the value for key.
func (s Snapshot) Get(key string) (Value, error) {
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return clone(v), nil
}

// Has reports whether key is present.
func (s Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns keys in commit order.
func (s Snapshot) Keys() []string {
	return append([]string(nil), s.order...)
}

// Lookup returns the prompt text for key.
func (s Snapshot) Lookup(key string) (string, bool) {
	v, ok := s.values[key]
	if !ok {
		return "", false
	}
	return Text(v), true
}
