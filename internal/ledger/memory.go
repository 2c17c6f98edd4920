package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store, used in tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns a store seeded with a default entry per key.
func NewMemoryStore(keys ...string) *MemoryStore {
	s := &MemoryStore{}
	_ = s.Initialize(keys)
	return s
}

// Initialize implements Store.
func (s *MemoryStore) Initialize(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry, len(keys))
	for _, k := range keys {
		s.entries[k] = DefaultEntry()
	}
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(key string, updates Updates) error {
	if err := validate(updates); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, key)
	}
	for name, v := range updates {
		entry[name] = v.clone()
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(key, name string) (Value, error) {
	if !Known(name) {
		return Value{}, fmt.Errorf("%w: %s is not a valid metric", ErrUnknownMetric, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownEvent, key)
	}
	return lookup(entry, name), nil
}

// GetAll implements Store.
func (s *MemoryStore) GetAll(key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, key)
	}
	return filled(entry), nil
}

// Events implements Store.
func (s *MemoryStore) Events() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
