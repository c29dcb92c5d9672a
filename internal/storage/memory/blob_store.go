// Package memory keeps cache entries in-process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/exercise-crawler/internal/cache"
)

// Store holds entries in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Flusher = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get returns a copy of the named entry.
func (s *Store) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data under name.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return nil
}

// Delete removes the named entry.
func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[name]; !ok {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	delete(s.data, name)
	return nil
}

// List returns every stored name in sorted order.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Flush drops every entry.
func (s *Store) Flush(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data)
	s.data = make(map[string][]byte)
	return n, nil
}
