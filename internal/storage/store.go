package storage

import (
	"sync"
)

// Store defines the interface for local key-value storage.
// Get and Put are each atomic; protocols serialize their own read-modify-write
// sequences.
type Store interface {
	// Get retrieves a value by key. The bool is false if the key is absent.
	Get(key string) ([]byte, bool, error)
	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error
	// Close releases resources held by the store.
	Close() error
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe and never returns shared slices.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (s *InMemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[key]
	if !exists {
		return nil, false, nil
	}
	// Return a copy to avoid external modifications
	return append([]byte(nil), v...), true, nil
}

// Put stores a copy of value under key.
func (s *InMemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = append([]byte{}, value...)
	return nil
}

// Len returns the number of keys held.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
