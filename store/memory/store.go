// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/mailroute/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// Message bodies are kept in their encoded envelope form, the way the SQL
// stores keep them, so decoding behaves identically across backends.
type Store struct {
	mu        sync.RWMutex
	messages  map[int64]*row
	users     map[int64]*store.User
	emailIdx  map[string]int64 // email -> user ID
	nextMsg   int64
	nextUser  int64
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		messages: make(map[int64]*row),
		users:    make(map[int64]*store.User),
		emailIdx: make(map[string]int64),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected. Data is kept so a store can be
// reconnected in tests.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// Compile-time check
var _ store.Store = (*Store)(nil)
