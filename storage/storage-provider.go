package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by providers that have been closed.
var ErrClosed = errors.New("storage provider closed")

// Provider is the durable medium behind a dictionary.
// It stores and retrieves []byte values under string keys within a namespace.
// Operating on a namespace is important so that several dictionaries
// can share the same database.
//
// Implementations must be thread-safe!
type Provider interface {
	// GetItem returns the stored value for key.
	// The boolean is false if the key does not exist.
	GetItem(ctx context.Context, key string) ([]byte, bool, error)
	// SetItem stores value under key.
	SetItem(ctx context.Context, key string, value []byte) error
	// SetItems stores all given values in one write.
	// Providers whose medium supports it must apply the write atomically.
	SetItems(ctx context.Context, items map[string][]byte) error
	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(ctx context.Context, key string) error
	// Clear deletes every key in the namespace.
	Clear(ctx context.Context) error
	// ToObject returns the in-memory mirror of the namespace.
	// It never touches the durable medium and may lag behind other writers.
	ToObject() map[string][]byte
	// ToObjectAsync reads the whole namespace from the durable medium
	// and refreshes the mirror with the result.
	ToObjectAsync(ctx context.Context) (map[string][]byte, error)
	// Close releases the underlying medium.
	Close() error
}

// mirror is the in-memory copy of a namespace that providers keep
// for synchronous reads. It is only updated after a durable write succeeded.
type mirror struct {
	mutex sync.RWMutex
	items map[string][]byte
}

func newMirror() *mirror {
	return &mirror{items: make(map[string][]byte)}
}

func (m *mirror) get(key string) ([]byte, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.items[key]
	return value, ok
}

func (m *mirror) set(items map[string][]byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key, value := range items {
		m.items[key] = value
	}
}

func (m *mirror) remove(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.items, key)
}

func (m *mirror) replace(items map[string][]byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.items = items
}

func (m *mirror) snapshot() map[string][]byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return copyItems(m.items)
}

func copyItems(items map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(items))
	for key, value := range items {
		out[key] = append([]byte(nil), value...)
	}
	return out
}
