package storage

import (
	"context"
	"sync"
)

// MemoryProvider keeps the namespace in process memory only.
// It is meant for tests and for sessions that need no durability.
type MemoryProvider struct {
	mutex  *sync.RWMutex
	db     map[string][]byte
	mirror *mirror
	closed bool
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		mutex:  &sync.RWMutex{},
		db:     make(map[string][]byte),
		mirror: newMirror(),
	}
}

func (m *MemoryProvider) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	value, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryProvider) SetItem(ctx context.Context, key string, value []byte) error {
	return m.SetItems(ctx, map[string][]byte{key: value})
}

func (m *MemoryProvider) SetItems(ctx context.Context, items map[string][]byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}
	items = copyItems(items)
	for key, value := range items {
		m.db[key] = value
	}
	m.mirror.set(items)
	return nil
}

func (m *MemoryProvider) RemoveItem(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.db, key)
	m.mirror.remove(key)
	return nil
}

func (m *MemoryProvider) Clear(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.db = make(map[string][]byte)
	m.mirror.replace(make(map[string][]byte))
	return nil
}

func (m *MemoryProvider) ToObject() map[string][]byte {
	return m.mirror.snapshot()
}

func (m *MemoryProvider) ToObjectAsync(ctx context.Context) (map[string][]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	items := copyItems(m.db)
	m.mirror.replace(copyItems(items))
	return items, nil
}

func (m *MemoryProvider) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}
