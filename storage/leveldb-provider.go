package storage

import (
	"bytes"
	"context"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBProvider stores a namespace in a LevelDB database,
// with every key prefixed by the namespace.
type LevelDBProvider struct {
	db     *leveldb.DB
	prefix []byte
	owned  bool

	// orders writes with mirror reloads
	writeMutex sync.Mutex
	mirror     *mirror
}

// OpenLevelDBProvider opens the database directory at path.
// The database is closed when the provider is closed.
func OpenLevelDBProvider(ctx context.Context, path, namespace string) (*LevelDBProvider, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	l, err := NewLevelDBProvider(ctx, db, namespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// NewLevelDBProvider uses an already opened database.
// Closing the provider leaves db open.
func NewLevelDBProvider(ctx context.Context, db *leveldb.DB, namespace string) (*LevelDBProvider, error) {
	l := &LevelDBProvider{
		db:     db,
		prefix: []byte(namespace + ":"),
		mirror: newMirror(),
	}
	if _, err := l.ToObjectAsync(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LevelDBProvider) key(key string) []byte {
	return append(append([]byte(nil), l.prefix...), key...)
}

func (l *LevelDBProvider) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := l.db.Get(l.key(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (l *LevelDBProvider) SetItem(ctx context.Context, key string, value []byte) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	if err := l.db.Put(l.key(key), value, nil); err != nil {
		return err
	}
	l.mirror.set(map[string][]byte{key: append([]byte(nil), value...)})
	return nil
}

// SetItems writes all items in one leveldb batch.
func (l *LevelDBProvider) SetItems(ctx context.Context, items map[string][]byte) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	for key, value := range items {
		batch.Put(l.key(key), value)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return err
	}
	l.mirror.set(copyItems(items))
	return nil
}

func (l *LevelDBProvider) RemoveItem(ctx context.Context, key string) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	if err := l.db.Delete(l.key(key), nil); err != nil {
		return err
	}
	l.mirror.remove(key)
	return nil
}

func (l *LevelDBProvider) Clear(ctx context.Context) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	it := l.db.NewIterator(util.BytesPrefix(l.prefix), nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return err
	}
	if err := l.db.Write(batch, nil); err != nil {
		return err
	}
	l.mirror.replace(make(map[string][]byte))
	return nil
}

func (l *LevelDBProvider) ToObject() map[string][]byte {
	return l.mirror.snapshot()
}

func (l *LevelDBProvider) ToObjectAsync(ctx context.Context) (map[string][]byte, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	it := l.db.NewIterator(util.BytesPrefix(l.prefix), nil)
	defer it.Release()

	items := make(map[string][]byte)
	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), l.prefix))
		items[key] = append([]byte(nil), it.Value()...)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	l.mirror.replace(copyItems(items))
	return items, nil
}

func (l *LevelDBProvider) Close() error {
	if !l.owned {
		return nil
	}
	return l.db.Close()
}
