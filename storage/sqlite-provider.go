package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteProvider stores a namespace in a SQLite database.
// Several providers (namespaces) may share one database file.
type SQLiteProvider struct {
	db         *sql.DB
	namespace  string
	writeMutex *sync.Mutex
	mirror     *mirror
}

// NewSQLiteProvider opens (or creates) the database with the given filename
// and loads the namespace into the in-memory mirror.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteProvider(ctx context.Context, filename, namespace string) (*SQLiteProvider, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", filename, err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dictionary (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			PRIMARY KEY (namespace, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare sqlite db %s: %w", filename, err)
		}
	}
	s := &SQLiteProvider{
		db:         db,
		namespace:  namespace,
		writeMutex: &sync.Mutex{},
		mirror:     newMirror(),
	}
	if _, err := s.ToObjectAsync(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteProvider) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM dictionary WHERE namespace = ? AND key = ?", s.namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLiteProvider) SetItem(ctx context.Context, key string, value []byte) error {
	return s.SetItems(ctx, map[string][]byte{key: value})
}

// SetItems writes all items in a single transaction.
func (s *SQLiteProvider) SetItems(ctx context.Context, items map[string][]byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for key, value := range items {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO dictionary (namespace, key, value) VALUES (?, ?, ?)",
			s.namespace, key, value)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.mirror.set(copyItems(items))
	return nil
}

func (s *SQLiteProvider) RemoveItem(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM dictionary WHERE namespace = ? AND key = ?", s.namespace, key)
	if err != nil {
		return err
	}
	s.mirror.remove(key)
	return nil
}

func (s *SQLiteProvider) Clear(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM dictionary WHERE namespace = ?", s.namespace)
	if err != nil {
		return err
	}
	s.mirror.replace(make(map[string][]byte))
	return nil
}

func (s *SQLiteProvider) ToObject() map[string][]byte {
	return s.mirror.snapshot()
}

// ToObjectAsync reads the namespace and replaces the mirror with it.
// Writes are held off until the mirror is replaced.
func (s *SQLiteProvider) ToObjectAsync(ctx context.Context) (map[string][]byte, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM dictionary WHERE namespace = ?", s.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		items[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.mirror.replace(copyItems(items))
	return items, nil
}

func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
