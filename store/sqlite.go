package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore persists cache entries in a local SQLite database. It is
// durable across process restarts, which makes it the production store for
// long-lived installations.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStore creates a new store with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteStore(filename string) SQLiteStore {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		namespace TEXT,
		key TEXT,
		stored_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS namespace_idx ON cache (namespace)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteStore) Get(ctx context.Context, namespace, key string) (Entry, error) {
	var entry Entry
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT stored_at, bytes FROM cache WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&storedAt, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, nil
}

func (s SQLiteStore) Put(ctx context.Context, namespace, key string, entry Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (namespace, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		namespace, key, entry.StoredAt.Unix(), entry.Bytes)
	return err
}

func (s SQLiteStore) DeleteNamespace(ctx context.Context, namespace string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE namespace = ?", namespace)
	return err
}

func (s SQLiteStore) ListNamespaces(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT namespace FROM cache WHERE namespace LIKE ?", prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	namespaces := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return namespaces, err
		}
		namespaces = append(namespaces, name)
	}
	return namespaces, rows.Err()
}
