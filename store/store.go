package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("store: entry not found")

// Entry is the unit of storage: the serialized response bytes plus the value
// of the clock at capture time. Entries are overwritten whole on refresh,
// never merged.
type Entry struct {
	Bytes    []byte
	StoredAt time.Time
}

// Store is a namespaced key-value blob store for cached responses. A
// namespace groups one generation of entries and is purged as a whole on
// version upgrades and explicit invalidation.
//
// Implementations must be safe for concurrent use. The only write discipline
// is last-write-wins on a given key; there are no transactional guarantees
// across keys.
type Store interface {
	// Get returns the entry stored under the key, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) (Entry, error)
	// Put stores the entry under the key, overwriting any prior value.
	Put(ctx context.Context, namespace, key string, entry Entry) error
	// DeleteNamespace removes every entry in the namespace. Idempotent.
	DeleteNamespace(ctx context.Context, namespace string) error
	// ListNamespaces returns the namespaces currently holding entries
	// whose name starts with the given prefix.
	ListNamespaces(ctx context.Context, prefix string) ([]string, error)
}
