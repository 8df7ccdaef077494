package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory store implementation. It is not durable and is
// intended for tests and short-lived processes.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]map[string]Entry),
	}
}

func (m *MemoryStore) Get(_ context.Context, namespace, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.namespaces[namespace][key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryStore) Put(_ context.Context, namespace, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Entry)
		m.namespaces[namespace] = ns
	}
	ns[key] = entry
	return nil
}

func (m *MemoryStore) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func (m *MemoryStore) ListNamespaces(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

var _ Store = (*MemoryStore)(nil)
