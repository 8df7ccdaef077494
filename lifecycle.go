package apicache

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/api-cache/api-cache/store"
)

// Message types exchanged with the application layer.
const (
	// MessageClearCache is the command the application sends on any
	// authentication-state transition (login or logout).
	MessageClearCache = "CLEAR_CACHE"
	// MessageCacheCleared is broadcast to every subscriber once a purge
	// completes.
	MessageCacheCleared = "CACHE_CLEARED"
)

// Message is the envelope for invalidation commands and confirmations.
type Message struct {
	Type string `json:"type"`
}

// Manager owns the lifecycle of the versioned cache namespace: purging
// obsolete generations on activation, flushing the current generation on
// explicit invalidation, and notifying subscribers when a flush completes.
type Manager struct {
	store store.Store
	log   zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan Message]struct{}
}

// NewManager creates a lifecycle manager for the given store.
func NewManager(s store.Store, logger *zerolog.Logger) *Manager {
	var log zerolog.Logger
	if logger == nil {
		log = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		log = *logger
	}
	return &Manager{
		store:       s,
		log:         log.With().Str("namespace", Namespace()).Logger(),
		subscribers: make(map[chan Message]struct{}),
	}
}

// Activate garbage-collects cache generations across versions: every
// namespace carrying this layer's prefix but not the current version string
// is deleted. The current generation is untouched. Call it once at process
// start, before serving requests.
func (m *Manager) Activate(ctx context.Context) error {
	names, err := m.store.ListNamespaces(ctx, NamespacePrefix)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}
	current := Namespace()
	for _, name := range names {
		if name == current {
			continue
		}
		m.log.Debug().Str("obsolete", name).Msg("Deleting obsolete cache generation")
		if err := m.store.DeleteNamespace(ctx, name); err != nil {
			return fmt.Errorf("delete namespace %s: %w", name, err)
		}
	}
	return nil
}

// Invalidate deletes the entire current generation outright, then broadcasts
// a confirmation to every subscriber. This is the namespace-level purge that
// keeps a newly authenticated principal from ever observing a previous
// principal's entries, alongside the per-key digest segmentation.
func (m *Manager) Invalidate(ctx context.Context) error {
	if err := m.store.DeleteNamespace(ctx, Namespace()); err != nil {
		return fmt.Errorf("delete namespace %s: %w", Namespace(), err)
	}
	m.log.Debug().Msg("Cache cleared")
	m.broadcast(Message{Type: MessageCacheCleared})
	return nil
}

// HandleMessage processes a command from the application layer. Unknown
// message types are ignored.
func (m *Manager) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageClearCache:
		return m.Invalidate(ctx)
	default:
		m.log.Trace().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}

// Subscribe registers a listener for confirmation broadcasts. The returned
// channel is buffered with room for one message: a subscriber that drains it
// receives every broadcast, one that does not misses later broadcasts rather
// than blocking the purge.
func (m *Manager) Subscribe() chan Message {
	ch := make(chan Message, 1)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes the listener and closes its channel.
func (m *Manager) Unsubscribe(ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (m *Manager) broadcast(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- msg:
		default:
			// subscriber is not keeping up, drop rather than block
		}
	}
}
