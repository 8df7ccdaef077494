package apicache

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/api-cache/api-cache/store"
)

const (
	// TTL is the fixed freshness window for every cached entry. There is no
	// sliding expiration and no per-entry override.
	TTL = 5 * time.Minute

	// NamespacePrefix names the slice of the store owned by this layer.
	// Every generation's namespace starts with it.
	NamespacePrefix = "api-cache-"

	// Version is the current cache generation. Bumping it makes every
	// previously stored entry obsolete: the next activation purges the old
	// generations rather than ever serving stale-format data.
	Version = "v3"
)

// Namespace returns the name of the current cache generation.
func Namespace() string {
	return NamespacePrefix + Version
}

type Config struct {
	// Storage for cache entries.
	Store store.Store
	// Transport used for the real network fetches.
	// http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Endpoints overrides the allow-list of cacheable endpoints.
	// DefaultEndpoints is used if empty.
	Endpoints []Endpoint
	// SingleFlight collapses concurrent fetches for the same key into one
	// network call. Off by default: the duplicate-fetch race on concurrent
	// misses is harmless for idempotent read endpoints.
	SingleFlight bool
	// Now overrides the clock, for tests.
	Now func() time.Time
}
