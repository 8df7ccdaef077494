// Package apicache implements a read-through HTTP response cache for a small
// allow-list of API endpoints. It intercepts outbound requests as an
// http.RoundTripper, segments stored responses per authenticated principal,
// serves fresh hits without a network call, and falls back to stale entries
// or a synthetic offline response when the network is down.
package apicache

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	cachekey "github.com/api-cache/api-cache/pkg/cache-key"
	credentialdigest "github.com/api-cache/api-cache/pkg/credential-digest"
	serializer "github.com/api-cache/api-cache/pkg/response-serializer"
	"github.com/api-cache/api-cache/store"
)

const (
	cacheStatusHeaderName = "Cache-Status"
	cacheStatusHit        = "Api-Cache; hit"
	cacheStatusStale      = "Api-Cache; hit; stale"
)

// Transport mediates allow-listed read requests through a persistent
// response store. It implements http.RoundTripper and is installed into an
// http.Client in front of the real transport.
type Transport struct {
	store      store.Store
	wrapped    http.RoundTripper
	classifier classifier
	namespace  string
	log        zerolog.Logger
	now        func() time.Time
	flight     *singleflight.Group
}

// New initializes the caching transport.
func New(config Config) *Transport {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("namespace", Namespace()).Logger()

	wrapped := config.Transport
	if wrapped == nil {
		wrapped = http.DefaultTransport
	}
	endpoints := config.Endpoints
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	t := &Transport{
		store:      config.Store,
		wrapped:    wrapped,
		classifier: classifier{endpoints: endpoints},
		namespace:  Namespace(),
		log:        logger,
		now:        now,
	}
	if config.SingleFlight {
		t.flight = &singleflight.Group{}
	}
	return t
}

// RoundTrip implements the http.RoundTripper interface.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if !t.classifier.cacheable(r) {
		return t.wrapped.RoundTrip(r)
	}
	digest, ok := credentialdigest.Digest(r.Header.Get(credentialHeaderName))
	if !ok {
		// no identity to segment by, never touch the store
		return t.wrapped.RoundTrip(r)
	}
	key, ok := cachekey.ForRequest(r, digest)
	if !ok {
		return t.wrapped.RoundTrip(r)
	}
	log := t.log.With().Str("key", key).Logger()

	entry, found := t.lookup(r.Context(), key, log)
	if found && t.fresh(entry) {
		if res := t.storedResponse(entry, r, cacheStatusHit, log); res != nil {
			log.Debug().Str("url", r.URL.String()).Int("hit", 1).Msg("Serving fresh entry")
			return res, nil
		}
	}

	res, err := t.refresh(r, key, log)
	if err != nil {
		log.Debug().Err(err).Msg("Network fetch failed")
		return t.fallback(r, entry, found, log)
	}
	return res, nil
}

func (t *Transport) lookup(ctx context.Context, key string, log zerolog.Logger) (store.Entry, bool) {
	entry, err := t.store.Get(ctx, t.namespace, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("Store read failed")
		}
		return store.Entry{}, false
	}
	return entry, true
}

// fresh reports whether the entry is within the freshness window.
func (t *Transport) fresh(entry store.Entry) bool {
	return t.now().Sub(entry.StoredAt) < TTL
}

// refresh performs the real network fetch for a miss or a stale entry.
func (t *Transport) refresh(r *http.Request, key string, log zerolog.Logger) (*http.Response, error) {
	if t.flight == nil {
		return t.fetchAndStore(r, key, log)
	}
	v, err, shared := t.flight.Do(key, func() (interface{}, error) {
		res, err := t.fetchAndStore(r, key, log)
		if err != nil {
			return nil, err
		}
		bts, err := httputil.DumpResponse(res, true)
		res.Body.Close()
		return bts, err
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Trace().Msg("Collapsed into in-flight fetch")
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(v.([]byte))), r)
}

// fetchAndStore fetches from the network and, on a 2xx response, writes the
// annotated response into the store under the derived key. The caller always
// gets the original response back.
func (t *Transport) fetchAndStore(r *http.Request, key string, log zerolog.Logger) (*http.Response, error) {
	res, err := t.wrapped.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Trace().Int("status", res.StatusCode).Msg("Not storing failure response")
		return res, nil
	}
	storedAt := t.now()
	bts, err := serializer.StoredResponseToBytes(serializer.TimedResponse{
		Response: res,
		StoredAt: storedAt,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Could not serialize response")
		return res, nil
	}
	if err := t.store.Put(r.Context(), t.namespace, key, store.Entry{
		Bytes:    bts,
		StoredAt: storedAt,
	}); err != nil {
		// degrade to passthrough, the response is still served
		log.Warn().Err(err).Msg("Store write failed")
	} else {
		log.Trace().Time("storedAt", storedAt).Msg("Wrote entry")
	}
	return res, nil
}

// fallback handles a network-level failure: serve the stored entry however
// stale it is, or synthesize an offline response if there is none. Staleness
// loses to availability here, these are read-only listings.
func (t *Transport) fallback(r *http.Request, entry store.Entry, found bool, log zerolog.Logger) (*http.Response, error) {
	if found {
		if res := t.storedResponse(entry, r, cacheStatusStale, log); res != nil {
			log.Debug().Str("url", r.URL.String()).Msg("Serving stale entry after network failure")
			return res, nil
		}
	}
	log.Debug().Str("url", r.URL.String()).Msg("Offline with no stored entry")
	return offlineResponse(r), nil
}

func (t *Transport) storedResponse(entry store.Entry, r *http.Request, status string, log zerolog.Logger) *http.Response {
	tres, err := serializer.BytesToStoredResponse(entry.Bytes, r)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read stored response")
		return nil
	}
	tres.Response.Header.Set(cacheStatusHeaderName, status)
	return tres.Response
}

// offlineResponse is the only response this layer manufactures itself. The
// fixed status and machine-readable body let the caller distinguish "no data,
// no network" from a generic failure.
func offlineResponse(r *http.Request) *http.Response {
	body := []byte(`{"error":"offline"}`)
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
