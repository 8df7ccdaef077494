package apicache

import (
	"net/http"
	"strings"

	credentialdigest "github.com/api-cache/api-cache/pkg/credential-digest"
)

const credentialHeaderName = "Authorization"

// Endpoint is one entry in the allow-list of cacheable read endpoints.
type Endpoint struct {
	// Prefix of the request path.
	Prefix string
	// AuthScoped marks the endpoint's responses as segmented per principal.
	// An auth-scoped endpoint is never cached when the caller's identity is
	// ambiguous.
	AuthScoped bool
}

// DefaultEndpoints is the fixed allow-list of read-only listing endpoints.
var DefaultEndpoints = []Endpoint{
	{Prefix: "/feed", AuthScoped: true},
	{Prefix: "/profiles", AuthScoped: true},
	{Prefix: "/daily-picks", AuthScoped: true},
}

type classifier struct {
	endpoints []Endpoint
}

// cacheable decides whether to mediate the request through the store.
// Anything not cacheable is passed through to the network untouched, with no
// store reads or writes.
func (c classifier) cacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	endpoint, ok := c.match(r.URL.Path)
	if !ok {
		return false
	}
	if hasNoStore(r.Header) {
		return false
	}
	if credential := r.Header.Get(credentialHeaderName); credential != "" {
		if _, ok := credentialdigest.Digest(credential); !ok && endpoint.AuthScoped {
			// fail closed: a credential we cannot digest must never end up
			// stored under an unsegmented key
			return false
		}
	}
	return true
}

func (c classifier) match(path string) (Endpoint, bool) {
	for _, endpoint := range c.endpoints {
		if strings.HasPrefix(path, endpoint.Prefix) {
			return endpoint, true
		}
	}
	return Endpoint{}, false
}

// hasNoStore checks for the single cache-control directive this layer
// understands: the request-side opt-out.
func hasNoStore(header http.Header) bool {
	for _, value := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return true
			}
		}
	}
	return false
}
