package cachekey

import "net/http"

const userSeparator = "#user="

// Derive combines request identity and the caller's credential digest into a
// store key of the form "{path}?{query}#user={digest}". The digest partitions
// the key space so that no two principals can address the same slot.
//
// An empty digest yields no key, and the second return value is false. A
// request without a derivable digest must never be cached under an
// unsegmented key.
func Derive(path, rawQuery, digest string) (string, bool) {
	if digest == "" {
		return "", false
	}
	key := path
	if rawQuery != "" {
		key += "?" + rawQuery
	}
	return key + userSeparator + digest, true
}

// ForRequest derives the store key for an outbound request.
func ForRequest(r *http.Request, digest string) (string, bool) {
	return Derive(r.URL.Path, r.URL.RawQuery, digest)
}
