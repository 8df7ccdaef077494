package credentialdigest

import (
	"strconv"
	"strings"
)

// Digest derives a short deterministic identifier from the raw value of a
// credential header. The digest is used only to partition cache keys per
// principal: it is a 32-bit scatter hash with no collision resistance,
// explicitly not a security mechanism.
//
// An empty or blank credential yields no digest, and the second return
// value is false.
func Digest(credential string) (string, bool) {
	if strings.TrimSpace(credential) == "" {
		return "", false
	}
	var h int32
	for _, c := range credential {
		h = h<<5 - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36), true
}
