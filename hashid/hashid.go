// Package hashid turns client network addresses into opaque rate-limit keys.
// The digest is one-way: the service only ever compares hashed values for
// equality and never needs the original address back.
package hashid

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/sha3"
)

// UnknownAddr is hashed in place of a client address when none is resolvable.
const UnknownAddr = "unknown"

// Hasher computes salted digests of client addresses. Different salts produce
// unrelated digests, so rotating the salt severs all linkage to past notes.
type Hasher struct {
	salt string
}

func New(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// Hash returns the hex digest of addr under the process-wide salt. It is a
// pure function of its input and the salt.
func (h *Hasher) Hash(addr string) string {
	d := sha3.Sum256([]byte(addr + ":" + h.salt))
	return hex.EncodeToString(d[:])
}

// FromRequest resolves the client address used as the rate-limit key source.
// The X-Forwarded-For header is trusted as-is; this is a known, accepted
// limitation since the service runs behind a platform-managed proxy.
func FromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if addr := strings.TrimSpace(strings.Split(fwd, ",")[0]); addr != "" {
			return addr
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return UnknownAddr
}
