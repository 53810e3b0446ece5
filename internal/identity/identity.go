// Package identity derives a pseudo-anonymous client fingerprint from
// request metadata. The fingerprint is a dedupe heuristic, not an
// authentication mechanism: it is spoofable by varying headers, and
// distinct users behind the same NAT can collide. Callers must never
// treat a ClientID as a security boundary.
package identity

import (
	"net/http"
	"strconv"
	"strings"
)

// ClientID is a heuristic, unauthenticated client fingerprint. It is kept
// as a named type so it cannot be confused with a real user identifier.
type ClientID string

func (c ClientID) String() string { return string(c) }

// Derive computes a deterministic fingerprint from the three opaque
// metadata strings. Identical inputs always produce identical output;
// there is no salt or randomness, so a returning client maps to the same
// id across requests and process restarts.
//
// The hash is the classic 32-bit rolling hash h = h*31 + c with signed
// wraparound, rendered as the decimal absolute value. Stored client ids
// depend on these exact semantics, so the constants must not change.
func Derive(ip, userAgent, cookies string) ClientID {
	data := ip + ":" + userAgent + ":" + cookies

	var h int32
	for _, r := range data {
		h = (h << 5) - h + int32(r)
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}
	return ClientID(strconv.FormatInt(v, 10))
}

// FromRequest extracts the best-effort originating IP (forwarded-for
// header first, then real-ip, falling back to the loopback literal), the
// user agent, and the raw cookie header, and derives the fingerprint.
func FromRequest(r *http.Request) ClientID {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = "127.0.0.1"
	}
	return Derive(ip, r.UserAgent(), strings.Join(r.Header.Values("Cookie"), "; "))
}
