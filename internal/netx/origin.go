// Package netx derives the requester's network origin and its one-way hash.
package netx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the requester's address. With trustedHops > 0 the request
// is assumed to pass through that many proxies that each append to
// X-Forwarded-For, and the entry the outermost one appended is used. Entries
// to its left are client supplied and never read. With trustedHops == 0, or a
// header shorter than the proxy chain, RemoteAddr is used.
func ClientIP(r *http.Request, trustedHops int) string {
	if trustedHops > 0 {
		hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
		if len(hops) >= trustedHops {
			return hops[len(hops)-trustedHops]
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if hop := strings.TrimSpace(part); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

// OriginHasher maps a raw origin to a fixed-length hex digest. Without a pepper
// the digest is a plain SHA-256, so the same origin hashes identically across
// profiles and deployments.
type OriginHasher struct {
	pepper      []byte
	trustedHops int
}

func NewOriginHasher(pepper string, trustedHops int) *OriginHasher {
	return &OriginHasher{pepper: []byte(pepper), trustedHops: trustedHops}
}

func (h *OriginHasher) Hash(origin string) string {
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(origin))
		return hex.EncodeToString(sum[:])
	}

	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(origin))
	return hex.EncodeToString(mac.Sum(nil))
}

// FromRequest hashes the request's client IP. The raw IP never leaves this call.
func (h *OriginHasher) FromRequest(r *http.Request) string {
	return h.Hash(ClientIP(r, h.trustedHops))
}
