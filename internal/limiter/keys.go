package limiter

import (
	"net"
	"net/http"
	"strings"
)

// ClientKey identifies one caller for admission purposes: "user:<id>" when the
// request carries a verified identity, "ip:<addr>" otherwise. Keys are stable
// for the process lifetime.
type ClientKey string

// UserKey returns the admission key for an authenticated user.
func UserKey(userID string) ClientKey { return ClientKey("user:" + userID) }

// IPKey returns the admission key for an unauthenticated caller.
func IPKey(addr string) ClientKey { return ClientKey("ip:" + addr) }

// KeyFor resolves the admission key for a request. userID is the verified
// caller identity, or empty when the request is unauthenticated; the fallback
// to a network-address key is an explicit branch, not error recovery.
func KeyFor(userID string, r *http.Request) ClientKey {
	if userID != "" {
		return UserKey(userID)
	}
	return IPKey(clientIP(r))
}

// clientIP extracts the caller's address, preferring proxy-forwarded headers
// over the socket peer. The port is stripped so one host maps to one key.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		if ip, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(ip)
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr // no port present
	}
	return ip
}
