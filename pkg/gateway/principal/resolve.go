package principal

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// FingerprintHeader carries the optional client device fingerprint. It is
// combined with the IP to derive the admission identity; neither raw value
// is persisted.
const FingerprintHeader = "X-Device-Fingerprint"

type Resolved struct {
	// IP is the raw resolved client IP. It must not be logged.
	IP string
	// Identity is a hashed identifier suitable for storage keys and
	// in-memory maps.
	Identity string
}

// Resolve derives the client identity from the request. When the IP cannot
// be determined the identity falls back to "anonymous" so the limiter still
// has a key to meter against.
func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	if r == nil {
		return Resolved{Identity: "anonymous"}
	}

	ip := resolveClientIP(r, trustProxyHeaders)
	if ip == "" {
		return Resolved{Identity: "anonymous"}
	}

	fingerprint := strings.TrimSpace(r.Header.Get(FingerprintHeader))
	return Resolved{
		IP:       ip,
		Identity: IdentityKey(ip, fingerprint),
	}
}

// IdentityKey hashes IP plus optional fingerprint into the opaque admission
// identity. 16 bytes => 32 hex chars; enough to avoid collisions in practice.
func IdentityKey(ip, fingerprint string) string {
	sum := sha256.Sum256([]byte(ip + "|" + fingerprint))
	return "id_" + hex.EncodeToString(sum[:16])
}

func resolveClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}

	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Some proxies include a port; accept "ip:port" as well.
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}

	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
