// Package realip resolves the client address of a request, honoring
// X-Forwarded-For only when the direct peer is a trusted proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP parsing
	TrustProxy bool
	// TrustedProxies lists proxy ranges in CIDR notation or as bare IPs
	TrustedProxies []string
}

// ParsePrefixes parses CIDRs and bare addresses. Invalid entries are skipped.
func ParsePrefixes(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// Middleware returns an HTTP middleware that stores the client IP in the
// request context for GetClientIP.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	var trusted []netip.Prefix
	if cfg.TrustProxy {
		trusted = ParsePrefixes(cfg.TrustedProxies)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, ip)))
		})
	}
}

// ClientIP returns the client address of r. Forwarding headers are read
// only when the peer is inside trusted. The X-Forwarded-For chain is walked
// right to left and the first untrusted hop is the client.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := hostOnly(r.RemoteAddr)
	if len(trusted) == 0 || !contains(trusted, peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !contains(trusted, hop) {
			return hop
		}
	}
	// every hop is a proxy we trust
	return strings.TrimSpace(hops[0])
}

// GetClientIP returns the client IP stored by Middleware, falling back to
// the peer address.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func contains(prefixes []netip.Prefix, ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
