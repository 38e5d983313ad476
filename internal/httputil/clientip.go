package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP extracts the client address from the request.
// When trustProxy is true, the RFC 7239 Forwarded header, then the first
// X-Forwarded-For entry, then X-Real-IP are consulted before RemoteAddr.
// Header values that do not parse as an IP address are ignored. Only enable
// trustProxy behind a trusted reverse proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip, ok := forwardedFor(r.Header.Get("Forwarded")); ok {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LimitKey maps a client address to the bucket used for per-client limits.
// IPv6 clients usually hold a whole /64, so they share one bucket per prefix.
// IPv4 (including v4-mapped IPv6) is keyed by the bare address. Anything that
// is not an IP is returned unchanged.
func LimitKey(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return addr.String()
	}
	prefix, err := addr.WithZone("").Prefix(64)
	if err != nil {
		return ip
	}
	return prefix.String()
}

// forwardedFor returns the for= parameter of the first Forwarded element.
func forwardedFor(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	first, _, _ := strings.Cut(h, ",")
	for _, pair := range strings.Split(first, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(k, "for") {
			continue
		}
		v = strings.Trim(v, `"`)
		// for="[2001:db8::1]:4711" or for=192.0.2.60:8080
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
		v = strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
		return parseIP(v)
	}
	return "", false
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
