package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Identity is an opaque per-client key used to partition rate-limit state.
// It is only ever compared for equality; today it is a validated IP string.
type Identity string

// Fallback is used when no candidate resolves to a syntactically valid
// address. Resolution never fails outright.
const Fallback Identity = "127.0.0.1"

// Trust order: the CDN-terminated header is hardest to forge, the
// forwarded-for chain the easiest. A value that does not parse as an IP is
// rejected rather than trusted, proxies inject all sorts of junk here.
var trustedHeaders = []string{"CF-Connecting-IP", "X-Real-IP"}

// Resolve derives the client identity from request metadata. Pure function
// of its inputs.
func Resolve(h http.Header, remoteAddr string) Identity {
	for _, name := range trustedHeaders {
		if ip, ok := validIP(h.Get(name)); ok {
			return Identity(ip)
		}
	}

	// first hop of the forwarded-for chain is the original client
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := validIP(first); ok {
			return Identity(ip)
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		host = strings.TrimSpace(remoteAddr)
	}
	if ip, ok := validIP(host); ok {
		return Identity(ip)
	}
	return Fallback
}

func validIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
