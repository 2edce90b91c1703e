package mw

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller's address. With trustProxy the left-most
// X-Forwarded-For entry wins, then X-Real-IP, then the socket peer.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipMatcher checks addresses against a set of prefixes.
type ipMatcher struct {
	prefixes []netip.Prefix
}

func newIPMatcher(prefixes []netip.Prefix) *ipMatcher {
	return &ipMatcher{prefixes: prefixes}
}

func (m *ipMatcher) IsEmpty() bool { return len(m.prefixes) == 0 }

func (m *ipMatcher) Allow(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
