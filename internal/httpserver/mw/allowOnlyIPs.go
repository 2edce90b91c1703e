package mw

import (
	"net/http"
	"net/netip"

	"github.com/MrSnakeDoc/switchboard/internal/logger"
)

// AllowOnlyCIDRS allows only callers inside one of the prefixes. If the list is
// empty, it does NOT filter (passthrough). trustProxy should be true when
// running behind a trusted reverse proxy.
func AllowOnlyCIDRS(allowed []netip.Prefix, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m := newIPMatcher(allowed)
	if m.IsEmpty() {
		log.Debug("AllowOnlyCIDRS: empty matcher, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debugf("AllowOnlyCIDRS: initialized with %d rules, trustProxy=%v", len(allowed), trustProxy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Warn("control api request rejected",
					logger.String("ip", ip),
					logger.String("path", r.URL.Path))
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
