package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-Api-Key"

// adminAuth rejects admin requests without the configured key. An empty key
// disables the check.
func adminAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get(AdminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(key)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized admin request")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipAllowlist admits only clients matching one of the given addresses or
// CIDR prefixes. An empty list admits everyone. Forwarding headers are only
// honoured when the router runs middleware.RealIP (TRUST_PROXY).
func ipAllowlist(entries []string) (func(http.Handler) http.Handler, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		var (
			prefix netip.Prefix
			err    error
		)
		if strings.Contains(entry, "/") {
			prefix, err = netip.ParsePrefix(entry)
		} else {
			var addr netip.Addr
			addr, err = netip.ParseAddr(entry)
			prefix = netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen())
		}
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}

	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := clientAddr(r)
			if !ok {
				respondError(w, http.StatusForbidden, "invalid client ip address")
				return
			}
			for _, p := range prefixes {
				if p.Contains(addr) {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, "ip not allowlisted")
		})
	}, nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func clientAddr(r *http.Request) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(clientIP(r))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// requestLogger logs one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"ip", clientIP(r),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
