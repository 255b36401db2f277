package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Middleware records request count and latency per method, route and status.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routeLabel prefers the matched chi pattern. Requests that never reached
// the router (rate limited, oversized) fall back to normalizePath.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
			return strings.TrimSuffix(pattern, "/")
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces identifier segments under /api/v1 with {id}:
//
//	/api/v1/verifications/5f0c1c1e-...-9a2b -> /api/v1/verifications/{id}
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return path
	}

	out := []string{"/api/v1"}
	for i, seg := range strings.Split(rest, "/") {
		if seg == "" {
			continue
		}
		if i > 0 && isIdentifier(seg) {
			seg = "{id}"
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/")
}

func isIdentifier(seg string) bool {
	if common.IsHexAddress(seg) {
		return true
	}
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	_, err := strconv.ParseUint(seg, 10, 64)
	return err == nil
}
