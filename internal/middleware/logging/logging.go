// Package logging provides structured HTTP request logging middleware.
package logging

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contraverify/internal/middleware/realip"
)

type fieldsKey struct{}

type fields struct {
	mu    sync.Mutex
	attrs []any
}

// AddAttrs adds key/value pairs to the request's log line. It is a no-op
// outside Middleware.
func AddAttrs(ctx context.Context, attrs ...any) {
	f, ok := ctx.Value(fieldsKey{}).(*fields)
	if !ok {
		return
	}
	f.mu.Lock()
	f.attrs = append(f.attrs, attrs...)
	f.mu.Unlock()
}

// Middleware returns an HTTP middleware that logs one line per request.
// Server errors are logged at error level and client errors at warn.
// The route is the chi pattern, so IDs do not leak into the field.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			extra := &fields{}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), fieldsKey{}, extra)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []any{
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"client_ip", realip.GetClientIP(r),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, "route", pattern)
				}
			}
			extra.mu.Lock()
			attrs = append(attrs, extra.attrs...)
			extra.mu.Unlock()

			switch {
			case status >= 500:
				logger.Error("request", attrs...)
			case status >= 400:
				logger.Warn("request", attrs...)
			default:
				logger.Info("request", attrs...)
			}
		})
	}
}
