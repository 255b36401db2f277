package server

import (
	"net/http"
)

// maxBodySize limits request bodies to limitMB megabytes. A body that
// declares a larger Content-Length is rejected before the handler runs.
func maxBodySize(limitMB int) func(http.Handler) http.Handler {
	limit := int64(limitMB) * 1024 * 1024
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
