package server

import "net/http"

// ConcurrencyLimit restricts the number of in-flight analysis requests.
// Requests beyond the limit are rejected with 503 rather than queued.
func ConcurrencyLimit(limit int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				writeError(w, http.StatusServiceUnavailable, "server busy, try again")
			}
		})
	}
}
