package middleware

import (
	"net/http"

	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
)

// Metrics tracks request counts and in-flight requests.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.RequestStarted()
		defer done()

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)
		metrics.ObserveRequest(wrapped.statusCode)
	})
}
