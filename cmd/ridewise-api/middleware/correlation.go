// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"net/http"

	"github.com/ridewise-ai/ridewise/internal/observability"
)

const correlationHeader = "X-Correlation-ID"

// Correlation attaches a correlation id to every request: inherited from the
// caller's header when present, minted otherwise, and echoed back in the
// response so clients can reference it in reports.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cid := r.Header.Get(correlationHeader); cid != "" {
			ctx = observability.ContextWithCorrelationID(ctx, cid)
		}
		ctx, cid := observability.EnsureCorrelationID(ctx)

		w.Header().Set(correlationHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
