package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// requestIDKey is a type of its own, distinct from the contextKey type
// ingestauth.go uses, so RequestIDKey cannot collide with IngestAuth's keys.
type requestIDKey struct{}

// RequestIDKey is the context key RequestID stores the request's
// correlation ID under.
var RequestIDKey = requestIDKey{}

// RequestID assigns every request an X-Request-ID, reusing one already set
// by an upstream proxy and otherwise minting a new UUID. Unlike chi's own
// request ID (an incrementing per-process counter), this one is globally
// unique and suitable for cross-service log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID RequestID injected into ctx.
// Returns "" for a nil context, an empty context, or one carrying a value
// of the wrong type.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
