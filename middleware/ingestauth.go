package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/relayforge/relayforge/credential"
)

type contextKey string

const (
	applicationIDKey = contextKey("application_id")
	ingestTokenIDKey = contextKey("ingest_token_id")
)

// IngestVerifier validates an ingestion bearer token.
type IngestVerifier interface {
	Verify(token string) (credential.IngestClaims, error)
}

// IngestAuth requires a valid "Bearer <token>" Authorization header on
// every request and injects the application and token identifiers the
// token asserts into context, for handlers downstream to read.
func IngestAuth(verifier IngestVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), applicationIDKey, claims.ApplicationID)
			ctx = context.WithValue(ctx, ingestTokenIDKey, claims.TokenID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ApplicationID extracts the authenticated application identifier injected
// by IngestAuth. Returns false if absent.
func ApplicationID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(applicationIDKey).(uuid.UUID)
	return id, ok
}

// IngestTokenID extracts the authenticated token identifier injected by
// IngestAuth. Returns false if absent.
func IngestTokenID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ingestTokenIDKey).(uuid.UUID)
	return id, ok
}
