package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/internal/uuid"
)

type contextKey int

const (
	identityKey contextKey = iota
	requestIDKey
)

const requestIDHeader = "X-Request-ID"

// Authenticate resolves a bearer token into the caller's identity. A
// request without a token proceeds anonymously; a request with a bad
// token is rejected.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "malformed Authorization header")
			return
		}
		if a.tokens == nil {
			writeError(w, http.StatusUnauthorized, "authentication unavailable")
			return
		}
		id, err := a.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			a.audit.logFailure(AuditTokenRejected, r, a.extractClientIP(r), "invalid token")
			a.mapError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects anonymous callers.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r.Context()).Anonymous() {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityFrom returns the authenticated caller, or the anonymous identity.
func identityFrom(ctx context.Context) access.Identity {
	id, _ := ctx.Value(identityKey).(access.Identity)
	return id
}

// requestID propagates or assigns an X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !uuid.Valid(id) {
			id = uuid.New()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
