package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/sakif/tenant-accounts/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue accepts any key. With a plain string like "userID", any
// package could read or shadow the value. Only this package can build a
// contextKey, so only this package can read or write the user id.
type contextKey string

const (
	userIDKey     contextKey = "userID"
	userIDSinkKey contextKey = "userIDSink"
)

// CookieName is the cookie that carries the session token.
const CookieName = "token"

// RoleLookup resolves a user's current server role.
type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (model.Role, error)
}

// RequireAuth rejects requests without a valid session token with 401 and
// stores the user id in the request context otherwise.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := extractUserID(r, tokens)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequireRole allows the request only when the authenticated caller currently
// holds one of roles. It must run after RequireAuth.
//
// The role is read on every request, so a demoted administrator loses access
// immediately even though their token is still valid.
func RequireRole(lookup RoleLookup, roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			role, err := lookup.GetRole(r.Context(), userID)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}
			if !slices.Contains(roles, role) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "insufficient server role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a context carrying the authenticated user id. The id is
// also written to the sink installed by WithUserIDSink, if any.
func WithUserID(ctx context.Context, userID string) context.Context {
	if sink, ok := ctx.Value(userIDSinkKey).(*string); ok && sink != nil {
		*sink = userID
	}
	return context.WithValue(ctx, userIDKey, userID)
}

// WithUserIDSink lets an outer middleware learn the user id that an inner
// RequireAuth resolves.
func WithUserIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, userIDSinkKey, sink)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// extractUserID prefers an Authorization: Bearer header and falls back to
// the session cookie.
func extractUserID(r *http.Request, tokens *TokenService) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || raw == "" {
			return "", errors.New("auth: malformed Authorization header")
		}
		return tokens.Validate(raw)
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + kind + `","message":"` + message + `"}`))
}
