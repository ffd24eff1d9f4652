package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mpreston/matchpoint/internal/store"
)

type contextKey struct{}

// FromContext returns the authenticated user placed by Middleware.
func FromContext(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(contextKey{}).(store.User)
	return u, ok
}

// TokenFromRequest pulls the bearer token from the Authorization header, the
// token cookie, or (for websocket upgrades, where headers are awkward from
// browsers) the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects unauthenticated requests and stores the verified user in
// the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Identify(r.Context(), TokenFromRequest(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
