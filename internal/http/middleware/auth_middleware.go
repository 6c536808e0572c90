package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/taskflow/taskflow-api/internal/http/response"
	"github.com/taskflow/taskflow-api/internal/service"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// Authenticator resolves a raw bearer token to a principal. service.AuthGate
// satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*service.Principal, error)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// AuthMiddleware rejects the request unless its bearer token is valid and its session
// is still live at the time of the request.
func AuthMiddleware(gate Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := gate.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				if errors.Is(err, service.ErrUnauthenticated) {
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing access token", nil)
					return
				}
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*service.Principal)
	return p, ok && p != nil
}
