package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/models"
)

type authService interface {
	Auth(ctx context.Context, r *http.Request) (models.AuthUser, error)
}

type Auth struct {
	service authService
}

func NewAuth(s authService) *Auth {
	return &Auth{service: s}
}

// Auth lets request through only with valid access token and puts its user to context
func (a *Auth) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.service.Auth(r.Context(), r)
		switch {
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		case err != nil:
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(userctx.New(r.Context(), user)))
	})
}

// RequireRole lets request through only if user in context has one of the roles
// Has to be used after Auth
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			render.ServiceError(w, "Forbidden", http.StatusForbidden)
		})
	}
}
