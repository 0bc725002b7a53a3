package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/handlers/render"
	"github.com/nkiryanov/authcore/internal/handlers/userctx"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
)

type messageResponse struct {
	Message string `json:"message"`
}

// Principal built from registration request. Individuals start as youth
func newPrincipal(kind models.Kind, username string) (models.Principal, error) {
	role := ""
	if kind == models.KindIndividual {
		role = models.RoleYouth
	}
	return models.NewPrincipal(kind, "", username, role)
}

func handleRegister(as authService, ps principalService, l logger.Logger) http.Handler {
	type request struct {
		Kind     string `json:"kind" validate:"required,principal_kind"`
		Login    string `json:"login" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		principal, err := newPrincipal(models.Kind(data.Kind), data.Login)
		if err != nil {
			render.ServiceError(w, "Unknown principal kind", http.StatusBadRequest)
			return
		}

		principal, err = ps.Register(r.Context(), principal, data.Password)
		switch {
		case errors.Is(err, apperrors.ErrPrincipalAlreadyExists):
			render.ServiceError(w, "Principal already exists", http.StatusConflict)
			return
		case err != nil:
			l.Error("register failed", "kind", data.Kind, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		pair, err := as.Login(r.Context(), principal)
		if err != nil {
			writeAuthError(w, err, l)
			return
		}

		as.SetTokens(w, pair)
		render.JSON(w, messageResponse{Message: "Principal registered successfully"})
	})
}

func handleLogin(as authService, ps principalService, l logger.Logger) http.Handler {
	type request struct {
		Kind     string `json:"kind" validate:"required,principal_kind"`
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		principal, err := ps.Authenticate(r.Context(), models.Kind(data.Kind), data.Login, data.Password)
		switch {
		case errors.Is(err, apperrors.ErrPrincipalNotFound):
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		case err != nil:
			l.Error("authenticate failed", "kind", data.Kind, "error", err)
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		pair, err := as.Login(r.Context(), principal)
		if err != nil {
			writeAuthError(w, err, l)
			return
		}

		as.SetTokens(w, pair)
		render.JSON(w, messageResponse{Message: "Logged in successfully"})
	})
}

func handleRefresh(as authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := as.GetRefresh(r)
		if err != nil {
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			return
		}

		pair, err := as.Refresh(r.Context(), refresh)
		if err != nil {
			writeAuthError(w, err, l)
			return
		}

		as.SetTokens(w, pair)
		render.JSON(w, messageResponse{Message: "Tokens refreshed successfully"})
	})
}

// Logout always succeeds and always drops refresh cookie
func handleLogout(as authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh, err := as.GetRefresh(r); err == nil {
			_ = as.Logout(r.Context(), refresh)
		}

		as.ClearTokens(w)
		render.JSON(w, messageResponse{Message: "Logged out successfully"})
	})
}

func handleMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, user)
	})
}

type principalResponse struct {
	ID       string      `json:"id"`
	Kind     models.Kind `json:"kind"`
	Username string      `json:"username"`
	Role     string      `json:"role"`
}

// Look principal up by kind and id. Explicit role only, empty if role is implied
func handleGetPrincipal(ps principalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := models.ParseKind(r.PathValue("kind"))
		if err != nil {
			render.ServiceError(w, "Unknown principal kind", http.StatusBadRequest)
			return
		}

		p, err := ps.GetPrincipal(r.Context(), kind, r.PathValue("id"))
		switch {
		case errors.Is(err, apperrors.ErrPrincipalNotFound):
			render.ServiceError(w, "Principal not found", http.StatusNotFound)
			return
		case err != nil:
			l.Error("get principal failed", "kind", kind, "error", err)
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, principalResponse{
			ID:       p.PrincipalID(),
			Kind:     p.PrincipalKind(),
			Username: p.PrincipalUsername(),
			Role:     p.ExplicitRole(),
		})
	})
}

// Map token issue or refresh failure to response
// Rejected refresh tokens look the same to the client whatever the reason
func writeAuthError(w http.ResponseWriter, err error, l logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrRoleRequired):
		render.ServiceError(w, "Role required", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		l.Error("token store unavailable", "error", err)
		render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound),
		errors.Is(err, apperrors.ErrExpired),
		errors.Is(err, apperrors.ErrInvalidSignature):
		render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
	default:
		l.Error("unexpected auth error", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
