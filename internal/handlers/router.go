package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	// Applied to register, login and refresh per client IP
	RateLimit middleware.RateLimitConfig

	// Served on /metrics if set
	Metrics http.Handler
}

func NewRouter(
	cfg RouterConfig,
	authService authService,
	principalService principalService,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.NewAuth(authService)
	limit := middleware.NewRateLimit(cfg.RateLimit, logger).Limit

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", limit(handleRegister(authService, principalService, logger)))
	apiauth.Handle("POST /login", limit(handleLogin(authService, principalService, logger)))
	apiauth.Handle("POST /refresh", limit(handleRefresh(authService, logger)))
	apiauth.Handle("POST /logout", handleLogout(authService))
	apiauth.Handle("GET /me", authMiddleware.Auth(handleMe()))
	apiauth.Handle("GET /principals/{kind}/{id}", chain(
		handleGetPrincipal(principalService, logger),
		authMiddleware.Auth,
		middleware.RequireRole(models.RoleAdmin),
	))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))
	if cfg.Metrics != nil {
		root.Handle("GET /metrics", cfg.Metrics)
	}

	handler := chain(root,
		middleware.LoggerMiddleware(logger, cfg.RateLimit.TrustedProxies...),
	)

	return handler
}

type authService interface {
	// Issue token pair for authenticated principal
	// If principal can't get a role has to return error matching apperrors.ErrRoleRequired
	Login(ctx context.Context, principal models.Principal) (models.TokenPair, error)

	// Refresh tokens using refresh token
	// Rejected token: error matching apperrors.ErrRefreshTokenNotFound or auth error kinds
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token, never fails sign out
	Logout(ctx context.Context, refresh string) error

	// Set auth tokens (access, refresh) to response
	SetTokens(w http.ResponseWriter, pair models.TokenPair)

	// Drop refresh cookie
	ClearTokens(w http.ResponseWriter)

	// Get refresh token from request
	GetRefresh(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	Auth(ctx context.Context, r *http.Request) (models.AuthUser, error)
}

type principalService interface {
	// Has to return apperrors.ErrPrincipalAlreadyExists if kind and username are taken
	Register(ctx context.Context, p models.Principal, password string) (models.Principal, error)

	// Has to return apperrors.ErrPrincipalNotFound on unknown login or wrong password
	Authenticate(ctx context.Context, kind models.Kind, username string, password string) (models.Principal, error)

	// Has to return apperrors.ErrPrincipalNotFound if there is no principal with the id
	GetPrincipal(ctx context.Context, kind models.Kind, id string) (models.Principal, error)
}
