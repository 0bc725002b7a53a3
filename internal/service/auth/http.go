package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

// Write access token to header and refresh token to HttpOnly cookie
func (s *Service) SetTokens(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(pair.Refresh.ExpiresAt.Sub(s.now()).Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Ask client to drop refresh cookie
func (s *Service) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Read refresh token from request cookie
func (s *Service) GetRefresh(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", apperrors.ErrRefreshTokenNotFound
	}
	return cookie.Value, nil
}

// Auth reads bearer access token from request and verifies it
func (s *Service) Auth(ctx context.Context, r *http.Request) (models.AuthUser, error) {
	header := r.Header.Get(s.accessHeaderName)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, s.accessAuthScheme) || token == "" {
		return models.AuthUser{}, apperrors.NewAuthError(apperrors.KindInvalidSignature, errors.New("access token not found in request"))
	}

	return s.VerifyAccess(ctx, token)
}
