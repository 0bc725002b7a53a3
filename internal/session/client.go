package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/auth/codec"
)

const (
	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"
	logoutPath  = "/api/auth/logout"

	refreshCookieName = "refreshtoken"
)

var (
	// Server rejected refresh token
	ErrUnauthorized = errors.New("unauthorized")

	ErrRateLimited = errors.New("too many requests")
)

// Client talks to authcore HTTP server. It implements Refresher
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// httpClient must not be wrapped with Transport: auth calls are never retried
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRefreshTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		now:     time.Now,
	}
}

// Login with credentials
// Wrong credentials: apperrors.ErrPrincipalNotFound
func (c *Client) Login(ctx context.Context, kind models.Kind, login string, password string) (models.TokenPair, error) {
	body, err := json.Marshal(map[string]string{
		"kind":     string(kind),
		"login":    login,
		"password": password,
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	resp, err := c.post(ctx, loginPath, bytes.NewReader(body), "")
	if err != nil {
		return models.TokenPair{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return c.readPair(resp)
	case http.StatusUnauthorized:
		return models.TokenPair{}, apperrors.ErrPrincipalNotFound
	default:
		return models.TokenPair{}, statusError(resp)
	}
}

// Refresh exchanges refresh token for a new pair
// Rejected token: *apperrors.AuthError of kind EXPIRED wrapping ErrUnauthorized
// Server unreachable: *apperrors.AuthError of kind NETWORK_FAILURE
func (c *Client) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	resp, err := c.post(ctx, refreshPath, nil, refresh)
	if err != nil {
		return models.TokenPair{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return c.readPair(resp)
	case http.StatusUnauthorized:
		return models.TokenPair{}, apperrors.NewAuthError(apperrors.KindExpired, ErrUnauthorized)
	default:
		return models.TokenPair{}, statusError(resp)
	}
}

// Logout revokes refresh token on the server
// Only failure to reach server is reported
func (c *Client) Logout(ctx context.Context, refresh string) error {
	resp, err := c.post(ctx, logoutPath, nil, refresh)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, refresh string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if refresh != "" {
		req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refresh})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewAuthError(apperrors.KindNetworkFailure, err)
	}
	return resp, nil
}

// Access token comes in Authorization header, refresh token in cookie
func (c *Client) readPair(resp *http.Response) (models.TokenPair, error) {
	var pair models.TokenPair

	scheme, access, found := strings.Cut(resp.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || access == "" {
		return pair, errors.New("response has no access token")
	}
	pair.Access.Value = access
	if claims, ok := codec.DecodeUnsafe(access); ok {
		pair.Access.ExpiresAt = claims.ExpiresAt
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name != refreshCookieName {
			continue
		}
		pair.Refresh.Value = cookie.Value
		switch {
		case cookie.MaxAge > 0:
			pair.Refresh.ExpiresAt = c.now().Add(time.Duration(cookie.MaxAge) * time.Second).Truncate(time.Second)
		case !cookie.Expires.IsZero():
			pair.Refresh.ExpiresAt = cookie.Expires
		}
	}
	if pair.Refresh.Value == "" {
		return pair, errors.New("response has no refresh token")
	}

	return pair, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w, retry after %s seconds", ErrRateLimited, resp.Header.Get("Retry-After"))
	}
	return fmt.Errorf("unexpected response status %d", resp.StatusCode)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
