package session

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/nkiryanov/authcore/internal/models"
)

// Requests under this prefix belong to the auth subsystem and are never retried
const DefaultAuthPathPrefix = "/api/auth/"

// Session is what Transport needs from Scheduler
type Session interface {
	AccessToken() string
	Refresh(ctx context.Context) (models.TokenPair, error)
}

// Transport attaches bearer access token to requests
// On 401 it refreshes the session and retries the request exactly once
type Transport struct {
	// http.DefaultTransport if nil
	Base http.RoundTripper

	Session Session

	// Requests passed through untouched. Nil means nothing is skipped
	Skip func(*http.Request) bool
}

// Build http client that keeps session alive
func NewHTTPClient(s Session) *http.Client {
	return &http.Client{
		Transport: &Transport{
			Session: s,
			Skip:    SkipPathPrefix(DefaultAuthPathPrefix),
		},
	}
}

func SkipPathPrefix(prefix string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, prefix)
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base()
	if t.Skip != nil && t.Skip(req) {
		return base.RoundTrip(req)
	}

	resp, err := base.RoundTrip(withAccess(req, t.Session.AccessToken()))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Body was consumed by the first attempt and can't be sent again
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if !replayable {
		return resp, nil
	}

	pair, err := t.Session.Refresh(req.Context())
	if err != nil {
		return resp, nil
	}

	retry := withAccess(req, pair.Access.Value)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return base.RoundTrip(retry)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTripper must not modify the request, so token is set on a clone
func withAccess(req *http.Request, access string) *http.Request {
	r := req.Clone(req.Context())
	if access != "" {
		r.Header.Set("Authorization", "Bearer "+access)
	}
	return r
}
