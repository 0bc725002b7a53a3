package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/models"
)

type fakeSession struct {
	mu     sync.Mutex
	access string
	calls  int

	next string // access token set by successful refresh
	err  error
}

func (s *fakeSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *fakeSession) Refresh(ctx context.Context) (models.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return models.TokenPair{}, s.err
	}
	s.access = s.next
	return models.TokenPair{Access: models.IssuedToken{Value: s.next}}, nil
}

func (s *fakeSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Server accepting only "Bearer valid" and echoing request body back
func newProtectedServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer valid" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func Test_Transport(t *testing.T) {
	t.Parallel()

	t.Run("token attached to request", func(t *testing.T) {
		var hits atomic.Int32
		srv := newProtectedServer(t, &hits)
		session := &fakeSession{access: "valid"}
		client := NewHTTPClient(session)
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/api/orders", nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Empty(t, req.Header.Get("Authorization"), "caller request must not be modified")
		require.Equal(t, 0, session.Calls())
	})

	t.Run("401 refreshes and retries once", func(t *testing.T) {
		var hits atomic.Int32
		srv := newProtectedServer(t, &hits)
		session := &fakeSession{access: "stale", next: "valid"}
		client := NewHTTPClient(session)
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/orders", bytes.NewReader([]byte("12345")))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "12345", string(body), "body has to be sent again on retry")
		require.Equal(t, int32(2), hits.Load())
		require.Equal(t, 1, session.Calls())
	})

	t.Run("second 401 surfaced", func(t *testing.T) {
		var hits atomic.Int32
		srv := newProtectedServer(t, &hits)
		session := &fakeSession{access: "stale", next: "still-invalid"}
		client := NewHTTPClient(session)

		resp, err := client.Get(srv.URL + "/api/orders")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, int32(2), hits.Load(), "exactly one retry expected")
		require.Equal(t, 1, session.Calls())
	})

	t.Run("refresh failure returns original response", func(t *testing.T) {
		var hits atomic.Int32
		srv := newProtectedServer(t, &hits)
		session := &fakeSession{access: "stale", err: errors.New("session ended")}
		client := NewHTTPClient(session)

		resp, err := client.Get(srv.URL + "/api/orders")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "unauthorized", string(body), "original body must be readable")
		require.Equal(t, int32(1), hits.Load())
	})

	t.Run("auth endpoints passed through", func(t *testing.T) {
		var hits atomic.Int32
		srv := newProtectedServer(t, &hits)
		session := &fakeSession{access: "valid", next: "valid"}
		client := NewHTTPClient(session)

		resp, err := client.Post(srv.URL+"/api/auth/refresh", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "no token attached to auth requests")
		require.Equal(t, 0, session.Calls(), "auth requests never trigger refresh")
		require.Equal(t, int32(1), hits.Load())
	})

	t.Run("body that can't be replayed is not retried", func(t *testing.T) {
		var hits atomic.Int32
		srv := newProtectedServer(t, &hits)
		session := &fakeSession{access: "stale", next: "valid"}
		client := NewHTTPClient(session)
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/orders", io.NopCloser(strings.NewReader("12345")))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, 0, session.Calls())
	})

	t.Run("custom base transport used", func(t *testing.T) {
		var calls atomic.Int32
		base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			calls.Add(1)
			require.Equal(t, "Bearer valid", r.Header.Get("Authorization"))
			return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
		})
		client := &http.Client{Transport: &Transport{Base: base, Session: &fakeSession{access: "valid"}}}

		resp, err := client.Get("http://authcore.test/api/orders")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, int32(1), calls.Load())
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
