package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/testutil"
)

func noEnv(string) string { return "" }

func Test_run(t *testing.T) {
	getwd := func() (string, error) { return t.TempDir(), nil }

	listenAddr := func(t *testing.T) string {
		port, err := testutil.RandomPort()
		require.NoError(t, err, "failed to get random port to start server")
		return fmt.Sprintf("localhost:%d", port)
	}

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noEnv, getwd, []string{
			"--address", listenAddr(t),
			"--log-level", "debug",
			"--database", "memory://",
			"--access-secret", "access",
			"--refresh-secret", "refresh",
		})

		require.NoError(t, err, "on correct stop should not return error")
	})

	t.Run("sqlite storage", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noEnv, getwd, []string{
			"--address", listenAddr(t),
			"--database", "sqlite://" + filepath.Join(t.TempDir(), "authcore.db"),
			"--access-secret", "access",
			"--refresh-secret", "refresh",
		})

		require.NoError(t, err)
	})

	t.Run("serves requests", func(t *testing.T) {
		addr := listenAddr(t)
		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() {
			done <- run(ctx, noEnv, getwd, []string{
				"--address", addr,
				"--access-secret", "access",
				"--refresh-secret", "refresh",
			})
		}()

		require.Eventually(t, func() bool {
			resp, err := http.Post("http://"+addr+"/api/auth/login", "application/json",
				strings.NewReader(`{"kind": "company", "login": "acme", "password": "password"}`))
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusUnauthorized
		}, 2*time.Second, 20*time.Millisecond, "server has to answer unknown principal with 401")

		cancel()
		require.NoError(t, <-done)
	})

	t.Run("missing secret fails", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		// Try to run without refresh secret. Must fail
		err := run(ctx, noEnv, getwd, []string{
			"--address", listenAddr(t),
			"--access-secret", "access",
		})

		require.Error(t, err, "on incorrect config should return error")
	})

	t.Run("invalid trusted proxies fails", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noEnv, getwd, []string{
			"--address", listenAddr(t),
			"--access-secret", "access",
			"--refresh-secret", "refresh",
			"--trusted-proxies", "proxy.local",
		})

		require.ErrorContains(t, err, "invalid trusted proxies")
	})

	t.Run("unsupported database fails", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
		t.Cleanup(cancel)

		err := run(ctx, noEnv, getwd, []string{
			"--address", listenAddr(t),
			"--database", "mysql://localhost",
			"--access-secret", "access",
			"--refresh-secret", "refresh",
		})

		require.ErrorContains(t, err, "unsupported database dsn")
	})
}

func Test_run_postgres(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	t.Cleanup(cancel)

	err = run(ctx, noEnv, func() (string, error) { return t.TempDir(), nil }, []string{
		"--address", fmt.Sprintf("localhost:%d", port),
		"--database", pg.DSN,
		"--access-secret", "access",
		"--refresh-secret", "refresh",
	})

	require.NoError(t, err)
}
