package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nkiryanov/authcore/internal/db"
	"github.com/nkiryanov/authcore/internal/handlers"
	"github.com/nkiryanov/authcore/internal/handlers/middleware"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/repository/memory"
	"github.com/nkiryanov/authcore/internal/repository/postgres"
	"github.com/nkiryanov/authcore/internal/repository/sqlite"
	"github.com/nkiryanov/authcore/internal/service/auth"
	"github.com/nkiryanov/authcore/internal/service/auth/codec"
	"github.com/nkiryanov/authcore/internal/service/janitor"
	"github.com/nkiryanov/authcore/internal/service/principal"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	janitor *janitor.Janitor
	close   func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	tokenCodec, err := codec.New(codec.Config{AccessSecret: c.AccessSecret, RefreshSecret: c.RefreshSecret})
	if err != nil {
		return nil, fmt.Errorf("error while creating token codec. Err: %w", err)
	}

	trustedProxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies. Err: %w", err)
	}

	storage, closeStorage, err := openStorage(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize services
	principalService, err := principal.NewService(principal.DefaultHasher, storage)
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("error while creating principal service. Err: %w", err)
	}
	authService, err := auth.NewService(
		auth.Config{CookieSecure: c.CookieSecure},
		tokenCodec,
		storage,
		auth.WithLogger(logger),
		auth.WithMetrics(m),
	)
	if err != nil {
		closeStorage()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(
		handlers.RouterConfig{
			RateLimit: middleware.RateLimitConfig{
				Requests:       c.RateLimit,
				Window:         middleware.DefaultAuthRateLimit.Window,
				TrustedProxies: trustedProxies,
			},
			Metrics: metrics.Handler(reg),
		},
		authService,
		principalService,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		logger:     logger,
		janitor:    janitor.New(storage, janitor.WithLogger(logger)),
		close:      closeStorage,
	}, nil
}

// Pick storage by DSN scheme and prepare its schema
func openStorage(ctx context.Context, dsn string) (repository.Storage, func(), error) {
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "memory://"):
		return memory.NewStorage(), func() {}, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := db.ConnectAndMigrate(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		return postgres.NewStorage(pool), pool.Close, nil

	case strings.HasPrefix(dsn, "sqlite://"):
		conn, err := db.OpenSQLiteAndMigrate(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("error while opening sqlite db. Err: %w", err)
		}
		return sqlite.NewStorage(conn), func() { _ = conn.Close() }, nil

	default:
		return nil, nil, errors.New("unsupported database dsn, expected postgres://, sqlite:// or memory://")
	}
}

// Release storage connections
func (s *ServerApp) Close() {
	s.close()
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	janitorStopped := s.janitor.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-janitorStopped

	return err
}
