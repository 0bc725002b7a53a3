// Package janitor deletes refresh records nobody can use anymore.
package janitor

import (
	"context"
	"time"

	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/repository"
)

const (
	defaultInterval = time.Hour

	// Expired records are kept for a while for audit
	defaultRetention = 24 * time.Hour
)

type Option func(*Janitor)

func WithInterval(d time.Duration) Option {
	return func(j *Janitor) {
		j.interval = d
	}
}

func WithRetention(d time.Duration) Option {
	return func(j *Janitor) {
		j.retention = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(j *Janitor) {
		j.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		j.now = now
	}
}

type Janitor struct {
	storage   repository.Storage
	interval  time.Duration
	retention time.Duration
	logger    logger.Logger
	now       func() time.Time
}

func New(storage repository.Storage, opts ...Option) *Janitor {
	j := &Janitor{
		storage:   storage,
		interval:  defaultInterval,
		retention: defaultRetention,
		logger:    logger.NewNoOpLogger(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Sweep once: delete records expired longer than retention ago
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	return j.storage.Refresh().DeleteExpired(ctx, j.now().Add(-j.retention))
}

// Run sweeps every interval until ctx is done
// Returned channel is closed when the loop is stopped
func (j *Janitor) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	j.logger.Debug("Starting janitor", "interval", j.interval, "retention", j.retention)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				j.logger.Debug("Janitor stopped by context")
				return

			case <-ticker.C:
				count, err := j.Sweep(ctx)
				if err != nil {
					j.logger.Error("Failed to delete expired refresh tokens", "error", err)
					continue
				}
				if count > 0 {
					j.logger.Info("Expired refresh tokens deleted", "count", count)
				}
			}
		}
	}()

	return idleStopped
}
