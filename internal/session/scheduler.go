// Package session keeps a client side session alive.
//
// Scheduler renews the access token shortly before it expires, and Transport renews it when a
// request comes back with 401. Both go through Scheduler.Refresh, which runs at most one
// exchange at a time and hands its outcome to every concurrent caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/metrics"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/service/auth/codec"
)

const (
	// Never refresh sooner than this after arming
	minRefreshDelay = 30 * time.Second

	// Refresh at 80% of remaining lifetime or this long before expiry, whichever is sooner
	refreshLead  = 2 * time.Minute
	refreshShare = 0.8

	defaultRefreshTimeout = 30 * time.Second
)

// ErrSessionEnded is matched by every error returned once the session can't be refreshed anymore
var ErrSessionEnded = errors.New("session ended")

// Refresher exchanges refresh token for a new token pair
type Refresher interface {
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)
}

type State int

const (
	StateIdle State = iota
	StateArmed
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Option func(*Scheduler)

func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// Upper bound for one exchange; callers that give up earlier don't cancel it
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// Called with every pair obtained by refresh, e.g. to persist it
func WithOnRefreshed(fn func(models.TokenPair)) Option {
	return func(s *Scheduler) {
		s.onRefreshed = fn
	}
}

// Called once when session ends because refresh failed; the caller has to log in again
func WithOnFailed(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onFailed = fn
	}
}

// Scheduler owns the state of one session. Sessions never share state
type Scheduler struct {
	refresher Refresher
	clock     Clock
	timeout   time.Duration
	logger    logger.Logger
	metrics   *metrics.Metrics

	onRefreshed func(models.TokenPair)
	onFailed    func(error)

	flight singleflight.Group

	mu    sync.Mutex
	state State
	pair  models.TokenPair
	timer Timer

	// generation changes on Start and Stop, so exchanges started before are discarded
	generation uint64
	// timerSeq tells the armed timer from the replaced ones
	timerSeq uint64
}

func NewScheduler(refresher Refresher, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher: refresher,
		clock:     realClock{},
		timeout:   defaultRefreshTimeout,
		logger:    logger.NewNoOpLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.WithGroup("session")

	return s
}

// Start session with pair obtained on login or restored from storage
// Previous session state, if any, is dropped
func (s *Scheduler) Start(pair models.TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.pair = pair
	s.state = StateArmed
	s.armLocked()
}

// Stop clears the timer and forgets tokens
// Exchange in flight is not cancelled, its result is discarded
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.stopTimerLocked()
	s.pair = models.TokenPair{}
	s.state = StateIdle
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current pair; false if session is not running
func (s *Scheduler) Tokens() (models.TokenPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle || s.state == StateFailed {
		return models.TokenPair{}, false
	}
	return s.pair, true
}

func (s *Scheduler) AccessToken() string {
	pair, _ := s.Tokens()
	return pair.Access.Value
}

// Refresh exchanges current refresh token for a new pair
// Callers arriving while an exchange is in flight get its outcome instead of starting another one
// Cancelling ctx stops waiting only, the exchange itself runs until done or timed out
func (s *Scheduler) Refresh(ctx context.Context) (models.TokenPair, error) {
	select {
	case res := <-s.refreshAsync(ctx):
		if res.Err != nil {
			return models.TokenPair{}, res.Err
		}
		return res.Val.(models.TokenPair), nil
	case <-ctx.Done():
		return models.TokenPair{}, ctx.Err()
	}
}

// refreshAsync joins exchange in flight or starts a new one
// Joining happens before it returns, which makes concurrent callers easy to reproduce in tests.
// Flights are keyed by generation: after Start callers never join exchange of the previous session
func (s *Scheduler) refreshAsync(ctx context.Context) <-chan singleflight.Result {
	s.mu.Lock()
	generation := s.generation
	s.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	return s.flight.DoChan(strconv.FormatUint(generation, 10), func() (any, error) {
		return s.exchange(detached, generation)
	})
}

func (s *Scheduler) exchange(ctx context.Context, generation uint64) (models.TokenPair, error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return models.TokenPair{}, fmt.Errorf("%w: restarted before refresh", ErrSessionEnded)
	}
	if s.state == StateIdle || s.state == StateFailed {
		state := s.state
		s.mu.Unlock()
		return models.TokenPair{}, fmt.Errorf("%w: session is %s", ErrSessionEnded, state)
	}
	refresh := s.pair.Refresh.Value
	s.state = StateRefreshing
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pair, err := s.refresher.Refresh(ctx, refresh)

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		s.logger.Debug("session restarted during refresh, result discarded")
		return models.TokenPair{}, fmt.Errorf("%w: stopped during refresh", ErrSessionEnded)
	}

	if err != nil {
		err = apperrors.NewAuthError(failureKind(err), fmt.Errorf("%w: %w", ErrSessionEnded, err))
		s.stopTimerLocked()
		s.pair = models.TokenPair{}
		s.state = StateFailed
		s.mu.Unlock()

		s.logger.Warn("refresh failed, session ended", "error", err)
		s.metrics.SessionFailed()
		if s.onFailed != nil {
			s.onFailed(err)
		}
		return models.TokenPair{}, err
	}

	s.pair = pair
	s.state = StateArmed
	s.armLocked()
	s.mu.Unlock()

	s.logger.Debug("session refreshed", "access_expires_at", pair.Access.ExpiresAt)
	if s.onRefreshed != nil {
		s.onRefreshed(pair)
	}
	return pair, nil
}

// Replace timer with one for current access token
func (s *Scheduler) armLocked() {
	s.stopTimerLocked()

	expiresAt := s.pair.Access.ExpiresAt
	if expiresAt.IsZero() {
		claims, ok := codec.DecodeUnsafe(s.pair.Access.Value)
		if !ok {
			s.logger.Warn("access token expiry unknown, proactive refresh disabled")
			return
		}
		expiresAt = claims.ExpiresAt
	}

	delay := refreshDelay(s.clock.Now(), expiresAt)
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(seq) })

	s.logger.Debug("refresh armed", "delay", delay)
}

func (s *Scheduler) stopTimerLocked() {
	s.timerSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	stale := seq != s.timerSeq || s.state != StateArmed
	s.mu.Unlock()
	if stale {
		return
	}

	if _, err := s.Refresh(context.Background()); err != nil {
		s.logger.Debug("proactive refresh failed", "error", err)
	}
}

func refreshDelay(now time.Time, expiresAt time.Time) time.Duration {
	remaining := expiresAt.Sub(now)
	delay := min(time.Duration(float64(remaining)*refreshShare), remaining-refreshLead)
	return max(minRefreshDelay, delay)
}

// Refreshers report typed errors; anything else is a failure to reach them
func failureKind(err error) apperrors.Kind {
	if kind, ok := apperrors.KindOf(err); ok {
		return kind
	}
	if errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return apperrors.KindExpired
	}
	return apperrors.KindNetworkFailure
}
