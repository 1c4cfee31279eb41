// Package scheduler runs periodic cache maintenance on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helixir/unpaywall-client/internal/observability"
)

// PruneLockKey is the advisory lock key held while pruning a shared store.
const PruneLockKey int64 = 0x756e7061797761 // "unpaywa"

// DefaultPruneTimeout bounds a single prune run.
const DefaultPruneTimeout = 5 * time.Minute

// CachePruner removes expired cache entries. *cache.ResponseCache implements it.
type CachePruner interface {
	PruneExpired(ctx context.Context) (int, error)
}

// LockFunc runs fn while holding the lock identified by key. It reports
// false without running fn when another holder has the lock.
// database.DB.WithAdvisoryLock has this signature.
type LockFunc func(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLock serializes prune runs across processes sharing a store.
func WithLock(lock LockFunc) Option {
	return func(s *Scheduler) {
		s.lock = lock
	}
}

// WithTimeout bounds each prune run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// Scheduler prunes expired cache entries periodically.
type Scheduler struct {
	cron    *cron.Cron
	cache   CachePruner
	lock    LockFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a scheduler for c. Overlapping runs are skipped and panics
// in a run are recovered and logged.
func New(c CachePruner, logger zerolog.Logger, opts ...Option) *Scheduler {
	cronLogger := observability.NewCronLogger(logger)
	s := &Scheduler{
		cache:   c,
		timeout: DefaultPruneTimeout,
		logger:  observability.WithComponent(logger, "scheduler"),
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SchedulePrune registers the prune job. spec is a standard five-field cron
// expression or a descriptor such as "@every 1h".
func (s *Scheduler) SchedulePrune(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Prune(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("scheduled prune failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	s.logger.Info().Str("schedule", spec).Msg("prune scheduled")
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prune runs one prune pass and returns the number of entries removed.
// With a lock configured, a pass is skipped when another process holds it.
func (s *Scheduler) Prune(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.lock == nil {
		return s.cache.PruneExpired(ctx)
	}

	removed := 0
	acquired, err := s.lock(ctx, PruneLockKey, func(ctx context.Context) error {
		n, err := s.cache.PruneExpired(ctx)
		removed = n
		return err
	})
	if err != nil {
		return removed, err
	}
	if !acquired {
		s.logger.Debug().Msg("prune skipped, lock held elsewhere")
	}
	return removed, nil
}
