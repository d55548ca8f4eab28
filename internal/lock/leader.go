package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LeaderElector manages leader election using a blocking distributed lock.
// It waits for the lock, retrying failed attempts, and keeps it until stopped.
// If the lock is lost while leading, it steps down and competes again.
type LeaderElector struct {
	lock   Locker
	logger zerolog.Logger

	isLeader     atomic.Bool
	retryBackoff time.Duration

	onBecomeLeader func()
	onLoseLeader   func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// LeaderElectorOption configures a LeaderElector.
type LeaderElectorOption func(*LeaderElector)

// WithRetryBackoff sets how long to wait before retrying a failed acquisition.
func WithRetryBackoff(d time.Duration) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.retryBackoff = d
	}
}

// WithOnBecomeLeader sets a callback that's called when this instance becomes leader.
func WithOnBecomeLeader(fn func()) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.onBecomeLeader = fn
	}
}

// WithOnLoseLeader sets a callback that's called when this instance loses leadership.
func WithOnLoseLeader(fn func()) LeaderElectorOption {
	return func(e *LeaderElector) {
		e.onLoseLeader = fn
	}
}

// NewLeaderElector creates a new leader elector with the given lock.
func NewLeaderElector(lock Locker, logger zerolog.Logger, opts ...LeaderElectorOption) *LeaderElector {
	e := &LeaderElector{
		lock:         lock,
		logger:       logger,
		retryBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the leader election loop.
// It keeps trying to acquire leadership until it succeeds or Stop is called.
func (e *LeaderElector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.run(runCtx)
}

// Stop stops the leader election loop and releases leadership if held.
func (e *LeaderElector) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.isLeader.Load() || e.lock.IsLocked() {
		if err := e.lock.Release(ctx); err != nil {
			e.logger.Error().Err(err).Msg("failed to release lock on shutdown")
		} else {
			e.logger.Info().Msg("released leadership on shutdown")
		}
	}

	if e.isLeader.Swap(false) && e.onLoseLeader != nil {
		e.onLoseLeader()
	}
}

// IsLeader returns true if this instance is currently the leader.
func (e *LeaderElector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *LeaderElector) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		if lost, ok := e.tryAcquire(ctx); ok {
			select {
			case <-ctx.Done():
				return
			case <-lost:
				e.stepDown(ctx)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.retryBackoff):
		}
	}
}

// tryAcquire blocks in Acquire and reports whether leadership was obtained,
// along with the channel that signals its loss.
func (e *LeaderElector) tryAcquire(ctx context.Context) (<-chan struct{}, bool) {
	e.logger.Debug().Msg("waiting for leadership")

	if err := e.lock.Acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		e.logger.Error().Err(err).Dur("retryIn", e.retryBackoff).Msg("failed to acquire leadership")
		return nil, false
	}
	lost := e.lock.Lost()

	e.logger.Info().Msg("acquired leadership")
	e.isLeader.Store(true)
	if e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
	return lost, true
}

func (e *LeaderElector) stepDown(ctx context.Context) {
	e.logger.Warn().Dur("retryIn", e.retryBackoff).Msg("lost leadership")

	if err := e.lock.Release(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release lost lock")
	}
	if e.isLeader.Swap(false) && e.onLoseLeader != nil {
		e.onLoseLeader()
	}
}
