// Package executor owns the process-wide execution context that lock sessions
// run their database I/O on.
//
// The first call to Default builds the executor; it is never torn down. Callers
// get a Handle, which is a small value safe to copy, and submit work through
// BlockOn, which runs the work on an executor goroutine and parks the calling
// goroutine until it finishes. A task that panics is reported as ErrJoin
// instead of crashing the process.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kneutral-org/deadbolt/internal/config"
	"github.com/kneutral-org/deadbolt/internal/logging"
	"github.com/kneutral-org/deadbolt/internal/metrics"
)

// ErrJoin is returned when a task could not be run to completion, e.g. it panicked.
var ErrJoin = errors.New("task join failed")

// Executor runs tasks on goroutines and tracks them.
type Executor struct {
	logger zerolog.Logger

	// slots bounds concurrently running BlockOn tasks; nil means unlimited.
	slots *semaphore.Weighted

	wg sync.WaitGroup
}

// Handle is a cheap, copyable reference to an Executor.
// The zero Handle refers to the process-wide default executor.
type Handle struct {
	ex *Executor
}

var (
	defaultOnce     sync.Once
	defaultExecutor *Executor
)

// Default returns a handle to the process-wide executor, creating it on first use.
// A configuration that cannot produce an executor is fatal.
func Default() Handle {
	defaultOnce.Do(func() {
		cfg := config.Load()
		logger := logging.NewFromFormat("deadbolt", cfg.LogLevel, cfg.LogFormat)

		ex, err := New(cfg.ExecutorMaxTasks, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create executor")
		}
		defaultExecutor = ex
	})
	return Handle{ex: defaultExecutor}
}

// New creates a standalone executor. maxTasks of zero means unlimited.
func New(maxTasks int, logger zerolog.Logger) (*Executor, error) {
	if maxTasks < 0 {
		return nil, fmt.Errorf("executor max tasks must not be negative, got %d", maxTasks)
	}

	ex := &Executor{
		logger: logger.With().Str("component", "executor").Logger(),
	}
	if maxTasks > 0 {
		ex.slots = semaphore.NewWeighted(int64(maxTasks))
	}
	return ex, nil
}

// Handle returns a handle bound to this executor.
func (e *Executor) Handle() Handle {
	return Handle{ex: e}
}

// Wait blocks until every task started on this executor has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (h Handle) executor() *Executor {
	if h.ex == nil {
		return Default().ex
	}
	return h.ex
}

// Go starts a detached background task. Its error is logged, never returned.
func (h Handle) Go(name string, fn func() error) {
	ex := h.executor()
	ex.wg.Add(1)
	go func() {
		defer ex.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				ex.logger.Error().Str("task", name).Interface("panic", r).Msg("background task panicked")
			}
		}()

		if err := fn(); err != nil {
			ex.logger.Warn().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

// BlockOn runs fn on an executor goroutine and waits for its result.
//
// BlockOn always waits for fn to return, even if ctx is cancelled; fn is
// expected to observe ctx itself. This keeps resources created inside fn from
// outliving the call. If fn panics, the returned error wraps ErrJoin.
//
// On a bounded executor BlockOn first waits for a free slot.
func BlockOn[T any](ctx context.Context, h Handle, fn func(context.Context) (T, error)) (T, error) {
	return blockOn(ctx, h, true, fn)
}

// BlockOnUnbounded is BlockOn without the slot bound. Tasks that let other
// tasks finish, such as releasing a lock that slot holders are waiting on,
// must use it so they cannot be starved by those holders.
func BlockOnUnbounded[T any](ctx context.Context, h Handle, fn func(context.Context) (T, error)) (T, error) {
	return blockOn(ctx, h, false, fn)
}

func blockOn[T any](ctx context.Context, h Handle, bounded bool, fn func(context.Context) (T, error)) (T, error) {
	ex := h.executor()
	slots := ex.slots
	if !bounded {
		slots = nil
	}

	var zero T
	if slots != nil {
		if err := slots.Acquire(ctx, 1); err != nil {
			return zero, fmt.Errorf("%w: waiting for executor slot: %v", ErrJoin, err)
		}
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	ex.wg.Add(1)
	metrics.IncExecutorTasks()
	go func() {
		defer ex.wg.Done()
		defer metrics.DecExecutorTasks()
		if slots != nil {
			defer slots.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: task panicked: %v", ErrJoin, r)}
			}
		}()

		val, err := fn(ctx)
		done <- result{val: val, err: err}
	}()

	r := <-done
	return r.val, r.err
}
