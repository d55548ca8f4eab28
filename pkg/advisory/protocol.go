package advisory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/deadbolt/internal/executor"
	"github.com/kneutral-org/deadbolt/internal/logging"
	"github.com/kneutral-org/deadbolt/internal/metrics"
)

const (
	lockSQL   = "SELECT pg_advisory_lock($1)"
	unlockSQL = "SELECT pg_advisory_unlock($1)"

	closeTimeout = 5 * time.Second
)

// Acquire opens a new connection and blocks until the server grants the lock.
//
// It fails with ErrAlreadyHeld if the session already holds the lock or
// another Acquire on it is in flight. On any other failure the session is left
// not holding anything and the connection, if one was opened, is closed.
// Cancelling ctx aborts the wait.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil || s.acquiring {
		s.mu.Unlock()
		metrics.RecordAcquisition(metrics.ResultRejected)
		return ErrAlreadyHeld
	}
	s.acquiring = true
	s.mu.Unlock()

	acquisitionID := uuid.NewString()
	logger := logging.LockLogger(s.logger, s.lockID, acquisitionID)
	connString := s.ConnString()

	logger.Debug().Msg("acquiring advisory lock")
	conn, err := executor.BlockOn(ctx, s.exec, func(ctx context.Context) (*pgx.Conn, error) {
		return s.lock(ctx, connString)
	})

	s.mu.Lock()
	s.acquiring = false
	// The watcher cannot clear a connection that is not stored yet.
	if err == nil && conn.IsClosed() {
		err = newError(KindAcquire, s.lockID, errors.New("connection closed right after the lock was granted"))
	}
	if err == nil {
		s.conn = conn
		s.acquisitionID = acquisitionID
		s.lost = make(chan struct{})
		metrics.IncLocksHeld()
	}
	s.mu.Unlock()

	if err != nil {
		err = s.wrapErr(KindAcquire, err)
		metrics.RecordAcquisition(metrics.ResultFailure)
		logger.Debug().Err(err).Msg("advisory lock acquisition failed")
		return err
	}

	metrics.RecordAcquisition(metrics.ResultSuccess)
	logger.Debug().Msg("advisory lock acquired")
	return nil
}

// lock runs on the executor: connect, start the watcher, take the lock.
func (s *Session) lock(ctx context.Context, connString string) (*pgx.Conn, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, newError(KindConnect, s.lockID, err)
	}
	// Plaintext only.
	cfg.TLSConfig = nil
	cfg.Fallbacks = nil
	cfg.DefaultQueryExecMode = pgx.QueryExecModeExec

	conn, err := s.connect(ctx, cfg)
	if err != nil {
		metrics.RecordConnectionFailure()
		return nil, newError(KindConnect, s.lockID, err)
	}

	granted := false
	defer func() {
		if !granted {
			closeConn(conn)
		}
	}()

	s.watch(conn)

	start := time.Now()
	if _, err := conn.Exec(ctx, lockSQL, s.lockID); err != nil {
		return nil, newError(KindAcquire, s.lockID, err)
	}
	metrics.RecordAcquireWait(time.Since(start).Seconds())

	granted = true
	return conn, nil
}

// watch notices a connection dying while this session still holds the lock on
// it. The server has dropped the lock by then, so the session stops reporting
// it as held and closes the Lost channel.
func (s *Session) watch(conn *pgx.Conn) {
	s.exec.Go("connection-watcher", func() error {
		<-conn.PgConn().CleanupDone()
		if _, ok := s.take(conn); !ok {
			return nil
		}
		metrics.DecLocksHeld()
		return fmt.Errorf("connection for advisory lock %d to %s:%d closed while held", s.lockID, s.host, s.port)
	})
}

// Release unlocks and closes the connection. Calling it on a session that does
// not hold the lock is a no-op.
//
// The session stops reporting the lock as held before the unlock is sent, so
// a failed Release still leaves IsLocked false and cannot be retried. Closing
// the connection makes the server drop the lock regardless.
//
// If the server answers that this connection did not hold the lock, Release
// returns a KindRelease error. On a dedicated connection that only happens
// when the lock was lost.
//
// The unlock does not wait for a bounded executor slot, so sessions blocked
// in Acquire on the same executor cannot starve it.
func (s *Session) Release(ctx context.Context) error {
	conn := s.current()
	if conn == nil {
		return nil
	}
	acquisitionID, ok := s.take(conn)
	if !ok {
		return nil
	}
	metrics.DecLocksHeld()
	defer closeConn(conn)

	logger := logging.LockLogger(s.logger, s.lockID, acquisitionID)

	_, err := executor.BlockOnUnbounded(ctx, s.exec, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.unlock(ctx, conn)
	})
	if err != nil {
		err = s.wrapErr(KindRelease, err)
		metrics.RecordRelease(metrics.ResultFailure)
		logger.Warn().Err(err).Msg("advisory lock release failed")
		return err
	}

	metrics.RecordRelease(metrics.ResultSuccess)
	logger.Debug().Msg("advisory lock released")
	return nil
}

func (s *Session) unlock(ctx context.Context, conn *pgx.Conn) error {
	var released bool
	if err := conn.QueryRow(ctx, unlockSQL, s.lockID).Scan(&released); err != nil {
		return newError(KindRelease, s.lockID, err)
	}
	if !released {
		return newError(KindRelease, s.lockID, errors.New("server reports the lock was not held by this connection"))
	}
	return nil
}

// WithLock acquires the lock, runs fn, and releases the lock on every exit
// path, including a panic in fn. fn's error is always returned; a release
// error is joined to it.
//
// The context passed to fn carries the acquisition's logger, as returned by
// zerolog.Ctx.
func (s *Session) WithLock(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		relErr := s.Release(context.WithoutCancel(ctx))
		if relErr == nil {
			return
		}
		if err == nil {
			err = relErr
			return
		}
		err = errors.Join(err, relErr)
	}()

	return fn(logging.ContextWithLogger(ctx, s.heldLogger()))
}

func (s *Session) heldLogger() zerolog.Logger {
	s.mu.Lock()
	acquisitionID := s.acquisitionID
	s.mu.Unlock()
	return logging.LockLogger(s.logger, s.lockID, acquisitionID)
}

func (s *Session) wrapErr(kind Kind, err error) error {
	var lockErr *Error
	if errors.As(err, &lockErr) {
		return err
	}
	if errors.Is(err, executor.ErrJoin) {
		return newError(KindJoin, s.lockID, err)
	}
	return newError(kind, s.lockID, err)
}

func closeConn(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = conn.Close(ctx)
}

// Logger returns the session's logger, for callers that want to log in the same context.
func (s *Session) Logger() zerolog.Logger {
	return s.logger.With().Int64("lockId", s.lockID).Logger()
}
