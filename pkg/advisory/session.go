// Package advisory provides a distributed mutex backed by PostgreSQL
// session-level advisory locks.
//
// A Session names a lock ID and a database. Each Acquire opens a dedicated
// connection and runs pg_advisory_lock on it, blocking until the server grants
// the lock. Release runs pg_advisory_unlock and closes that connection. A
// connection is never shared between sessions or reused across acquisitions.
// If the process dies, the server drops the lock along with the connection.
//
// Basic usage:
//
//	s := advisory.New(42, "db.internal", "app", advisory.WithUser("app"))
//	err := s.WithLock(ctx, func(ctx context.Context) error {
//		return migrate(ctx)
//	})
package advisory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/deadbolt/internal/executor"
	"github.com/kneutral-org/deadbolt/internal/logging"
)

// DefaultPort is the PostgreSQL port used when WithPort is not given.
const DefaultPort uint16 = 5432

type connectFunc func(ctx context.Context, cfg *pgx.ConnConfig) (*pgx.Conn, error)

// Session is one lock ID on one database, acquired and released any number of times.
// It is safe for concurrent use, but holds at most one connection at a time.
type Session struct {
	lockID   int64
	host     string
	port     uint16
	database string
	user     *string
	password *string

	logger  zerolog.Logger
	exec    executor.Handle
	connect connectFunc

	mu sync.Mutex

	// conn is non-nil exactly while the lock is held.
	conn          *pgx.Conn
	acquisitionID string
	acquiring     bool
	// lost is closed when the current hold ends.
	lost chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithUser sets the database user. Without it no user is put in the connection string.
func WithUser(user string) Option {
	return func(s *Session) {
		s.user = &user
	}
}

// WithPassword sets the database password. Without it no password is put in the connection string.
func WithPassword(password string) Option {
	return func(s *Session) {
		s.password = &password
	}
}

// WithPort sets the database port.
func WithPort(port uint16) Option {
	return func(s *Session) {
		s.port = port
	}
}

// WithLogger sets the logger used for lock lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithExecutor runs the session's I/O on h instead of the process-wide executor.
func WithExecutor(h executor.Handle) Option {
	return func(s *Session) {
		s.exec = h
	}
}

// New creates a session. It does not touch the network.
func New(lockID int64, host, database string, opts ...Option) *Session {
	s := &Session{
		lockID:   lockID,
		host:     host,
		port:     DefaultPort,
		database: database,
		logger:   zerolog.Nop(),
		connect:  pgx.ConnectConfig,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.TargetLogger(s.logger, s.host, s.port, s.database)
	return s
}

// LockID returns the advisory lock key.
func (s *Session) LockID() int64 {
	return s.lockID
}

// Host returns the database host.
func (s *Session) Host() string {
	return s.host
}

// Port returns the database port.
func (s *Session) Port() uint16 {
	return s.port
}

// Database returns the database name.
func (s *Session) Database() string {
	return s.database
}

// User returns the database user and whether one was set.
func (s *Session) User() (string, bool) {
	if s.user == nil {
		return "", false
	}
	return *s.user, true
}

// Password returns the database password and whether one was set.
func (s *Session) Password() (string, bool) {
	if s.password == nil {
		return "", false
	}
	return *s.password, true
}

// IsLocked reports whether the session currently owns a live connection holding the lock.
func (s *Session) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// ConnString returns the keyword/value connection string used for each acquisition.
// It contains the password, if one is set.
func (s *Session) ConnString() string {
	return buildConnString(s.host, s.port, s.database, s.user, s.password)
}

// Lost returns a channel that is closed when the current hold ends, either
// through Release or because the connection holding the lock went away. When
// the lock is not held the returned channel is already closed.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost == nil {
		return closedChan
	}
	return s.lost
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// take clears the held state if conn is still the session's connection.
// The caller owns conn afterwards.
func (s *Session) take(conn *pgx.Conn) (acquisitionID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn != conn {
		return "", false
	}
	acquisitionID = s.acquisitionID
	s.conn = nil
	s.acquisitionID = ""
	close(s.lost)
	s.lost = nil
	return acquisitionID, true
}

func (s *Session) current() *pgx.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
