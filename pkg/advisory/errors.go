package advisory

import (
	"errors"
	"fmt"
)

// Kind distinguishes the stage at which a lock operation failed.
type Kind string

const (
	KindConnect Kind = "Connection failed"
	KindAcquire Kind = "Lock acquisition failed"
	KindRelease Kind = "Lock release failed"
	KindJoin    Kind = "Task join failed"
)

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrConnect = errors.New(string(KindConnect))
	ErrAcquire = errors.New(string(KindAcquire))
	ErrRelease = errors.New(string(KindRelease))
	ErrJoin    = errors.New(string(KindJoin))

	// ErrAlreadyHeld is returned when Acquire is called on a session that holds,
	// or is in the middle of acquiring, its lock.
	ErrAlreadyHeld = errors.New("lock already held by this session")
)

// Error is the runtime error every failed lock operation reports.
type Error struct {
	Kind   Kind
	LockID int64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnect:
		return e.Kind == KindConnect
	case ErrAcquire:
		return e.Kind == KindAcquire
	case ErrRelease:
		return e.Kind == KindRelease
	case ErrJoin:
		return e.Kind == KindJoin
	}
	return false
}

func newError(kind Kind, lockID int64, err error) *Error {
	return &Error{Kind: kind, LockID: lockID, Err: err}
}
