package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWork means the catalog has no pending items left to claim.
	ErrNoWork = errors.New("no work available")

	// ErrAttemptNotFound means the attempt is unknown or no longer active.
	// A repeated report for an already-finalized attempt gets this too, so
	// callers treat it as "already recorded".
	ErrAttemptNotFound = errors.New("attempt not found or not active")

	// ErrSeedWhileRunning rejects a catalog replace while attempts are active.
	ErrSeedWhileRunning = errors.New("cannot seed catalog while attempts are active")
)

// TransientError marks a failure worth retrying: coordinator unreachable,
// 5xx response, timeout. Retry decisions branch on this type, never on
// error message contents.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
