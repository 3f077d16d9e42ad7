package types

import (
	"errors"
	"fmt"
)

// TransientError marks a failure that may succeed on a later attempt:
// network timeouts, 5xx responses, exhausted rate-limit retries. The
// ingestion pipeline leaves the entity cursor untouched so the next run
// retries exactly the same gap.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// UnauthorizedError marks a credential failure. It is never retried; the
// account's sync status is set to error and the owner must fix the keys.
type UnauthorizedError struct {
	Err error
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %v", e.Err)
}

func (e *UnauthorizedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Unauthorized wraps err as an UnauthorizedError.
func Unauthorized(err error) error {
	if err == nil {
		return nil
	}
	return &UnauthorizedError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsUnauthorized reports whether err is (or wraps) an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}
