// Package gatewayerr defines the error taxonomy shared by the resolver,
// binder, query and mutation layers.
//
// Each class is a concrete type carrying the offending table name, predicate
// or query fragment, and unwraps to its cause so callers can use errors.As
// and errors.Is across package boundaries.
package gatewayerr

import (
	"errors"
	"fmt"
)

// ErrCredentialExpired is returned when a table handle's storage credential
// has expired before I/O started.
var ErrCredentialExpired = errors.New("storage credential expired")

// NotFoundError indicates the catalog has no object with the given name.
type NotFoundError struct {
	Table string
	Err   error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("table %s not found: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("table %s not found", e.Table)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// UnauthorizedError indicates the caller lacks the requested access mode.
type UnauthorizedError struct {
	Table string
	Mode  string
	Err   error
}

func (e *UnauthorizedError) Error() string {
	msg := fmt.Sprintf("access denied to %s", e.Table)
	if e.Mode != "" {
		msg += " for " + e.Mode
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnauthorizedError) Unwrap() error {
	return e.Err
}

// UnavailableError is a transient dependency failure. It is the only class
// callers are expected to retry with backoff.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// InvalidRequestError reports an empty or malformed payload.
type InvalidRequestError struct {
	Reason string
	Err    error
}

func (e *InvalidRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Reason, e.Err)
	}
	return "invalid request: " + e.Reason
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

// QueryError is a SQL text that failed to compile. Fragment holds the
// offending token or clause when one can be pinned down.
type QueryError struct {
	Query    string
	Fragment string
	Err      error
}

func (e *QueryError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("query error near %q: %v", e.Fragment, e.Err)
	}
	return fmt.Sprintf("query error: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ExecutionError is a compiled query that failed while running.
type ExecutionError struct {
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("execution error in %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ConflictError is a concurrent commit detected by the table log.
type ConflictError struct {
	Table   string
	Version int64
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent commit on %s at version %d: %v", e.Table, e.Version, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Invalid is shorthand for an InvalidRequestError without a cause.
func Invalid(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}
