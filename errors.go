package authority

import (
	"errors"
	"fmt"
)

// Error classifies a protocol failure for the HTTP layer. Callers see
// only the status; Reason exists for logs and never reaches a response
// body. Internal errors are the server's fault and must not charge the
// caller's error budget.
type Error struct {
	Status   int
	Reason   string
	Internal bool
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

func badRequest(reason string) *Error {
	return &Error{Status: 400, Reason: reason}
}

func unauthorized(reason string) *Error {
	return &Error{Status: 401, Reason: reason}
}

func internalError(reason string, err error) *Error {
	return &Error{Status: 500, Reason: reason, Internal: true, Err: err}
}

// isInternal reports whether err is a server-side failure rather than
// a caller error.
func isInternal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Internal
	}
	// Unclassified errors are treated as ours, not the caller's.
	return true
}

// statusOf maps err to its HTTP status, defaulting to 400 for caller
// errors that carry no classification.
func statusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 400
}
