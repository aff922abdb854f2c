package rpc

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned by writes attempted while the backend process is
// not running. It is surfaced to the caller of that operation only, never
// asynchronously.
var ErrNotReady = errors.New("backend transport is not ready")

// TimeoutError indicates a single call exceeded its deadline. The call is
// terminal but the session and its conversation binding are unaffected; the
// backend may still be working.
type TimeoutError struct {
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %s timed out after %s", e.Method, e.After)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// BackendError indicates the backend answered a call with an explicit error
// object.
type BackendError struct {
	Method  string
	Code    int
	Message string
	Data    any
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error %d on %s: %s", e.Code, e.Method, e.Message)
}
