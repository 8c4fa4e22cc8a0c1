package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the remote store.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d (%s)", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Message)
}

// Transient reports whether the failure is worth retrying. Server-side
// errors and rate limits are; auth, validation and not-found are not.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// retryable classifies an error for the backoff loop: network-level failures
// and transient status codes retry, everything else fails immediately.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	// no response at all (dial, timeout, connection reset)
	return true
}
