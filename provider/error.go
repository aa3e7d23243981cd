package provider

import (
	"context"
	"fmt"
	"net"

	"github.com/habiliai/parley/errors"
)

// Error carries an HTTP-status-like code used to classify retryability.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient: HTTP 429, any 5xx,
// or a timeout. Everything else aborts the call immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.StatusCode == 429 || perr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return false
}
