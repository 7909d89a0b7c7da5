package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	// ErrEmptyPayload rejects a zero-length artifact before any
	// network attempt.
	ErrEmptyPayload = errors.New("transport: empty payload")
	// ErrTooLarge rejects an artifact above the platform limit.
	ErrTooLarge = errors.New("transport: payload exceeds platform limit")
)

// RateLimitError is the platform's flood-control signal. It is not a
// failure: the mandated wait is honored and the attempt is repeated
// without consuming retry budget.
type RateLimitError struct {
	RetryAfter  time.Duration
	Description string
}

func (e *RateLimitError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = "rate limited"
	}
	return fmt.Sprintf("transport: %s (retry after %s)", desc, e.RetryAfter)
}

// AsRateLimit unwraps a rate-limit signal from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsTimeout reports whether err is a transient timeout-class failure
// worth retrying with backoff.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}
