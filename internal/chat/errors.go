package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("channel or server not found")
	ErrForbidden  = errors.New("access denied")
	ErrAuthFailed = errors.New("authentication failed")
)

// RateLimitError signals an explicit rate-limit response from the platform.
// RetryAfter is zero when the platform did not supply a delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// AsRateLimit unwraps err as a RateLimitError if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
