package domain

import (
	"errors"
	"fmt"
	"time"
)

// Failure kinds shared across components. Callers classify remote failures
// into these sentinels so retry and propagation policy can match on them
// with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAuthRequired      = errors.New("authentication required")
	ErrTooLarge          = errors.New("document too large")
	ErrRateLimited       = errors.New("rate limited")
	ErrTransient         = errors.New("transient failure")
	ErrMalformed         = errors.New("malformed document")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrNoCapacity        = errors.New("no model capacity")
	ErrContextTooLong    = errors.New("context too long")
	ErrPolicyRefusal     = errors.New("policy refusal")
	ErrUnreachable       = errors.New("url unreachable")
	ErrChunkingTimeout   = errors.New("chunking timeout")
	ErrConversationBusy  = errors.New("conversation busy")
)

// RateLimitError wraps ErrRateLimited with the delay the server advised.
// RetryAfter is zero when the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterHint extracts the server-advised delay from an error chain, or
// zero when none was given.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsRetryable reports whether an error should be retried locally with
// backoff before bubbling up.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
