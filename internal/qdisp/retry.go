// Package qdisp implements the client-side dispatch executive named in
// spec.md §4.2: asynchronous per-chunk dispatch over a streaming
// transport, bounded retry, and query-wide squash on error or
// cancellation.
package qdisp

import (
	"time"

	qerrors "github.com/qserv/qserv/internal/errors"
)

// RetryConfig configures the backoff applied between redispatch attempts,
// adapted almost verbatim from the teacher's
// internal/adapters.RetryConfig — the same exponential-backoff shape, with
// MaxAttempts renamed to RetryCap to match spec.md §4.2's "retry cap"
// vocabulary.
type RetryConfig struct {
	// RetryCap is the maximum number of redispatch attempts after the
	// first. Default: 5.
	RetryCap uint

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay after each retry.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns spec.md §4.2's default retry cap of 5.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		RetryCap:          5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.RetryCap == 0 {
		c.RetryCap = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	return c
}

// backoffDelay returns the delay before the given retry attempt (1-based),
// following the teacher's ExecuteWithRetry loop's doubling-then-clamping
// shape.
func backoffDelay(c RetryConfig, attempt uint) time.Duration {
	delay := c.InitialDelay
	for i := uint(1); i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffMultiplier)
		if delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}

// isTransient reports whether an error is a provision- or stream-error —
// the two kinds spec.md §4.2 retries — as opposed to a result-error or
// cancellation, which are terminal. Mirrors the teacher's IsRetryable's
// "never retry semantic errors" discipline, but classifies on the qdisp
// error taxonomy rather than network-driver-specific checks.
func isTransient(err error) bool {
	switch err.(type) {
	case *qerrors.ErrProvision, *qerrors.ErrStream:
		return true
	default:
		return false
	}
}
