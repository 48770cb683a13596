// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The attempt number (starting at 1) is passed to
// op. It returns the number of attempts made and the last error.
func Do(ctx context.Context, p Policy, isRetryable Classifier, op func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		retryable := isRetryable != nil && isRetryable(lastErr)
		if !retryable || attempt == maxAttempts {
			if retryable {
				return attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, lastErr)
			}
			return attempt, lastErr
		}

		slog.Debug("retrying after error", "attempt", attempt, "max_attempts", maxAttempts,
			"delay", p.Delay, "error", lastErr)

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return maxAttempts, lastErr
}

// IsTransient reports whether err looks like a temporary network or server
// failure: a timeout, a reset or dropped connection, a 5xx or a 429.
// Cancellation of the caller's context is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsRetryableStatus(sc.StatusCode())
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsRetryableStatus reports whether an HTTP status deserves a retry.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
