package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestDo_StopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3}, IsTransient,
		func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return statusErr(503)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if attempts != 2 || calls != 2 {
		t.Errorf("attempts = %d, calls = %d, want 2 and 2", attempts, calls)
	}
}

func TestDo_Bounded(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Millisecond}, IsTransient,
		func(ctx context.Context, attempt int) error {
			calls++
			return statusErr(429)
		})
	if err == nil {
		t.Fatal("Do returned nil error, want exhaustion error")
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 and 3", attempts, calls)
	}
	var sc StatusCoder
	if !errors.As(err, &sc) || sc.StatusCode() != 429 {
		t.Errorf("error %v does not wrap the last status error", err)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5}, IsTransient,
		func(ctx context.Context, attempt int) error {
			calls++
			return statusErr(404)
		})
	if err == nil || calls != 1 {
		t.Errorf("calls = %d, err = %v; want a single failed call", calls, err)
	}
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Hour}, IsTransient,
		func(ctx context.Context, attempt int) error {
			cancel()
			return statusErr(500)
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"500", statusErr(500), true},
		{"502 wrapped", fmt.Errorf("fetching: %w", statusErr(502)), true},
		{"429", statusErr(429), true},
		{"403", statusErr(403), false},
		{"404", statusErr(404), false},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
