package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/webqueryai/webquery/internal/log"
)

func testRetrier(maxRetries int) *Retrier {
	return NewRetrier(RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil, log.NewNop())
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limit", err: errors.New("429 Rate Limit Exceeded"), want: true},
		{name: "quota", err: errors.New("Quota exceeded for model"), want: true},
		{name: "server error", err: errors.New("got HTTP 503 from upstream"), want: true},
		{name: "unavailable", err: errors.New("service UNAVAILABLE"), want: true},
		{name: "timeout", err: errors.New("context deadline exceeded: timeout"), want: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), want: true},
		{name: "invalid argument", err: errors.New("invalid argument: bad model name"), want: false},
		{name: "auth", err: errors.New("401 unauthorized"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	r := testRetrier(3)

	calls := 0
	transient, err := r.do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do() = %v, want nil", err)
	}
	if transient {
		t.Error("transient = true on success")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrierFailsFastOnPermanentErrors(t *testing.T) {
	r := testRetrier(3)

	calls := 0
	permanent := errors.New("invalid request payload")
	transient, err := r.do(context.Background(), "test", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("do() = %v, want wrapped %v", err, permanent)
	}
	if transient {
		t.Error("transient = true for permanent error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for permanent errors)", calls)
	}
}

func TestRetrierExhaustsRetries(t *testing.T) {
	r := testRetrier(2)

	calls := 0
	transient, err := r.do(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("rate limit hit")
	})
	if err == nil {
		t.Fatal("do() = nil, want error after exhausted retries")
	}
	if !transient {
		t.Error("transient = false after exhausting retries on retryable error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 initial + 2 retries)", calls)
	}
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:      5,
		InitialInterval: time.Hour, // would hang without cancellation
		MaxInterval:     time.Hour,
	}, nil, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.do(ctx, "test", func(context.Context) error {
		return errors.New("temporary failure")
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("do() = %v, want context.Canceled", err)
	}
}

func TestRetrierWaitsOnLimiterEveryAttempt(t *testing.T) {
	// Limiter allows a burst of 1 at 100 req/s; three attempts must take
	// at least two limiter intervals.
	limiter := rate.NewLimiter(rate.Limit(100), 1)
	r := NewRetrier(RetryConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, limiter, log.NewNop())

	start := time.Now()
	_, err := r.do(context.Background(), "test", func(context.Context) error {
		return errors.New("429 slow down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("elapsed = %v, expected rate limiting across retries", elapsed)
	}
}
