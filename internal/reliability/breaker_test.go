package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var tripped string
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		OnTrip:           func(name string) { tripped = name },
	})

	failing := func() (any, error) { return nil, errors.New("boom") }
	for i := 0; i < 2; i++ {
		if _, err := b.Execute(failing); err == nil {
			t.Fatal("expected the underlying failure to propagate")
		}
	}

	_, err := b.Execute(failing)
	var openErr *domain.CircuitOpenError
	if !domain.As(err, &openErr) {
		t.Fatalf("expected a CircuitOpenError once the breaker trips, got %v", err)
	}
	if tripped != "test" {
		t.Fatalf("expected OnTrip to fire with the breaker name, got %q", tripped)
	}
	if b.State() != "open" {
		t.Fatalf("expected state open, got %q", b.State())
	}
}

func TestBreaker_HalfOpensAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	if _, err := b.Execute(func() (any, error) { return nil, errors.New("boom") }); err == nil {
		t.Fatal("expected the first call to fail and trip the breaker")
	}

	time.Sleep(20 * time.Millisecond)

	result, err := b.Execute(func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("expected the half-open probe to succeed, got %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected the probe's result to be returned, got %v", result)
	}
}

func TestRetry_SucceedsWithinMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, func(attempt int) error {
		attempts++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestRetry_ExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil, func(attempt int) error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected the final error to propagate once attempts are exhausted")
	}
	if attempts != 2 {
		t.Fatalf("expected exactly MaxAttempts attempts, got %d", attempts)
	}
}

func TestRetry_ShouldRetryFalseStopsEarly(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(error) bool { return false },
		func(attempt int) error {
			attempts++
			return errors.New("non-retryable")
		})
	if err == nil {
		t.Fatal("expected the error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("expected shouldRetry=false to stop after the first attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancelledStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}, nil, func(attempt int) error {
		attempts++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected an error once the context is cancelled")
	}
	if attempts != 1 {
		t.Fatalf("expected the loop to stop waiting after the first attempt once ctx is done, got %d attempts", attempts)
	}
}

func TestDefaultFusionRetry_Matches(t *testing.T) {
	if DefaultFusionRetry.MaxAttempts != 3 {
		t.Fatalf("expected 3 max attempts, got %d", DefaultFusionRetry.MaxAttempts)
	}
	if DefaultFusionRetry.BaseDelay != 100*time.Millisecond {
		t.Fatalf("expected a 100ms base delay, got %v", DefaultFusionRetry.BaseDelay)
	}
}
