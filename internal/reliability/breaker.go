// Package reliability provides the circuit breaker and retry helpers shared
// by every external collaborator (embedding, rerank, market-data) and by the
// Concept Store's optimistic-locking retry loop.
package reliability

import (
	"context"
	"math/rand"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ashareinsight/ashareinsight/internal/domain"
)

// BreakerConfig tunes one dependency's circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // K consecutive failures before opening
	Cooldown         time.Duration // T, open → half-open
	OnTrip           func(name string) // optional, called when the breaker opens
}

// Breaker wraps gobreaker with the domain's CircuitOpenError so callers never
// import gobreaker directly.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker builds a closed→open→half-open→closed breaker: opens after
// FailureThreshold consecutive failures, half-opens after Cooldown and
// permits a single probe.
func NewBreaker(cfg BreakerConfig) *Breaker {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if cfg.OnTrip != nil {
		st.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				cfg.OnTrip(name)
			}
		}
	}
	return &Breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker[any](st)}
}

// Execute runs fn through the breaker. If the breaker is open, fn is never
// called and a *domain.CircuitOpenError is returned.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, domain.NewCircuitOpenError(b.name)
	}
	return result, err
}

// State reports the breaker's current state name, used by
// rerankclient.Client.Healthy.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// RetryPolicy configures a bounded, optionally-jittered retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      bool
}

// DefaultFusionRetry is the optimistic-lock retry policy: 3 attempts,
// linear backoff 0.1·attempt seconds, no jitter (the delay itself is meant
// to desynchronize competing writers).
var DefaultFusionRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

// Retry runs op up to MaxAttempts times, sleeping between attempts according
// to the policy. It stops early if ctx is cancelled or shouldRetry returns
// false for the latest error. attempt passed to op is 1-based.
func Retry(ctx context.Context, policy RetryPolicy, shouldRetry func(error) bool, op func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := time.Duration(attempt) * policy.BaseDelay
		if policy.Jitter {
			delay += time.Duration(rand.Int63n(int64(policy.BaseDelay)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
