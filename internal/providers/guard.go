// Package providers wraps every external market/economic data client with
// the same resilience guard: a token bucket, a circuit breaker, and a
// bounded number of backoff retries on transient failures.
package providers

import (
	"context"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/reliability"
	"github.com/rs/zerolog"
)

// Guard enforces rate limiting and circuit breaking around a provider call.
type Guard struct {
	Name        string
	Bucket      *reliability.TokenBucket
	Breaker     *reliability.CircuitBreaker
	Backoff     reliability.Backoff
	MaxRetries  int
	CallTimeout time.Duration
	Log         zerolog.Logger
}

// NewGuard builds a Guard with the standard provider-resilience defaults:
// three-failure trip, 60s cooldown, base-1s/cap-60s jittered backoff.
func NewGuard(name string, rate float64, window time.Duration, callTimeout time.Duration, log zerolog.Logger) *Guard {
	return &Guard{
		Name:        name,
		Bucket:      reliability.NewTokenBucket(rate, window),
		Breaker:     reliability.NewCircuitBreaker(name, 3, 60*time.Second, log),
		Backoff:     reliability.DefaultBackoff,
		MaxRetries:  3,
		CallTimeout: callTimeout,
		Log:         log.With().Str("provider", name).Logger(),
	}
}

// Do runs fn under the guard: waits for a token, fails fast without
// consuming a token if the breaker is open, and retries transient
// failures with jittered backoff up to MaxRetries times.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.Breaker.Allow() {
		return reliability.ErrOpen
	}

	if err := g.Bucket.Acquire(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			g.Breaker.RecordSuccess()
			return nil
		}

		lastErr = err
		if !apperrors.IsTransient(err) {
			g.Breaker.RecordFailure()
			return err
		}

		if attempt == g.MaxRetries {
			break
		}

		delay := g.Backoff.Delay(attempt)
		g.Log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", delay).Msg("transient provider error, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.Breaker.RecordFailure()
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.Breaker.RecordFailure()
	return lastErr
}
