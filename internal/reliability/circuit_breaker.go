package reliability

import (
	"sync"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/rs/zerolog"
)

// BreakerState is the lifecycle state of a CircuitBreaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker trips to open after a run of consecutive failures, refuses
// calls for a cooldown window, then allows exactly one probe call through
// in half-open state to decide whether to close again or re-open.
type CircuitBreaker struct {
	mu sync.Mutex

	name            string
	failureThreshold int
	cooldown         time.Duration

	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	halfOpenProbeInFlight bool

	log zerolog.Logger
	now func() time.Time
}

// NewCircuitBreaker creates a breaker that trips after failureThreshold
// consecutive failures and stays open for cooldown before probing again.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
		log:              log.With().Str("breaker", name).Logger(),
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed right now, and reserves the
// single half-open probe slot if the breaker just transitioned out of its
// cooldown.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenProbeInFlight = true
		b.log.Info().Msg("cooldown elapsed, probing")
		return true
	case StateHalfOpen:
		// Only the call that claimed the probe slot may proceed; callers
		// that lose the race are treated as still open.
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.log.Info().Msg("probe succeeded, closing circuit")
	}
	b.state = StateClosed
	b.consecutiveFail = 0
	b.halfOpenProbeInFlight = false
}

// RecordFailure counts a failure, tripping the breaker open once the
// threshold is reached, or re-opening immediately if the half-open probe
// itself failed.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trip()
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold {
		b.trip()
	}
}

func (b *CircuitBreaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.halfOpenProbeInFlight = false
	b.log.Warn().Int("consecutive_failures", b.consecutiveFail).Msg("circuit tripped open")
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ErrOpen is returned by Call when the breaker refuses the call.
var ErrOpen = apperrors.Transient("reliability", "circuit_breaker", errOpen{})

type errOpen struct{}

func (errOpen) Error() string { return "circuit breaker open" }

// Call runs fn only if Allow() permits it, recording the outcome.
func (b *CircuitBreaker) Call(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
