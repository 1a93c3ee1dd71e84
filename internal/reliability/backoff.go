package reliability

import (
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter for capability-runtime
// and provider retries: base 1s, doubling each attempt, capped at 60s,
// jittered +/-20% to avoid thundering-herd retries.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the retry schedule used by the capability
// runtime and provider clients (1s, 2s, 4s, ... capped at 60s).
var DefaultBackoff = Backoff{Base: time.Second, Cap: 60 * time.Second}

// Delay returns the delay before retry attempt n (0-indexed: the delay
// before the first retry is Delay(0)).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}

	jitter := 0.8 + rand.Float64()*0.4 // +/-20%
	return time.Duration(float64(d) * jitter)
}
