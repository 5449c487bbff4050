package syncer

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays: min(Base * 2^retries, Cap), reduced by a
// random fraction of up to Jitter so that entries failing together do not
// retry together.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	rand func() float64
}

// NewBackoff creates a backoff with the given bounds and jitter fraction.
func NewBackoff(base, limit time.Duration, jitter float64) Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return Backoff{Base: base, Cap: limit, Jitter: jitter, rand: rand.Float64}
}

// Ceiling returns the delay before jitter for an entry that has already
// failed retries times.
func (b Backoff) Ceiling(retries int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 0; i < retries; i++ {
		if (b.Cap > 0 && delay >= b.Cap) || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if b.Cap > 0 && delay > b.Cap {
		delay = b.Cap
	}
	return delay
}

// Delay returns the jittered delay, within [Ceiling*(1-Jitter), Ceiling].
func (b Backoff) Delay(retries int) time.Duration {
	ceiling := b.Ceiling(retries)
	if b.Jitter == 0 || ceiling == 0 {
		return ceiling
	}
	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	return ceiling - time.Duration(float64(ceiling)*b.Jitter*r())
}
