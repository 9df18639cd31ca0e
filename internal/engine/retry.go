package engine

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// minDelay floors every computed delay; nothing reschedules sooner than
	// one second.
	minDelay = time.Second

	// jitterFraction bounds the randomization at ±20% so parallel engine
	// instances pointed at the same course never fall into lockstep.
	jitterFraction = 0.2

	maxBackoff = 5 * time.Minute
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff returns the delay before retry number attempt (1-based):
// base doubled per attempt, capped, then jittered. Kept independent of the
// queue mechanism so the policy is testable on its own.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = minDelay
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return applyJitter(d)
}

// NextInterval returns the reschedule delay after a no-match tick:
// interval ± 20%, never below the floor.
func NextInterval(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = minDelay
	}
	return applyJitter(interval)
}

func applyJitter(d time.Duration) time.Duration {
	rngMu.Lock()
	f := 1 - jitterFraction + 2*jitterFraction*rng.Float64()
	rngMu.Unlock()

	out := time.Duration(float64(d) * f)
	if out < minDelay {
		out = minDelay
	}
	return out
}
