package reconnect

import (
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when to retry after a lost connection.
// attempt starts at 1. A nil policy disables automatic reconnection.
type RetryPolicy interface {
	Next(attempt int) (wait time.Duration, ok bool)
}

// Fixed waits Delay and tries exactly once per disconnect.
type Fixed struct {
	Delay time.Duration
}

func (f Fixed) Next(attempt int) (time.Duration, bool) {
	return f.Delay, attempt == 1
}

// Backoff doubles the wait after each failed attempt, capped at Max.
// MaxAttempts <= 0 retries until the client is disconnected.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || (b.MaxAttempts > 0 && attempt > b.MaxAttempts) {
		return 0, false
	}
	wait := b.Initial
	if wait <= 0 {
		wait = time.Second
	}
	for i := 1; i < attempt; i++ {
		wait *= 2
		if b.Max > 0 && wait >= b.Max {
			return b.Max, true
		}
	}
	if b.Max > 0 && wait > b.Max {
		wait = b.Max
	}
	return wait, true
}

// Jittered randomizes the wait of Policy by up to +/- Fraction of its value.
type Jittered struct {
	Policy   RetryPolicy
	Fraction float64
}

func (j Jittered) Next(attempt int) (time.Duration, bool) {
	wait, ok := j.Policy.Next(attempt)
	if !ok || wait <= 0 || j.Fraction <= 0 {
		return wait, ok
	}
	spread := float64(wait) * j.Fraction
	delta := (rand.Float64()*2 - 1) * spread
	jittered := time.Duration(float64(wait) + delta)
	if jittered < 0 {
		jittered = 0
	}
	return jittered, true
}

// FixedDelay returns a single-attempt policy for delay, or nil when delay is
// zero (no auto-reconnect).
func FixedDelay(delay time.Duration) RetryPolicy {
	if delay <= 0 {
		return nil
	}
	return Fixed{Delay: delay}
}
