// Package backoff computes retry delays for the run state machine's
// phase-local retry loops (phase 2's NoCapacity retries, phase 3-4's
// transient supervisor retries, phase 8's publish retries): exponential
// growth capped at a maximum, plus jitter in [0, base) to keep many runs
// hitting NoCapacity at once from retrying in lockstep.
package backoff

import (
	"math/rand"
	"time"
)

// Policy configures exponential backoff with jitter for one phase's retry
// loop: delay(attempt) = min(initial * multiplier^attempt, max) + jitter(0, initial).
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the backoff duration for the given zero-based attempt
// number. A nil or zero-value rng falls back to the package-level source,
// matching computeBackoff's non-deterministic fallback for callers that
// don't need replay-stable jitter.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Millisecond
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}

	exp := float64(initial)
	for i := 0; i < attempt; i++ {
		exp *= mult
	}
	delay := time.Duration(exp)
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	var jitter time.Duration
	if initial > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(int64(initial)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(initial))) // #nosec G404 -- retry jitter, not security-sensitive
		}
	}
	return delay + jitter
}

// Retry runs fn up to maxAttempts times (the first try plus maxAttempts-1
// retries), sleeping per Policy between attempts and stopping early once
// shouldStop (if non-nil) reports true. It returns the last error if every attempt failed, or nil on the
// first success.
func Retry(policy Policy, maxAttempts int, sleep func(time.Duration), shouldStop func() bool, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if shouldStop != nil && shouldStop() {
			return lastErr
		}
		if err := fn(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < maxAttempts-1 {
			sleep(policy.Delay(attempt, nil))
		}
	}
	return lastErr
}
