package backoff

import "time"

// BackoffStrategy is what the Retry Controller (engine package) calls
// between failed attempts. Implementations stay unexported; callers only
// ever see this interface and the BackoffType enum in New.
type BackoffStrategy interface {
	// NextDelay returns how long to sleep before the given 0-indexed retry
	// attempt. lastError is available to adaptive strategies; none of the
	// strategies here use it today.
	NextDelay(attemptNumber int, lastError error) time.Duration

	// Reset clears any accumulated state (decorrelated jitter's prevDelay).
	// The Retry Controller calls this once per fresh task submission.
	Reset()
}
