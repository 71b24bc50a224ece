package engine

import (
	"sync"
	"time"
)

// RetryPolicy configures the Retry Controller (§4.4). MaxAttempts counts the
// initial attempt, so MaxAttempts=1 means no retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Disabled short-circuits the Retry Controller to a direct delegation
	// even if MaxAttempts > 1, matching "descriptor.retry is absent or
	// disabled" in §4.4.
	Disabled bool
}

func (p RetryPolicy) enabled() bool {
	return !p.Disabled && p.MaxAttempts > 1
}

// CancellationToken is the cooperative cancellation handle a caller may
// attach to a TaskDescriptor. It is safe to share across goroutines and to
// abort before or after the task it is attached to has settled.
type CancellationToken struct {
	mu     sync.Mutex
	fired  bool
	reason string
	ch     chan struct{}
}

// NewCancellationToken creates a token in the not-yet-aborted state.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{ch: make(chan struct{})}
}

// Abort fires the token with an optional reason. Safe to call more than
// once; only the first call's reason is retained.
func (t *CancellationToken) Abort(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return
	}
	t.fired = true
	t.reason = reason
	close(t.ch)
}

// Aborted reports whether Abort has already been called.
func (t *CancellationToken) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Reason returns the reason passed to Abort, if any.
func (t *CancellationToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel closed the instant Abort is called, for use in a
// select alongside a worker's reply/exit channels.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.ch
}

// TaskDescriptor is what the engine executes (spec §3). Callable is the only
// required field (a nil Callable is rejected as VALIDATION); left at their
// zero values, the other fields mean no arguments, no timeout, PriorityLow
// (the zero Priority), the normal pool, and, through Engine.Submit, the
// engine's default RetryPolicy.
type TaskDescriptor struct {
	Callable Callable
	Args     []any
	Env      map[string]any

	// Transfer lists values the spec's §3 "ownership-moved values" describes
	// as an optimization hint; Go has no ownership-transfer primitive for
	// arbitrary values, so Transfer is carried unchanged into
	// RequestMessage.Transfer. The default goroutine worker does not pass it
	// to the Callable, which sees only Args and Env — see DESIGN.md.
	Transfer []any

	Timeout time.Duration
	Cancel  *CancellationToken

	Priority Priority
	Retry    RetryPolicy
	Safe     bool
	NoCoalesce bool
	Pool     PoolType

	// Source is an optional descriptive tag the Coalescer's non-determinism
	// filter scans for the fixed pattern set (spec §4.5). Defaults to the
	// callable's runtime-resolved qualified name when left empty — see
	// callableSourceHint and DESIGN.md for why this substitutes for source
	// text transport, which is out of scope (spec §1).
	Source string

	// fingerprint overrides the derived fingerprint, letting a caller pin
	// affinity/coalescing identity explicitly rather than relying on
	// reflect-derived function identity (useful for dynamically built
	// closures that should still coalesce/affinitize as "the same" task).
	fingerprint Fingerprint
	hasFP       bool
}

// WithFingerprint pins the descriptor's affinity/coalescing identity.
func (d TaskDescriptor) WithFingerprint(fp Fingerprint) TaskDescriptor {
	d.fingerprint = fp
	d.hasFP = true
	return d
}

func (d TaskDescriptor) resolveFingerprint() Fingerprint {
	if d.hasFP {
		return d.fingerprint
	}
	return fingerprintOf(d.Callable)
}

// SafeResult is the wrapper a safe-mode TaskDescriptor's future always
// fulfills with, never rejecting the underlying future (spec §4.3, §7).
type SafeResult struct {
	Status string // "fulfilled" or "rejected"
	Value  any
	Err    error
}
