package engine

import (
	"context"
	"time"

	"github.com/arkwell-io/jobengine/internal/backoff"
)

// RetryController is the Retry Controller (C4): wraps the Task Engine in a
// bounded exponential-backoff-with-jitter loop (spec §4.4). It is itself
// wrapped by the Coalescer, so every attempt it drives is a fresh,
// non-safe ExecuteOnce call — outer safe-mode wrapping happens once, after
// the loop settles.
type RetryController struct {
	engine      *TaskEngine
	metrics     *metrics
	backoffKind backoff.BackoffType
}

// NewRetryController wires a RetryController to the given Task Engine.
func NewRetryController(te *TaskEngine, m *metrics, kind backoff.BackoffType) *RetryController {
	return &RetryController{engine: te, metrics: m, backoffKind: kind}
}

// Execute runs d through the Retry Controller. If d.Retry is absent or
// disabled this is a direct delegation to ExecuteOnce (spec §4.4, first
// sentence). Otherwise it attempts up to d.Retry.MaxAttempts times,
// sleeping a jittered exponential delay between attempts, and never
// retries ABORTED or TIMEOUT — those are caller-intent failures, not
// transient ones.
func (rc *RetryController) Execute(ctx context.Context, d TaskDescriptor) *Future[any] {
	policy := d.Retry
	if !policy.enabled() {
		return rc.engine.ExecuteOnce(ctx, d)
	}

	outer := NewFuture[any]()
	go rc.run(ctx, d, policy, outer)
	return outer
}

func (rc *RetryController) run(ctx context.Context, d TaskDescriptor, policy RetryPolicy, outer *Future[any]) {
	strategy := backoff.New(rc.backoffKind, policy.BaseDelay, policy.MaxDelay, policy.BackoffFactor)
	strategy.Reset()

	attemptDescriptor := d
	attemptDescriptor.Safe = false

	var lastErr error
attempts:
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		future := rc.engine.ExecuteOnce(ctx, attemptDescriptor)
		value, err := future.Get(ctx)
		if err == nil {
			rc.settle(d, outer, value, nil)
			return
		}
		lastErr = err

		if !shouldRetry(err) {
			break
		}
		if attempt+1 >= policy.MaxAttempts {
			break
		}

		delay := strategy.NextDelay(attempt, err)
		rc.metrics.retries.Add(1)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		}
	}

	rc.settle(d, outer, nil, lastErr)
}

// settle applies the outer descriptor's safe-mode contract exactly once:
// if d.Safe, the future always resolves with a SafeResult; otherwise it
// resolves on success and rejects on failure, same as ExecuteOnce would.
func (rc *RetryController) settle(d TaskDescriptor, outer *Future[any], value any, err error) {
	if d.Safe {
		outer.resolve(wrapSafe(d, value, err))
		return
	}
	if err != nil {
		outer.reject(err)
		return
	}
	outer.resolve(value)
}

// shouldRetry reports whether err's Kind is one the Retry Controller may
// attempt again. ABORTED and TIMEOUT are caller-intent failures: retrying
// them is either a correctness bug or doubles the cancellation latency
// (spec §4.4 rationale).
func shouldRetry(err error) bool {
	ee, ok := AsEngineError(err)
	if !ok {
		return true
	}
	return ee.Kind.Retryable()
}
