package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFutureTimeout is returned by Future.GetWithTimeout when the timeout
// elapses before the future settles.
var ErrFutureTimeout = errors.New("engine: future wait timed out")

// Future is a single-assignment promise, the async return value for every
// operation in this package (acquire, executeOnce, Submit, ...). It mirrors
// the teacher's internal future type: settle exactly once, then Get may be
// called any number of times by any number of goroutines.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture creates an unsettled Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve settles the future successfully. Only the first call has effect.
func (f *Future[T]) resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

// reject settles the future with an error. Only the first call has effect.
func (f *Future[T]) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Get blocks until the future settles or ctx is done, whichever comes first.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// GetWithTimeout blocks until the future settles or the timeout elapses.
func (f *Future[T]) GetWithTimeout(d time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-time.After(d):
		var zero T
		return zero, ErrFutureTimeout
	}
}

// IsReady reports whether the future has already settled, without blocking.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done exposes the settle channel so callers can multiplex it into their own
// select statements (the Coalescer waits on it to drop a settled in-flight
// entry).
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
