package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TaskEngine is the Task Engine (C3): single-shot acquire -> dispatch ->
// await -> release, with timeout and cancellation enforced by hard worker
// termination. It knows nothing about retries or coalescing; the Retry
// Controller and Coalescer wrap it from outside (spec §4.3).
type TaskEngine struct {
	pool    *PoolManager
	metrics *metrics
	logger  Logger
	cfg     *engineConfig
}

// NewTaskEngine wires a TaskEngine to the given Pool Manager.
func NewTaskEngine(pool *PoolManager, m *metrics, logger Logger, cfg *engineConfig) *TaskEngine {
	return &TaskEngine{pool: pool, metrics: m, logger: logger, cfg: cfg}
}

// ExecuteOnce runs d exactly once: no retries. If d.Safe is set, the
// returned future always fulfills with a SafeResult and never rejects.
func (te *TaskEngine) ExecuteOnce(ctx context.Context, d TaskDescriptor) *Future[any] {
	future := NewFuture[any]()

	if err := validateDescriptor(d); err != nil {
		te.settleWithoutWorker(future, d, err)
		return future
	}

	if d.Cancel != nil && d.Cancel.Aborted() {
		te.settleWithoutWorker(future, d, newAbortedError(d.Cancel.Reason()))
		return future
	}

	go te.run(ctx, d, future)
	return future
}

// validateDescriptor rejects a descriptor at the host boundary, before any
// worker is touched, so a malformed submission surfaces as VALIDATION
// rather than reaching workerimpl.go and panicking into WORKER_ERROR.
func validateDescriptor(d TaskDescriptor) error {
	if d.Callable == nil {
		return newValidationError("Callable", "non-nil Callable")
	}
	if d.Timeout < 0 {
		return newValidationError("Timeout", "non-negative Duration")
	}
	return nil
}

func (te *TaskEngine) run(ctx context.Context, d TaskDescriptor, future *Future[any]) {
	fp := d.resolveFingerprint()

	acqFuture := te.pool.Acquire(ctx, d.Pool, d.Priority, fp, true)
	acq, err := acqFuture.Get(context.Background())
	if err != nil {
		te.settleWithoutWorker(future, d, err)
		return
	}

	handle := acq.WorkerHandle

	if te.cfg.rateLimiter != nil {
		if err := te.cfg.rateLimiter.Wait(ctx); err != nil {
			te.pool.Release(d.Pool, acq.Entry, handle, acq.IsTemporary, 0, true, fp, true, false)
			te.settleWithoutWorker(future, d, newAbortedError(err.Error()))
			return
		}
	}

	start := time.Now()

	var once sync.Once
	settle := func(success bool, value any, failErr error, forceTerminated bool) {
		once.Do(func() {
			te.pool.Release(d.Pool, acq.Entry, handle, acq.IsTemporary, time.Since(start), !success, fp, true, forceTerminated)
			if success {
				te.metrics.tasksExecuted.Add(1)
				future.resolve(wrapSafe(d, value, nil))
				return
			}
			te.metrics.tasksFailed.Add(1)
			if d.Safe {
				future.resolve(wrapSafe(d, nil, failErr))
				return
			}
			future.reject(failErr)
		})
	}

	var timerC <-chan time.Time
	if d.Timeout > 0 {
		timer := time.NewTimer(d.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var cancelDone <-chan struct{}
	if d.Cancel != nil {
		cancelDone = d.Cancel.Done()
	}

	handle.Dispatch(ctx, RequestMessage{Callable: d.Callable, Args: d.Args, Env: d.Env, Transfer: d.Transfer})

	for {
		select {
		case resp := <-handle.Replies():
			switch resp.kind {
			case respOK:
				settle(true, resp.value, nil, false)
				return
			case respError:
				settle(false, nil, newWorkerError(resp.err.Name, resp.err.Message, resp.err.Stack, nil), false)
				return
			case respLog:
				forwardWorkerLog(te.logger, resp.logLevel, resp.logArgs)
			}
		case <-handle.Exit():
			code := handle.ExitCode()
			if code != 0 {
				settle(false, nil, newWorkerError("ExitError", fmt.Sprintf("worker exited with code %d", code), "", nil), false)
			} else {
				settle(false, nil, newWorkerError("ExitError", "worker exited before reply", "", nil), false)
			}
			return
		case <-cancelDone:
			handle.Terminate()
			settle(false, nil, newAbortedError(d.Cancel.Reason()), true)
			return
		case <-timerC:
			handle.Terminate()
			settle(false, nil, newTimeoutError(d.Timeout.Milliseconds()), true)
			return
		}
	}
}

// settleWithoutWorker handles the failure paths that end before anything is
// dispatched to a worker: a descriptor rejected by validateDescriptor, an
// already-aborted token (spec §4.3 step 1), a failed acquire, and a failed
// rate-limiter wait (whose worker has already been released).
func (te *TaskEngine) settleWithoutWorker(future *Future[any], d TaskDescriptor, err error) {
	te.metrics.tasksFailed.Add(1)
	if d.Safe {
		future.resolve(wrapSafe(d, nil, err))
		return
	}
	future.reject(err)
}

// wrapSafe applies the safe-mode result wrapper when d.Safe is set, and is
// a pass-through otherwise.
func wrapSafe(d TaskDescriptor, value any, err error) any {
	if !d.Safe {
		if err != nil {
			return nil
		}
		return value
	}
	if err != nil {
		return SafeResult{Status: "rejected", Err: err}
	}
	return SafeResult{Status: "fulfilled", Value: value}
}
