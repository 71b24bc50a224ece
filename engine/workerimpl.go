package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/arkwell-io/jobengine/internal/cpu"
)

// goroutineWorker is the default Worker implementation: a single long-lived
// goroutine that loops accepting one dispatch at a time. It is the
// in-process stand-in for the sandboxed worker process the spec treats as
// opaque (spec §1, §6) — panics are recovered the way a worker's own
// uncaughtException hook would serialize a crash into a failure reply
// instead of taking the process down (spec §7).
type goroutineWorker struct {
	id int64

	dispatchCh chan dispatchRequest
	repliesCh  chan response
	exitCh     chan struct{}
	exitOnce   sync.Once
	exitCode   int

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	unpin func()
}

type dispatchRequest struct {
	ctx       context.Context
	normal    *RequestMessage
	generator *GeneratorRequestMessage
}

// newGoroutineWorker starts the worker loop and returns its handle. pin, if
// true, pins the worker's goroutine to a CPU core via internal/cpu the way
// the teacher's benchmark harness pins goroutines — here applied per pooled
// worker for CPU-bound callables (see SPEC_FULL.md domain-stack table).
func newGoroutineWorker(id int64, pin bool) *goroutineWorker {
	w := &goroutineWorker{
		id:         id,
		dispatchCh: make(chan dispatchRequest, 1),
		repliesCh:  make(chan response, 4),
		exitCh:     make(chan struct{}),
	}
	go w.loop(pin)
	return w
}

func (w *goroutineWorker) loop(pin bool) {
	if pin {
		w.unpin = cpu.SetupWorkerAffinity(int(w.id))
		defer func() {
			if w.unpin != nil {
				w.unpin()
			}
		}()
	}

	for req := range w.dispatchCh {
		switch {
		case req.normal != nil:
			w.runNormal(req.ctx, req.normal)
		case req.generator != nil:
			w.runGenerator(req.ctx, req.generator)
		}
	}
}

func (w *goroutineWorker) Dispatch(ctx context.Context, req RequestMessage) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()
	w.dispatchCh <- dispatchRequest{ctx: ctx, normal: &req}
}

func (w *goroutineWorker) DispatchGenerator(ctx context.Context, req GeneratorRequestMessage) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()
	w.dispatchCh <- dispatchRequest{ctx: ctx, generator: &req}
}

func (w *goroutineWorker) Replies() <-chan response { return w.repliesCh }
func (w *goroutineWorker) Exit() <-chan struct{}     { return w.exitCh }
func (w *goroutineWorker) ExitCode() int             { return w.exitCode }

func (w *goroutineWorker) Terminate() {
	w.cancelMu.Lock()
	cancel := w.cancel
	w.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.exitOnce.Do(func() {
		close(w.dispatchCh)
		w.exitCode = 0
		close(w.exitCh)
	})
}

func (w *goroutineWorker) runNormal(ctx context.Context, req *RequestMessage) {
	value, errDetail := w.invoke(ctx, func() (any, error) {
		return req.Callable(ctx, req.Args, req.Env)
	})
	if errDetail != nil {
		w.repliesCh <- response{kind: respError, err: errDetail}
		return
	}
	w.repliesCh <- response{kind: respOK, value: value}
}

func (w *goroutineWorker) runGenerator(ctx context.Context, req *GeneratorRequestMessage) {
	yield := func(v any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.repliesCh <- response{kind: respYield, value: v}
		return nil
	}

	ret, errDetail := w.invoke(ctx, func() (any, error) {
		return req.Callable(ctx, req.Args, req.Env, yield)
	})
	if errDetail != nil {
		w.repliesCh <- response{kind: respError, err: errDetail}
		return
	}
	if ret != nil {
		w.repliesCh <- response{kind: respReturn, value: ret}
	}
	w.repliesCh <- response{kind: respEnd}
}

// invoke runs fn with panic recovery, converting a panic into the same
// {name, message, stack} shape a crashed worker would report over the wire.
func (w *goroutineWorker) invoke(ctx context.Context, fn func() (any, error)) (any, *WorkerErrorDetail) {
	type outcome struct {
		value any
		err   error
		panicked *WorkerErrorDetail
	}

	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				out <- outcome{panicked: &WorkerErrorDetail{
					Name:    "PanicError",
					Message: fmt.Sprintf("%v", r),
					Stack:   string(buf[:n]),
				}}
				return
			}
		}()
		v, err := fn()
		out <- outcome{value: v, err: err}
	}()

	select {
	case res := <-out:
		if res.panicked != nil {
			return nil, res.panicked
		}
		if res.err != nil {
			return nil, &WorkerErrorDetail{Name: "Error", Message: res.err.Error()}
		}
		return res.value, nil
	case <-ctx.Done():
		// The callable is abandoned: it may keep running detached from the
		// pool (Go cannot forcibly kill a goroutine) — see Worker.Terminate's
		// doc comment. When Terminate caused this (timeout or cancellation),
		// the Task Engine settles TIMEOUT/ABORTED itself and does not read
		// this reply; when the caller's ctx was cancelled instead, this
		// "Abandoned" reply is what settles the task, as WORKER_ERROR.
		return nil, &WorkerErrorDetail{Name: "Abandoned", Message: ctx.Err().Error()}
	}
}
