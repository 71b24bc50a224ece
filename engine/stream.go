package engine

import (
	"context"
	"sync"
)

// StreamDescriptor is the generator-pool counterpart to TaskDescriptor: a
// GeneratorCallable instead of a Callable, and no Retry/Safe/NoCoalesce
// fields, since the Stream Engine bypasses both the Retry Controller and
// the Coalescer entirely (spec §4.6, §2's data-flow diagram).
type StreamDescriptor struct {
	Callable GeneratorCallable
	Args     []any
	Env      map[string]any

	Priority Priority
	Cancel   *CancellationToken

	fingerprint Fingerprint
	hasFP       bool
}

// WithFingerprint pins a StreamDescriptor's affinity identity, mirroring
// TaskDescriptor.WithFingerprint.
func (d StreamDescriptor) WithFingerprint(fp Fingerprint) StreamDescriptor {
	d.fingerprint = fp
	d.hasFP = true
	return d
}

func (d StreamDescriptor) resolveFingerprint() Fingerprint {
	if d.hasFP {
		return d.fingerprint
	}
	return fingerprintOf(d.Callable)
}

// StreamReader is the lazy, cancellable sequence spec §4.6 describes.
// Next blocks until a value is produced, the producer returns/errors, or
// the reader is closed; ReturnValue is only meaningful after Next reports
// ok=false with a nil error.
type StreamReader struct {
	values chan any
	done   chan struct{}

	mu     sync.Mutex
	retVal any
	err    error
	closed bool

	closeOnce sync.Once
	cleanup   func(forceTerminate bool)
}

// Next blocks for the next yielded value. ok is false once the sequence
// has ended (ERR or END) or the reader has been closed; callers should
// then inspect Err and ReturnValue.
func (r *StreamReader) Next(ctx context.Context) (value any, ok bool) {
	select {
	case v, open := <-r.values:
		if !open {
			return nil, false
		}
		return v, true
	case <-ctx.Done():
		r.Close()
		return nil, false
	case <-r.done:
		return nil, false
	}
}

// Err returns the ERROR-kind failure that ended the sequence, if any.
func (r *StreamReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReturnValue is the auxiliary accessor for the generator's RETURN message
// (spec §4.6), retrievable after END.
func (r *StreamReader) ReturnValue() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retVal
}

// Close terminates the underlying worker and releases it. Idempotent:
// detach listeners and call release exactly once, whether the caller
// closes explicitly or the sequence already ended on its own (spec
// §4.6's "cleanup on close/cancel/error is idempotent").
func (r *StreamReader) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		alreadyDone := r.closed
		r.closed = true
		r.mu.Unlock()
		r.cleanup(!alreadyDone)
	})
}

// StreamEngine is the Stream Engine (C6). It dispatches through a
// dedicated generator pool (spec §4.6) and never touches the Retry
// Controller or Coalescer.
type StreamEngine struct {
	pool    *PoolManager
	metrics *metrics
	logger  Logger
}

// NewStreamEngine wires a StreamEngine to the given Pool Manager.
func NewStreamEngine(pool *PoolManager, m *metrics, logger Logger) *StreamEngine {
	return &StreamEngine{pool: pool, metrics: m, logger: logger}
}

// Stream starts a generator-pool dispatch and returns a StreamReader the
// caller can pull from. Acquisition failures and an already-aborted token
// are reported through a reader that immediately reports Err and no
// values, keeping the call synchronous-looking despite running async.
func (se *StreamEngine) Stream(ctx context.Context, d StreamDescriptor) *StreamReader {
	r := &StreamReader{
		values: make(chan any),
		done:   make(chan struct{}),
	}

	if d.Cancel != nil && d.Cancel.Aborted() {
		r.failImmediately(newAbortedError(d.Cancel.Reason()))
		return r
	}

	fp := d.resolveFingerprint()
	acqFuture := se.pool.Acquire(ctx, PoolGenerator, d.Priority, fp, true)
	acq, err := acqFuture.Get(ctx)
	if err != nil {
		r.failImmediately(err)
		return r
	}

	se.run(ctx, d, acq, fp, r)
	return r
}

// failImmediately settles r with err without ever having acquired a
// worker, so Close's cleanup is a no-op.
func (r *StreamReader) failImmediately(err error) {
	r.cleanup = func(bool) {}
	r.mu.Lock()
	r.err = err
	r.closed = true
	r.mu.Unlock()
	close(r.values)
	close(r.done)
}

func (se *StreamEngine) run(ctx context.Context, d StreamDescriptor, acq Acquisition, fp Fingerprint, r *StreamReader) {
	handle := acq.WorkerHandle

	var releaseOnce sync.Once
	release := func(failed bool, forceTerminated bool) {
		releaseOnce.Do(func() {
			se.pool.Release(PoolGenerator, acq.Entry, handle, acq.IsTemporary, 0, failed, fp, true, forceTerminated)
		})
	}

	r.cleanup = func(forceTerminate bool) {
		if forceTerminate {
			handle.Terminate()
			release(false, true)
		}
	}

	var cancelDone <-chan struct{}
	if d.Cancel != nil {
		cancelDone = d.Cancel.Done()
	}

	handle.DispatchGenerator(ctx, GeneratorRequestMessage{Callable: d.Callable, Args: d.Args, Env: d.Env})

	go func() {
		defer close(r.done)
		for {
			select {
			case resp := <-handle.Replies():
				switch resp.kind {
				case respYield:
					select {
					case r.values <- resp.value:
					case <-cancelDone:
						handle.Terminate()
						release(false, true)
						r.setErr(newAbortedError(d.Cancel.Reason()))
						close(r.values)
						return
					}
				case respReturn:
					r.setRetVal(resp.value)
				case respEnd:
					release(false, false)
					r.mu.Lock()
					r.closed = true
					r.mu.Unlock()
					close(r.values)
					return
				case respError:
					release(true, false)
					r.setErr(newWorkerError(resp.err.Name, resp.err.Message, resp.err.Stack, nil))
					close(r.values)
					return
				case respLog:
					forwardWorkerLog(se.logger, resp.logLevel, resp.logArgs)
				}
			case <-handle.Exit():
				code := handle.ExitCode()
				if code != 0 {
					release(true, false)
					r.setErr(newWorkerError("ExitError", "generator worker exited before end", "", nil))
				} else {
					release(false, false)
					r.mu.Lock()
					r.closed = true
					r.mu.Unlock()
				}
				close(r.values)
				return
			case <-cancelDone:
				handle.Terminate()
				release(false, true)
				r.setErr(newAbortedError(d.Cancel.Reason()))
				close(r.values)
				return
			}
		}
	}()
}

func (r *StreamReader) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.closed = true
	r.mu.Unlock()
}

func (r *StreamReader) setRetVal(v any) {
	r.mu.Lock()
	r.retVal = v
	r.mu.Unlock()
}
