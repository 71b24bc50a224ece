package engine

import "context"

// This file is the Worker Protocol (spec §6): the host<->worker message
// shapes and the Worker interface every pooled entry's handle satisfies.
// The host-language marshalling boundary that would carry these messages
// across a real process boundary is out of scope (spec §1) — here a
// "worker" is a long-lived goroutine and the messages below travel over a
// Go channel instead of a wire, but the shapes and the Task Engine's
// single-shot settle over reply, exit, cancellation and timeout are
// unchanged.

// RequestMessage is the host->worker Request Message for the normal pool.
type RequestMessage struct {
	Callable Callable
	Args     []any
	Env      map[string]any
	Transfer []any
}

// GeneratorRequestMessage is the host->worker Request Message for the
// generator pool.
type GeneratorRequestMessage struct {
	Callable GeneratorCallable
	Args     []any
	Env      map[string]any
}

// WorkerErrorDetail is the {name, message, stack?} shape copied verbatim
// from a worker's serialized error object into a WORKER_ERROR.
type WorkerErrorDetail struct {
	Name    string
	Message string
	Stack   string
}

type responseKind int

const (
	respOK responseKind = iota
	respError
	respLog
	respYield
	respReturn
	respEnd
)

// response is the unified, tagged union of every §6 worker->host message.
// The Task Engine and Stream Engine each only look at the tags relevant to
// their pool type, exactly as §6 documents two disjoint message sets for
// the normal and generator pools.
type response struct {
	kind responseKind

	value any
	err   *WorkerErrorDetail

	logLevel string
	logArgs  []string
}

// Worker is the opaque executor contract a pooled WorkerEntry's handle
// satisfies (spec §6's "worker process", realized here as a long-lived
// goroutine). Dispatch sends exactly one Request Message; the engine then
// waits on Replies()/Exit() until a terminal message arrives, honoring the
// "at most one task per worker at a time" ordering guarantee in §4.3.
type Worker interface {
	// Dispatch starts executing req. The caller must not call Dispatch again
	// until the previous dispatch has produced a terminal response.
	Dispatch(ctx context.Context, req RequestMessage)
	// DispatchGenerator is Dispatch's generator-pool counterpart.
	DispatchGenerator(ctx context.Context, req GeneratorRequestMessage)
	// Replies streams every response for the current dispatch: zero or more
	// log/yield messages followed by exactly one terminal message
	// (ok/error, or return?+end/error for the generator pool).
	Replies() <-chan response
	// Exit is closed exactly once, when the worker stops running. Multiple
	// goroutines (the Task Engine awaiting a reply, the Pool Manager
	// watching for spontaneous exits) may select on it simultaneously;
	// ExitCode reports the code after it closes (0 for a clean Terminate,
	// non-zero for a crash).
	Exit() <-chan struct{}
	ExitCode() int
	// Terminate hard-stops the worker. Spec §5/§7: termination is hard, any
	// in-flight work is lost, and Go cannot forcibly kill a goroutine that
	// ignores ctx — Terminate cancels the dispatch context and marks the
	// worker exited; a callable that ignores ctx.Done() keeps running
	// detached from the pool until it returns on its own. See DESIGN.md.
	Terminate()
}
