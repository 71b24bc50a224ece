package engine

import (
	"context"
	"hash/fnv"
	"reflect"
	"runtime"
)

// Callable is the unit of work a TaskDescriptor carries. The host-language
// serialization boundary that would marshal a callable's source text to a
// sandboxed worker process is explicitly out of scope (spec §1): this
// module's Callable is an ordinary Go function value, and the "worker" is an
// in-process goroutine rather than a separate OS process. Args and env are
// passed through verbatim; env is the lexical-scope injection spec §3
// describes for TaskDescriptor.
type Callable func(ctx context.Context, args []any, env map[string]any) (any, error)

// GeneratorCallable is the incremental-producer counterpart Callable used by
// the Stream Engine (§4.6). It calls yield once per YIELD message; a
// non-nil error from yield means the consumer cancelled and the callable
// must stop producing and return promptly.
type GeneratorCallable func(ctx context.Context, args []any, env map[string]any, yield func(value any) error) (ret any, err error)

// Fingerprint is the fast, non-cryptographic hash over a callable's identity
// used for affinity routing (§4.1) and coalescing keys (§4.5). Spec §9 notes
// collisions are acceptable — affinity is a best-effort hint, not a
// correctness mechanism — so a name+address hash over the function value is
// sufficient; there is no source-text transport to hash against since
// Callable is a native Go value, not marshalled source.
type Fingerprint uint64

// fingerprintOf derives a Fingerprint from a Callable's underlying function
// pointer and fully-qualified name. Two Callable values wrapping the same
// named function (even if independently allocated as closures) fingerprint
// identically, which is what affinity and coalescing need.
//
// hash/fnv is stdlib rather than an ecosystem dependency because none of the
// retrieved example repositories hash function identity.
func fingerprintOf(fn any) Fingerprint {
	v := reflect.ValueOf(fn)
	pc := v.Pointer()
	h := fnv.New64a()
	if rf := runtime.FuncForPC(pc); rf != nil {
		_, _ = h.Write([]byte(rf.Name()))
	}
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(pc >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return Fingerprint(h.Sum64())
}

// callableSourceHint returns fn's runtime-resolved qualified name, used as
// the Coalescer's default Source when a TaskDescriptor does not set one
// explicitly. A closure declared inside a package that imports time/rand
// for its body still resolves to that package's own name (e.g.
// "pkg.init.func3"), not the symbols it calls — callers whose callables
// wrap a non-deterministic source should set TaskDescriptor.Source (or
// NoCoalesce) explicitly rather than rely on this heuristic; see
// DESIGN.md.
func callableSourceHint(fn any) string {
	if fn == nil {
		return ""
	}
	pc := reflect.ValueOf(fn).Pointer()
	if rf := runtime.FuncForPC(pc); rf != nil {
		return rf.Name()
	}
	return ""
}
