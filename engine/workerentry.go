package engine

import "time"

// maxAffinitySetSize is the cap spec §3/§9 fixes at 50: best-effort, cleared
// wholesale on overflow rather than LRU-evicted, because affinity is an
// advisory hint, not a correctness mechanism.
const maxAffinitySetSize = 50

// WorkerEntry is a long-lived pooled worker (spec §3). It is created by the
// Pool Manager and destroyed on exit/terminate or idle timeout; its busy
// flag reflects whether a task is currently assigned to it, and that flag
// is only ever flipped under its pool's guard.
type WorkerEntry struct {
	ID     int64
	Handle Worker

	busy bool

	TasksExecuted int64
	ExecTime      time.Duration
	FailedTasks   int64

	affinity map[Fingerprint]struct{}

	idleTimer *time.Timer
	removed   bool

	temporary bool // always false; kept for symmetry with Acquisition docs
}

func newWorkerEntry(id int64, handle Worker) *WorkerEntry {
	return &WorkerEntry{
		ID:       id,
		Handle:   handle,
		affinity: make(map[Fingerprint]struct{}),
	}
}

// hasAffinity reports whether fp was previously run on this entry.
func (e *WorkerEntry) hasAffinity(fp Fingerprint) bool {
	_, ok := e.affinity[fp]
	return ok
}

// recordAffinity inserts fp into the bounded affinity set, clearing the
// whole set first if it is already at cap (spec §4.1's "retention is
// best-effort" contract — simpler than LRU, and affinity is only a hint).
func (e *WorkerEntry) recordAffinity(fp Fingerprint) {
	if len(e.affinity) >= maxAffinitySetSize {
		e.affinity = make(map[Fingerprint]struct{})
	}
	e.affinity[fp] = struct{}{}
}

// Acquisition is what Pool Manager.acquire() resolves with. Entry is absent
// (nil) iff IsTemporary is true — a temporary worker is never tracked as a
// WorkerEntry.
type Acquisition struct {
	Entry        *WorkerEntry
	WorkerHandle Worker
	IsTemporary  bool
	AffinityHit  bool
}
