package engine

import (
	"context"
	"sync"
	"time"
)

// poolState holds one PoolType's independent set of WorkerEntries, counters,
// and queue. A WorkerEntry never migrates between pool types (spec §3).
type poolState struct {
	mu sync.Mutex

	poolType        PoolType
	entries         []*WorkerEntry
	busyCount       int
	idleCount       int
	activeTemporary int
	nextID          int64
	queue           *priorityQueue
	shuttingDown    bool
}

func newPoolState(pt PoolType) *poolState {
	return &poolState{poolType: pt, queue: newPriorityQueue()}
}

// PoolManager is the Pool Manager (C1): owns worker lifecycle, selection,
// release, idle reclamation, and overflow across both pool types.
type PoolManager struct {
	cfg       *engineConfig
	metrics   *metrics
	logger    Logger
	newWorker func(id int64) Worker

	pools map[PoolType]*poolState
}

// NewPoolManager constructs a PoolManager with empty pools for both
// PoolNormal and PoolGenerator. newWorker is the factory used for every
// pooled and temporary worker; tests substitute a fake here.
func NewPoolManager(cfg *engineConfig, m *metrics, logger Logger, newWorker func(id int64) Worker) *PoolManager {
	pm := &PoolManager{
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		newWorker: newWorker,
		pools: map[PoolType]*poolState{
			PoolNormal:    newPoolState(PoolNormal),
			PoolGenerator: newPoolState(PoolGenerator),
		},
	}
	return pm
}

// PoolStats is the read-only snapshot returned by Stats().
type PoolStats struct {
	PoolType  PoolType
	Size      int
	BusyCount int
	IdleCount int
	QueueLen  int
}

func (pm *PoolManager) stateFor(pt PoolType) *poolState {
	return pm.pools[pt]
}

// Warmup eagerly creates count pooled WorkerEntries, the way the teacher's
// Scheduler.Start launches n persistent workers via errgroup up front
// instead of growing lazily on first acquire.
func (pm *PoolManager) Warmup(pt PoolType, count int) {
	ps := pm.stateFor(pt)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for len(ps.entries) < count && len(ps.entries) < pm.cfg.poolSize {
		id := ps.nextID
		ps.nextID++
		entry := newWorkerEntry(id, pm.newWorker(id))
		ps.entries = append(ps.entries, entry)
		ps.idleCount++
		pm.armIdleTimer(ps, entry)
	}
}

// Acquire runs the five-strategy selection algorithm in strict order (spec
// §4.1) and returns a Future that resolves as soon as a strategy succeeds,
// or immediately if strategies 1-4 already did.
func (pm *PoolManager) Acquire(ctx context.Context, pt PoolType, priority Priority, fingerprint Fingerprint, hasFingerprint bool) *Future[Acquisition] {
	future := NewFuture[Acquisition]()
	ps := pm.stateFor(pt)

	ps.mu.Lock()

	if ps.shuttingDown {
		ps.mu.Unlock()
		future.reject(newAbortedError("pool shutdown"))
		return future
	}

	// Strategy 1: affinity match.
	if hasFingerprint {
		if ps.idleCount > 0 {
			for _, e := range ps.entries {
				if !e.busy && !e.removed && e.hasAffinity(fingerprint) {
					pm.claimIdle(ps, e)
					pm.metrics.affinityHits.Add(1)
					ps.mu.Unlock()
					future.resolve(Acquisition{Entry: e, WorkerHandle: e.Handle, AffinityHit: true})
					return future
				}
			}
		}
		pm.metrics.affinityMisses.Add(1)
	}

	// Strategy 2: least-used idle.
	if ps.idleCount > 0 {
		var best *WorkerEntry
		for _, e := range ps.entries {
			if e.busy || e.removed {
				continue
			}
			if e.TasksExecuted == 0 {
				best = e
				break
			}
			if best == nil || e.TasksExecuted < best.TasksExecuted {
				best = e
			}
		}
		if best != nil {
			pm.claimIdle(ps, best)
			ps.mu.Unlock()
			future.resolve(Acquisition{Entry: best, WorkerHandle: best.Handle})
			return future
		}
	}

	// Strategy 3: grow pool. New entries are born busy to avoid a counter
	// race between creation and the caller's first dispatch (spec §9).
	if len(ps.entries) < pm.cfg.poolSize {
		id := ps.nextID
		ps.nextID++
		entry := newWorkerEntry(id, pm.newWorker(id))
		entry.busy = true
		ps.entries = append(ps.entries, entry)
		ps.busyCount++
		ps.mu.Unlock()
		future.resolve(Acquisition{Entry: entry, WorkerHandle: entry.Handle})
		return future
	}

	// Strategy 4: temporary overflow.
	if ps.activeTemporary < pm.cfg.maxTemporaryWorkers {
		ps.activeTemporary++
		ps.mu.Unlock()
		pm.metrics.temporaryWorkersCreated.Add(1)
		pm.metrics.activeTemporaryWorkers.Add(1)
		handle := pm.newWorker(-1)
		future.resolve(Acquisition{WorkerHandle: handle, IsTemporary: true})
		return future
	}

	// Strategy 5: queue, or fail with QUEUE_FULL.
	if ps.queue.length() < pm.cfg.maxQueueSize {
		qt := &queuedTask{priority: priority, future: future}
		ps.queue.enqueue(qt)
		ps.mu.Unlock()
		return future
	}

	ps.mu.Unlock()
	future.reject(newQueueFullError(pm.cfg.maxQueueSize))
	return future
}

// claimIdle flips busy, cancels any pending idle-reclamation timer, and
// updates counters. Caller must hold ps.mu.
func (pm *PoolManager) claimIdle(ps *poolState, e *WorkerEntry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	e.busy = true
	ps.idleCount--
	ps.busyCount++
}

// Release implements the §4.1 release algorithm: temporary-worker teardown,
// pooled-entry stat updates, forced eviction, affinity retention, and the
// priority hand-off to the next QueuedTask.
func (pm *PoolManager) Release(pt PoolType, entry *WorkerEntry, handle Worker, isTemporary bool, execTime time.Duration, failed bool, fingerprint Fingerprint, hasFingerprint bool, forceTerminated bool) {
	ps := pm.stateFor(pt)

	if isTemporary {
		ps.mu.Lock()
		ps.activeTemporary--
		ps.mu.Unlock()
		pm.metrics.activeTemporaryWorkers.Add(-1)
		if !forceTerminated {
			handle.Terminate()
		}
		return
	}

	ps.mu.Lock()

	entry.TasksExecuted++
	entry.ExecTime += execTime
	if failed {
		entry.FailedTasks++
	}

	if forceTerminated {
		pm.spliceOut(ps, entry)
		ps.mu.Unlock()
		return
	}

	if hasFingerprint && !pm.cfg.lowMemoryMode {
		entry.recordAffinity(fingerprint)
	}

	// Hand-off: give this worker straight to the highest-priority waiter
	// without toggling busy, since the worker keeps executing (spec §4.1).
	qt := ps.queue.dequeueHighest()
	if qt != nil && entry.busy {
		ps.mu.Unlock()
		qt.future.resolve(Acquisition{Entry: entry, WorkerHandle: entry.Handle})
		return
	}

	entry.busy = false
	ps.idleCount++
	ps.busyCount--
	pm.armIdleTimer(ps, entry)
	ps.mu.Unlock()
}

// spliceOut removes entry from the pool, adjusting counters based on its
// prior busy state. Caller must hold ps.mu.
func (pm *PoolManager) spliceOut(ps *poolState, entry *WorkerEntry) {
	if entry.removed {
		return
	}
	entry.removed = true
	if entry.idleTimer != nil {
		entry.idleTimer.Stop()
		entry.idleTimer = nil
	}
	if entry.busy {
		ps.busyCount--
	} else {
		ps.idleCount--
	}
	for i, e := range ps.entries {
		if e == entry {
			ps.entries = append(ps.entries[:i], ps.entries[i+1:]...)
			break
		}
	}
}

// armIdleTimer schedules idle reclamation for entry. Caller must hold ps.mu.
func (pm *PoolManager) armIdleTimer(ps *poolState, entry *WorkerEntry) {
	if pm.cfg.workerIdleTimeout <= 0 {
		return
	}
	entry.idleTimer = time.AfterFunc(pm.cfg.workerIdleTimeout, func() {
		pm.reclaimIdle(ps, entry)
	})
}

// reclaimIdle is the idle-reclamation timer callback (spec §4.1): if the
// entry is still idle and the pool exceeds max(minThreads, 1), terminate
// and evict it; otherwise leave it be.
func (pm *PoolManager) reclaimIdle(ps *poolState, entry *WorkerEntry) {
	ps.mu.Lock()
	if entry.removed || entry.busy {
		ps.mu.Unlock()
		return
	}
	floor := pm.cfg.minThreads
	if floor < 1 {
		floor = 1
	}
	if len(ps.entries) <= floor {
		ps.mu.Unlock()
		return
	}
	pm.spliceOut(ps, entry)
	ps.mu.Unlock()
	entry.Handle.Terminate()
}

// Stats returns a point-in-time snapshot for pt.
func (pm *PoolManager) Stats(pt PoolType) PoolStats {
	ps := pm.stateFor(pt)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return PoolStats{
		PoolType:  pt,
		Size:      len(ps.entries),
		BusyCount: ps.busyCount,
		IdleCount: ps.idleCount,
		QueueLen:  ps.queue.length(),
	}
}

// Shutdown terminates every WorkerEntry in every pool and rejects every
// queued waiter with ABORTED, satisfying spec §8 property 3: after
// shutdown, |pool|=0 and no queue retains waiters. Acquire calls made after
// Shutdown are rejected with ABORTED.
func (pm *PoolManager) Shutdown() {
	for _, ps := range pm.pools {
		ps.mu.Lock()
		ps.shuttingDown = true
		entries := ps.entries
		ps.entries = nil
		ps.busyCount = 0
		ps.idleCount = 0
		waiters := ps.queue.drain()
		ps.mu.Unlock()

		for _, e := range entries {
			if e.idleTimer != nil {
				e.idleTimer.Stop()
			}
			e.Handle.Terminate()
		}
		for _, w := range waiters {
			w.future.reject(newAbortedError("pool shutdown"))
		}
	}
}
