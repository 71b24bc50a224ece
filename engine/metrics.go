package engine

import "sync/atomic"

// metrics is the live, mutable counter bag described in spec §3. All fields
// are updated from multiple goroutines and must only ever be touched through
// the atomic helpers below.
type metrics struct {
	tasksExecuted           atomic.Int64
	tasksFailed             atomic.Int64
	retries                 atomic.Int64
	affinityHits            atomic.Int64
	affinityMisses          atomic.Int64
	temporaryWorkersCreated atomic.Int64
	activeTemporaryWorkers  atomic.Int64
	coalescedCount          atomic.Int64
	uniqueCount             atomic.Int64
}

// Metrics is the deep-frozen snapshot returned by Engine.Metrics(). It is a
// plain value type: mutating it has no effect on the live engine.
type Metrics struct {
	TasksExecuted           int64
	TasksFailed             int64
	Retries                 int64
	AffinityHits            int64
	AffinityMisses          int64
	TemporaryWorkersCreated int64
	ActiveTemporaryWorkers  int64
	CoalescedCount          int64
	UniqueCount             int64
}

func (m *metrics) snapshot() Metrics {
	return Metrics{
		TasksExecuted:           m.tasksExecuted.Load(),
		TasksFailed:             m.tasksFailed.Load(),
		Retries:                 m.retries.Load(),
		AffinityHits:            m.affinityHits.Load(),
		AffinityMisses:          m.affinityMisses.Load(),
		TemporaryWorkersCreated: m.temporaryWorkersCreated.Load(),
		ActiveTemporaryWorkers:  m.activeTemporaryWorkers.Load(),
		CoalescedCount:          m.coalescedCount.Load(),
		UniqueCount:             m.uniqueCount.Load(),
	}
}

// CoalesceSnapshot is the Coalescer's own read view, §4.5: rate is
// coalesced / (coalesced + unique), 0 when no requests have landed yet.
type CoalesceSnapshot struct {
	Coalesced int64
	Unique    int64
	InFlight  int
	Rate      float64
}
