package engine

import (
	"context"
)

// Engine assembles the seven components (C1-C7) into the caller-facing
// surface spec §2 describes: a submission flows Coalescer -> Retry
// Controller -> Task Engine -> Pool Manager; Stream and Turbo each build
// their own path straight onto the Pool Manager, bypassing the Retry
// Controller and Coalescer (spec §2's data/control flow).
type Engine struct {
	cfg     *engineConfig
	metrics *metrics
	logger  Logger

	pool      *PoolManager
	task      *TaskEngine
	retry     *RetryController
	coalescer *Coalescer
	stream    *StreamEngine
	turbo     *Turbo
}

// New constructs an Engine with the default goroutine-backed Worker
// factory (one long-lived goroutine per pooled/temporary worker, see
// WithPinWorkers), the common case for production callers.
func New(opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newEngine(cfg, func(id int64) Worker { return newGoroutineWorker(id, cfg.pinWorkers) })
}

// NewWithWorkerFactory constructs an Engine against a caller-supplied
// Worker factory, for tests that substitute a fake Worker implementation.
func NewWithWorkerFactory(newWorker func(id int64) Worker, opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newEngine(cfg, newWorker)
}

func newEngine(cfg *engineConfig, newWorker func(id int64) Worker) *Engine {
	m := &metrics{}
	pool := NewPoolManager(cfg, m, cfg.logger, newWorker)
	task := NewTaskEngine(pool, m, cfg.logger, cfg)
	retry := NewRetryController(task, m, cfg.backoffKind)
	coalescer := NewCoalescer(cfg, m)
	stream := NewStreamEngine(pool, m, cfg.logger)
	turbo := NewTurbo(pool, m, cfg.logger, cfg)

	return &Engine{
		cfg:       cfg,
		metrics:   m,
		logger:    cfg.logger,
		pool:      pool,
		task:      task,
		retry:     retry,
		coalescer: coalescer,
		stream:    stream,
		turbo:     turbo,
	}
}

// Submit runs d through the full pipeline: Coalescer -> Retry Controller
// -> Task Engine -> Pool Manager. This is the primary caller-facing entry
// point spec §2 describes.
func (e *Engine) Submit(ctx context.Context, d TaskDescriptor) *Future[any] {
	if d.Retry == (RetryPolicy{}) {
		d.Retry = e.cfg.defaultRetry
	}
	return e.coalescer.Execute(ctx, d, e.retry.Execute)
}

// Stream starts a generator-pool dispatch, bypassing the Retry Controller
// and Coalescer (spec §4.6).
func (e *Engine) Stream(ctx context.Context, d StreamDescriptor) *StreamReader {
	return e.stream.Stream(ctx, d)
}

// Turbo exposes the parallel map/filter/reduce layer (C7).
func (e *Engine) Turbo() *Turbo {
	return e.turbo
}

// Warmup eagerly creates count pooled WorkerEntries for pt.
func (e *Engine) Warmup(pt PoolType, count int) {
	e.pool.Warmup(pt, count)
}

// Stats returns a point-in-time snapshot of pt's pool.
func (e *Engine) Stats(pt PoolType) PoolStats {
	return e.pool.Stats(pt)
}

// Metrics returns a deep-frozen snapshot of the engine's counter bag
// (spec §3's "Metrics" data model: "Read via a snapshot that is
// deep-frozen before return").
func (e *Engine) Metrics() Metrics {
	return e.metrics.snapshot()
}

// CoalesceStats returns the Coalescer's own read view (spec §4.5).
func (e *Engine) CoalesceStats() CoalesceSnapshot {
	return e.coalescer.Snapshot()
}

// Config returns the frozen configuration snapshot this Engine was built
// with.
func (e *Engine) Config() Config {
	return e.cfg.snapshot()
}

// Logger returns the engine's configured Logger, for callers that want to
// route their own messages through the same sink worker LOG messages use.
func (e *Engine) Logger() Logger {
	return e.logger
}

// Shutdown terminates every pooled worker across both pool types and
// rejects every queued waiter with ABORTED (spec §8 property 3). Temporary
// overflow workers are not tracked by the pool and are not terminated here;
// each is terminated when its task releases it.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}
