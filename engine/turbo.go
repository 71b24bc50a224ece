package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// MinItemsPerWorker and TurboThreshold are the two constants spec §4.7
// fixes: the worker count is capped at ceil(N/1000), and an input shorter
// than 10000 falls back to a single dispatch unless the caller forces
// parallel execution.
const (
	MinItemsPerWorker = 1000
	TurboThreshold    = 10000
)

// MapFn, FilterFn, and ReduceFn are the three callable shapes Turbo
// partitions across the pool. They run in-process (no args/env
// marshalling — Turbo's "worker" dispatch, like the Task Engine's, treats
// the pooled goroutine as the opaque executor spec §1 describes) so they
// take and return plain Go values directly instead of routing through
// Callable's []any/map[string]any shape.
type (
	MapFn    func(ctx context.Context, item any) (any, error)
	FilterFn func(ctx context.Context, item any) (bool, error)
	ReduceFn func(ctx context.Context, acc, item any) (any, error)
)

// TurboOptions controls partitioning for a single Map/Filter/Reduce call.
type TurboOptions struct {
	// Workers overrides the worker count the partitioner would otherwise
	// derive from pool size and input length. Zero means "use pool size".
	Workers int
	// Force bypasses the small-input fallback (spec §4.7) even when N is
	// below TurboThreshold, useful for benchmarking partitioning itself.
	Force bool
}

// turboChunk is a contiguous, ordered slice of the input: worker i
// processes [start, end).
type turboChunk struct {
	start, end int
}

// Turbo is the parallel map/filter/reduce layer (C7). It builds N parallel
// dispatches through the Pool Manager — bypassing the Retry Controller and
// Coalescer entirely, same as the Stream Engine — and merges results
// fail-fast on the first chunk error (spec §4.7).
type Turbo struct {
	pool    *PoolManager
	metrics *metrics
	logger  Logger
	cfg     *engineConfig
}

// NewTurbo wires a Turbo instance to the given Pool Manager.
func NewTurbo(pool *PoolManager, m *metrics, logger Logger, cfg *engineConfig) *Turbo {
	return &Turbo{pool: pool, metrics: m, logger: logger, cfg: cfg}
}

// computeChunks implements spec §4.7's partitioning math: workers =
// min(maxPoolSize or override, ceil(N/MIN_ITEMS_PER_WORKER)); chunkSize =
// ceil(N/workers); chunks are contiguous and ordered. Below TurboThreshold
// without Force, a single chunk covering the whole input is returned.
func (t *Turbo) computeChunks(n int, opts TurboOptions) []turboChunk {
	if n == 0 {
		return nil
	}
	if n < TurboThreshold && !opts.Force {
		return []turboChunk{{0, n}}
	}

	maxWorkers := opts.Workers
	if maxWorkers <= 0 {
		maxWorkers = t.cfg.poolSize
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	workers := min(maxWorkers, ceilDiv(n, MinItemsPerWorker))
	if workers < 1 {
		workers = 1
	}
	chunkSize := ceilDiv(n, workers)

	chunks := make([]turboChunk, 0, workers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		chunks = append(chunks, turboChunk{start: start, end: end})
	}
	return chunks
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		return n
	}
	return (n + d - 1) / d
}

// acquireChunks requests all chunk acquisitions concurrently and at
// PriorityHigh (spec §4.7: "Pool acquisitions for all chunks are requested
// concurrently (batched) at priority high").
func (t *Turbo) acquireChunks(ctx context.Context, n int) []*Future[Acquisition] {
	futures := make([]*Future[Acquisition], n)
	for i := range futures {
		futures[i] = t.pool.Acquire(ctx, PoolNormal, PriorityHigh, 0, false)
	}
	return futures
}

// runChunk acquires (from a pre-issued future), dispatches, awaits, and
// releases a single chunk's worker, honoring the shared aborted flag for
// fail-fast: if another chunk has already failed, a not-yet-dispatched
// acquisition is released without ever running (spec §4.7).
func (t *Turbo) runChunk(ctx context.Context, acqFuture *Future[Acquisition], aborted *atomic.Bool, work Callable) (any, error) {
	acq, err := acqFuture.Get(ctx)
	if err != nil {
		aborted.Store(true)
		return nil, err
	}

	if aborted.Load() {
		t.pool.Release(PoolNormal, acq.Entry, acq.WorkerHandle, acq.IsTemporary, 0, false, 0, false, false)
		return nil, nil
	}

	start := time.Now()
	acq.WorkerHandle.Dispatch(ctx, RequestMessage{Callable: work})
	value, err, forceTerminated := t.awaitChunk(ctx, acq.WorkerHandle)
	t.pool.Release(PoolNormal, acq.Entry, acq.WorkerHandle, acq.IsTemporary, time.Since(start), err != nil, 0, false, forceTerminated)
	if err != nil {
		aborted.Store(true)
		return nil, err
	}
	return value, nil
}

func (t *Turbo) awaitChunk(ctx context.Context, handle Worker) (any, error, bool) {
	for {
		select {
		case resp := <-handle.Replies():
			switch resp.kind {
			case respOK:
				return resp.value, nil, false
			case respError:
				return nil, newWorkerError(resp.err.Name, resp.err.Message, resp.err.Stack, nil), false
			case respLog:
				forwardWorkerLog(t.logger, resp.logLevel, resp.logArgs)
			}
		case <-handle.Exit():
			code := handle.ExitCode()
			if code != 0 {
				return nil, newWorkerError("ExitError", fmt.Sprintf("worker exited with code %d", code), "", nil), false
			}
			return nil, newWorkerError("ExitError", "worker exited before reply", "", nil), false
		case <-ctx.Done():
			handle.Terminate()
			return nil, ctx.Err(), true
		}
	}
}

// Map runs fn over every item of items in parallel, preserving order
// (spec §8 property 6). Output length always equals input length.
func (t *Turbo) Map(ctx context.Context, items []any, fn MapFn, opts TurboOptions) ([]any, error) {
	n := len(items)
	if n == 0 {
		return []any{}, nil
	}

	chunks := t.computeChunks(n, opts)
	acqFutures := t.acquireChunks(ctx, len(chunks))

	results := make([]any, n)
	var aborted atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			work := Callable(func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
				out := make([]any, chunk.end-chunk.start)
				for j := chunk.start; j < chunk.end; j++ {
					if aborted.Load() {
						return nil, context.Canceled
					}
					v, err := fn(ctx, items[j])
					if err != nil {
						return nil, err
					}
					out[j-chunk.start] = v
				}
				return out, nil
			})
			value, err := t.runChunk(gctx, acqFutures[i], &aborted, work)
			if err != nil {
				return err
			}
			if out, ok := value.([]any); ok {
				copy(results[chunk.start:chunk.end], out)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Filter runs pred over every item of items in parallel, preserving input
// order in the result (spec §8 property 7). Merge is two-pass: sum the
// per-chunk match counts, allocate once, then copy in chunk order.
func (t *Turbo) Filter(ctx context.Context, items []any, pred FilterFn, opts TurboOptions) ([]any, error) {
	n := len(items)
	if n == 0 {
		return []any{}, nil
	}

	chunks := t.computeChunks(n, opts)
	acqFutures := t.acquireChunks(ctx, len(chunks))

	partials := make([][]any, len(chunks))
	var aborted atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			work := Callable(func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
				matched := make([]any, 0, chunk.end-chunk.start)
				for j := chunk.start; j < chunk.end; j++ {
					if aborted.Load() {
						return nil, context.Canceled
					}
					ok, err := pred(ctx, items[j])
					if err != nil {
						return nil, err
					}
					if ok {
						matched = append(matched, items[j])
					}
				}
				return matched, nil
			})
			value, err := t.runChunk(gctx, acqFutures[i], &aborted, work)
			if err != nil {
				return err
			}
			if out, ok := value.([]any); ok {
				partials[i] = out
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range partials {
		total += len(p)
	}
	filtered := make([]any, 0, total)
	for _, p := range partials {
		filtered = append(filtered, p...)
	}
	return filtered, nil
}

// Reduce folds items through fn in parallel: each worker reduces its
// chunk starting from init, and the main aggregator folds the ordered
// vector of partials through fn starting from init again (spec §4.7,
// §8 property 8). This is correct only when fn is associative and init is
// a left-identity for fn — documented to callers, not enforced here.
func (t *Turbo) Reduce(ctx context.Context, items []any, init any, fn ReduceFn, opts TurboOptions) (any, error) {
	n := len(items)
	if n == 0 {
		return init, nil
	}

	chunks := t.computeChunks(n, opts)
	acqFutures := t.acquireChunks(ctx, len(chunks))

	partials := make([]any, len(chunks))
	var aborted atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			work := Callable(func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
				acc := init
				for j := chunk.start; j < chunk.end; j++ {
					if aborted.Load() {
						return nil, context.Canceled
					}
					v, err := fn(ctx, acc, items[j])
					if err != nil {
						return nil, err
					}
					acc = v
				}
				return acc, nil
			})
			value, err := t.runChunk(gctx, acqFutures[i], &aborted, work)
			if err != nil {
				return err
			}
			partials[i] = value
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	acc := init
	for _, p := range partials {
		v, err := fn(ctx, acc, p)
		if err != nil {
			return nil, err
		}
		acc = v
	}
	return acc, nil
}

// MapFloat64 is the typed-buffer fast path for a fixed-width numeric
// input (spec §4.7): output is allocated once and each chunk writes
// directly into its slice of the shared backing array, so there is no
// per-result copy at merge time — Go slices passed into goroutines already
// alias the same backing array, which is what realizes the spec's "shared
// buffer" concept without an explicit IPC-style copy step.
func (t *Turbo) MapFloat64(ctx context.Context, xs []float64, g func(float64) float64, opts TurboOptions) ([]float64, error) {
	n := len(xs)
	if n == 0 {
		return []float64{}, nil
	}

	chunks := t.computeChunks(n, opts)
	acqFutures := t.acquireChunks(ctx, len(chunks))

	out := make([]float64, n)
	var aborted atomic.Bool

	eg, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		eg.Go(func() error {
			work := Callable(func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
				for j := chunk.start; j < chunk.end; j++ {
					if aborted.Load() {
						return nil, context.Canceled
					}
					out[j] = g(xs[j])
				}
				return nil, nil
			})
			_, err := t.runChunk(gctx, acqFutures[i], &aborted, work)
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
