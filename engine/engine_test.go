package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEngine_Submit_RunsThroughFullPipeline(t *testing.T) {
	e := New(WithPoolSize(2))
	defer e.Shutdown()

	add := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	})

	v, err := e.Submit(context.Background(), TaskDescriptor{Callable: add, Args: []any{4, 5}}).Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 9 {
		t.Fatalf("v = %v, want 9", v)
	}
}

func TestEngine_Submit_PriorityOrderingUnderContention(t *testing.T) {
	e := New(WithPoolSize(1), WithMaxTemporaryWorkers(0), WithMaxQueueSize(8))
	defer e.Shutdown()

	release := make(chan struct{})
	blocker := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		<-release
		return nil, nil
	})
	// Occupy the only worker so later submissions queue.
	blockerFuture := e.Submit(context.Background(), TaskDescriptor{Callable: blocker})
	time.Sleep(20 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	record := func(name string) Callable {
		return func(ctx context.Context, args []any, env map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	lowF := e.Submit(context.Background(), TaskDescriptor{Callable: record("low"), Priority: PriorityLow, NoCoalesce: true})
	normalF := e.Submit(context.Background(), TaskDescriptor{Callable: record("normal"), Priority: PriorityNormal, NoCoalesce: true})
	highF := e.Submit(context.Background(), TaskDescriptor{Callable: record("high"), Priority: PriorityHigh, NoCoalesce: true})
	// Submit acquires asynchronously: let all three reach the queue before
	// the blocker frees the worker.
	time.Sleep(20 * time.Millisecond)

	close(release)
	blockerFuture.Get(context.Background())
	lowF.Get(context.Background())
	normalF.Get(context.Background())
	highF.Get(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "high" || order[1] != "normal" || order[2] != "low" {
		t.Fatalf("execution order = %v, want [high normal low]", order)
	}
}

func TestEngine_Shutdown_RejectsQueuedWaiters(t *testing.T) {
	e := New(WithPoolSize(1), WithMaxTemporaryWorkers(0), WithMaxQueueSize(4))

	release := make(chan struct{})
	blocker := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		<-release
		return nil, nil
	})
	e.Submit(context.Background(), TaskDescriptor{Callable: blocker})
	time.Sleep(20 * time.Millisecond)

	// NoCoalesce keeps this identical submission from sharing the running
	// blocker's future, so it really waits in the queue.
	queued := e.Submit(context.Background(), TaskDescriptor{Callable: blocker, NoCoalesce: true})
	e.Shutdown()
	close(release)

	_, err := queued.Get(context.Background())
	if err == nil {
		t.Fatal("expected the queued submission to be rejected by Shutdown")
	}
	ee, ok := AsEngineError(err)
	if !ok || ee.Kind != KindAborted {
		t.Fatalf("err = %v, want ABORTED", err)
	}
}

func TestEngine_Stream_EndToEnd(t *testing.T) {
	e := New(WithPoolSize(2))
	defer e.Shutdown()

	gen := GeneratorCallable(func(ctx context.Context, args []any, env map[string]any, yield func(any) error) (any, error) {
		for i := 0; i < 3; i++ {
			if err := yield(i); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	r := e.Stream(context.Background(), StreamDescriptor{Callable: gen})
	var got []int
	for {
		v, ok := r.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, v.(int))
	}
	if len(got) != 3 {
		t.Fatalf("got = %v, want 3 values", got)
	}
}

func TestEngine_Turbo_EndToEnd(t *testing.T) {
	e := New(WithPoolSize(4))
	defer e.Shutdown()

	items := make([]any, 100)
	for i := range items {
		items[i] = i
	}
	double := MapFn(func(ctx context.Context, item any) (any, error) { return item.(int) * 2, nil })

	results, err := e.Turbo().Map(context.Background(), items, double, TurboOptions{Force: true, Workers: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range results {
		if v.(int) != i*2 {
			t.Fatalf("results[%d] = %v, want %d", i, v, i*2)
		}
	}
}

func TestEngine_Metrics_And_CoalesceStats(t *testing.T) {
	e := New(WithPoolSize(2))
	defer e.Shutdown()

	ok := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) { return "v", nil })
	d := TaskDescriptor{Callable: ok, Args: []any{1}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Submit(context.Background(), d).Get(context.Background())
		}()
	}
	wg.Wait()

	m := e.Metrics()
	if m.TasksExecuted == 0 {
		t.Fatal("expected at least one executed task to be recorded")
	}
	snap := e.CoalesceStats()
	if snap.Coalesced+snap.Unique == 0 {
		t.Fatal("expected coalescer to have observed at least one request")
	}
}

func TestEngine_Submit_AppliesDefaultRetryPolicyWhenDescriptorOmitsOne(t *testing.T) {
	e := New(WithPoolSize(1), WithDefaultRetryPolicy(RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}))
	defer e.Shutdown()

	var calls int32
	flaky := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		calls++
		if calls < 3 {
			return nil, errTransient
		}
		return "ok", nil
	})

	// d.Retry is left at its zero value: the engine's default policy must
	// be substituted, not silently ignored.
	v, err := e.Submit(context.Background(), TaskDescriptor{Callable: flaky}).Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(string) != "ok" {
		t.Fatalf("v = %v, want ok", v)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3: default retry policy was not applied", calls)
	}
}

func TestEngine_Config_ReturnsFrozenSnapshot(t *testing.T) {
	e := New(WithPoolSize(3), WithMaxQueueSize(16))
	defer e.Shutdown()

	cfg := e.Config()
	if cfg.PoolSize != 3 || cfg.MaxQueueSize != 16 {
		t.Fatalf("cfg = %+v, want PoolSize=3 MaxQueueSize=16", cfg)
	}
}
