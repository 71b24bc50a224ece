package engine

import (
	"context"
	"testing"
	"time"
)

func testStreamEngine() *StreamEngine {
	cfg := defaultEngineConfig()
	cfg.workerIdleTimeout = 0
	m := &metrics{}
	pool := NewPoolManager(cfg, m, cfg.logger, func(id int64) Worker { return newGoroutineWorker(id, false) })
	return NewStreamEngine(pool, m, cfg.logger)
}

func TestStreamEngine_YieldsThenEnds(t *testing.T) {
	se := testStreamEngine()
	counter := GeneratorCallable(func(ctx context.Context, args []any, env map[string]any, yield func(any) error) (any, error) {
		n := args[0].(int)
		for i := 0; i < n; i++ {
			if err := yield(i); err != nil {
				return nil, err
			}
		}
		return "all done", nil
	})

	r := se.Stream(context.Background(), StreamDescriptor{Callable: counter, Args: []any{3}})

	var got []int
	for {
		v, ok := r.Next(context.Background())
		if !ok {
			break
		}
		got = append(got, v.(int))
	}
	if r.Err() != nil {
		t.Fatalf("unexpected stream error: %v", r.Err())
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("got = %v, want [0 1 2]", got)
	}
	if r.ReturnValue() != "all done" {
		t.Fatalf("ReturnValue = %v, want %q", r.ReturnValue(), "all done")
	}
}

func TestStreamEngine_PropagatesGeneratorError(t *testing.T) {
	se := testStreamEngine()
	failing := GeneratorCallable(func(ctx context.Context, args []any, env map[string]any, yield func(any) error) (any, error) {
		if err := yield(1); err != nil {
			return nil, err
		}
		return nil, errTransient
	})

	r := se.Stream(context.Background(), StreamDescriptor{Callable: failing})
	v, ok := r.Next(context.Background())
	if !ok || v.(int) != 1 {
		t.Fatalf("first Next() = %v, %v; want 1, true", v, ok)
	}
	_, ok = r.Next(context.Background())
	if ok {
		t.Fatal("expected the sequence to end after the error")
	}
	ee, isEngineErr := AsEngineError(r.Err())
	if !isEngineErr || ee.Kind != KindWorkerError {
		t.Fatalf("Err() = %v, want WORKER_ERROR", r.Err())
	}
}

func TestStreamEngine_CloseIsIdempotentAndTerminatesWorker(t *testing.T) {
	se := testStreamEngine()
	blocked := make(chan struct{})
	infinite := GeneratorCallable(func(ctx context.Context, args []any, env map[string]any, yield func(any) error) (any, error) {
		if err := yield(1); err != nil {
			return nil, err
		}
		<-blocked
		return nil, nil
	})

	r := se.Stream(context.Background(), StreamDescriptor{Callable: infinite})
	v, ok := r.Next(context.Background())
	if !ok || v.(int) != 1 {
		t.Fatalf("first Next() = %v, %v", v, ok)
	}

	r.Close()
	r.Close() // must not panic or double-release

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("reader never reported done after Close")
	}
	close(blocked)
}

func TestStreamEngine_AlreadyAbortedTokenFailsImmediately(t *testing.T) {
	se := testStreamEngine()
	tok := NewCancellationToken()
	tok.Abort("no thanks")

	gen := GeneratorCallable(func(ctx context.Context, args []any, env map[string]any, yield func(any) error) (any, error) {
		return nil, nil
	})

	r := se.Stream(context.Background(), StreamDescriptor{Callable: gen, Cancel: tok})
	_, ok := r.Next(context.Background())
	if ok {
		t.Fatal("expected no values from an already-aborted stream")
	}
	ee, isEngineErr := AsEngineError(r.Err())
	if !isEngineErr || ee.Kind != KindAborted {
		t.Fatalf("Err() = %v, want ABORTED", r.Err())
	}
}
