package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testTaskEngine(opts ...Option) *TaskEngine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.workerIdleTimeout = 0
	m := &metrics{}
	pool := NewPoolManager(cfg, m, cfg.logger, func(id int64) Worker { return newGoroutineWorker(id, false) })
	return NewTaskEngine(pool, m, cfg.logger, cfg)
}

func TestTaskEngine_ExecuteOnce_Success(t *testing.T) {
	te := testTaskEngine()
	add := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	})

	v, err := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: add, Args: []any{2, 3}}).Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 5 {
		t.Fatalf("result = %v, want 5", v)
	}
}

func TestTaskEngine_ExecuteOnce_WorkerError(t *testing.T) {
	te := testTaskEngine()
	boom := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return nil, errors.New("kaboom")
	})

	_, err := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: boom}).Get(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	ee, ok := AsEngineError(err)
	if !ok || ee.Kind != KindWorkerError {
		t.Fatalf("err = %v, want WORKER_ERROR", err)
	}
}

func TestTaskEngine_ExecuteOnce_Timeout(t *testing.T) {
	te := testTaskEngine()
	slow := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})

	d := TaskDescriptor{Callable: slow, Timeout: 20 * time.Millisecond}
	_, err := te.ExecuteOnce(context.Background(), d).Get(context.Background())
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	ee, ok := AsEngineError(err)
	if !ok || ee.Kind != KindTimeout {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
}

func TestTaskEngine_ExecuteOnce_AlreadyAborted(t *testing.T) {
	te := testTaskEngine()
	tok := NewCancellationToken()
	tok.Abort("cancelled before dispatch")

	noop := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return "should never run", nil
	})

	_, err := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: noop, Cancel: tok}).Get(context.Background())
	ee, ok := AsEngineError(err)
	if !ok || ee.Kind != KindAborted {
		t.Fatalf("err = %v, want ABORTED", err)
	}
}

func TestTaskEngine_ExecuteOnce_CancelDuringRun(t *testing.T) {
	te := testTaskEngine()
	tok := NewCancellationToken()
	blocked := make(chan struct{})
	slow := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		<-blocked
		return nil, nil
	})

	future := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: slow, Cancel: tok})
	time.Sleep(10 * time.Millisecond)
	tok.Abort("caller gave up")

	_, err := future.Get(context.Background())
	ee, ok := AsEngineError(err)
	if !ok || ee.Kind != KindAborted {
		t.Fatalf("err = %v, want ABORTED", err)
	}
	close(blocked)
}

func TestTaskEngine_ExecuteOnce_SafeModeNeverRejects(t *testing.T) {
	te := testTaskEngine()
	boom := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return nil, errors.New("kaboom")
	})

	v, err := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: boom, Safe: true}).Get(context.Background())
	if err != nil {
		t.Fatalf("safe mode must never reject the outer future, got %v", err)
	}
	sr, ok := v.(SafeResult)
	if !ok || sr.Status != "rejected" || sr.Err == nil {
		t.Fatalf("result = %+v, want a rejected SafeResult", v)
	}
}

func TestTaskEngine_ExecuteOnce_NilCallableIsValidation(t *testing.T) {
	te := testTaskEngine()

	_, err := te.ExecuteOnce(context.Background(), TaskDescriptor{}).Get(context.Background())
	ee, ok := AsEngineError(err)
	if !ok || ee.Kind != KindValidation {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
	if ee.Field != "Callable" {
		t.Fatalf("Field = %q, want Callable", ee.Field)
	}
}

func TestTaskEngine_ExecuteOnce_NegativeTimeoutIsValidation(t *testing.T) {
	te := testTaskEngine()
	ok := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return nil, nil
	})

	_, err := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: ok, Timeout: -1}).Get(context.Background())
	ee, ok2 := AsEngineError(err)
	if !ok2 || ee.Kind != KindValidation {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
	if ee.Field != "Timeout" {
		t.Fatalf("Field = %q, want Timeout", ee.Field)
	}
}

func TestTaskEngine_ExecuteOnce_SafeModeFulfilled(t *testing.T) {
	te := testTaskEngine()
	ok := Callable(func(ctx context.Context, args []any, env map[string]any) (any, error) {
		return 7, nil
	})

	v, err := te.ExecuteOnce(context.Background(), TaskDescriptor{Callable: ok, Safe: true}).Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sr := v.(SafeResult)
	if sr.Status != "fulfilled" || sr.Value.(int) != 7 {
		t.Fatalf("result = %+v, want fulfilled/7", sr)
	}
}
