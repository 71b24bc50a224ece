package backoff

import (
	"testing"
	"time"
)

func TestExponentialBackoff_GrowsByFactor(t *testing.T) {
	eb := newExponentialBackoff(10*time.Millisecond, time.Second, 3)

	want := []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 90 * time.Millisecond}
	for attempt, w := range want {
		if got := eb.NextDelay(attempt, nil); got != w {
			t.Errorf("attempt %d: NextDelay() = %v, want %v", attempt, got, w)
		}
	}
}

func TestExponentialBackoff_CapsAtMaxDelay(t *testing.T) {
	eb := newExponentialBackoff(100*time.Millisecond, 500*time.Millisecond, 2)
	if got := eb.NextDelay(10, nil); got != 500*time.Millisecond {
		t.Errorf("NextDelay() = %v, want maxDelay 500ms", got)
	}
}

func TestExponentialBackoff_FactorBelowOneClampedToOne(t *testing.T) {
	eb := newExponentialBackoff(50*time.Millisecond, time.Second, 0.5)
	if eb.backoffFactor != 1 {
		t.Errorf("backoffFactor = %v, want clamped to 1", eb.backoffFactor)
	}
	if got := eb.NextDelay(3, nil); got != 50*time.Millisecond {
		t.Errorf("NextDelay() = %v, want constant 50ms with factor 1", got)
	}
}

func TestJitteredBackoff_MatchesSpecFormula(t *testing.T) {
	jb := newJitteredBackoff(100*time.Millisecond, time.Second, 2, SpecJitterFactor)

	base := jb.base.NextDelay(2, nil) // 400ms
	lo := base - time.Duration(float64(base)*SpecJitterFactor)
	hi := base + time.Duration(float64(base)*SpecJitterFactor)

	for i := 0; i < 200; i++ {
		got := jb.NextDelay(2, nil)
		if got < lo || got > hi {
			t.Fatalf("NextDelay() = %v, want within [%v, %v] of base %v", got, lo, hi, base)
		}
	}
}

func TestJitteredBackoff_NeverExceedsMaxDelay(t *testing.T) {
	jb := newJitteredBackoff(500*time.Millisecond, time.Second, 2, SpecJitterFactor)
	for i := 0; i < 200; i++ {
		if got := jb.NextDelay(10, nil); got > time.Second {
			t.Fatalf("NextDelay() = %v, exceeds maxDelay", got)
		}
	}
}

func TestDecorrelatedJitterBackoff_FirstAttemptReturnsInitial(t *testing.T) {
	djb := newDecorrelatedJitterBackoff(100*time.Millisecond, 10*time.Second)
	if got := djb.NextDelay(0, nil); got != 100*time.Millisecond {
		t.Errorf("NextDelay(0) = %v, want initialDelay", got)
	}
}

func TestDecorrelatedJitterBackoff_RespectsMaxDelay(t *testing.T) {
	djb := newDecorrelatedJitterBackoff(time.Second, 2*time.Second)
	for i := 0; i < 20; i++ {
		if got := djb.NextDelay(i, nil); got > 2*time.Second {
			t.Fatalf("attempt %d: NextDelay() = %v, exceeds maxDelay", i, got)
		}
	}
}

func TestDecorrelatedJitterBackoff_ResetRestoresInitial(t *testing.T) {
	djb := newDecorrelatedJitterBackoff(50*time.Millisecond, time.Second)
	djb.NextDelay(0, nil)
	djb.NextDelay(5, nil)
	djb.Reset()
	if got := djb.NextDelay(0, nil); got != 50*time.Millisecond {
		t.Errorf("after Reset, NextDelay(0) = %v, want initialDelay", got)
	}
}

func TestNew_SelectsStrategyByType(t *testing.T) {
	cases := []struct {
		name string
		kind BackoffType
	}{
		{"jittered", TypeJittered},
		{"exponential", TypeExponential},
		{"decorrelated", TypeDecorrelated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.kind, 10*time.Millisecond, time.Second, 2)
			if s == nil {
				t.Fatal("New() returned nil strategy")
			}
			if d := s.NextDelay(0, nil); d < 0 {
				t.Errorf("NextDelay(0) = %v, want non-negative", d)
			}
		})
	}
}
