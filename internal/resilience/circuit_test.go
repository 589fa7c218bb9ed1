package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = NewTransientError(errors.New("flaky"), 503)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("enrich", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errFlaky })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("fn must not run while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("mailer", CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("bad address") })
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("enrich", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(context.Context) error { return errFlaky })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(11 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}

	// A failed probe reopens.
	_ = cb.Execute(context.Background(), func(context.Context) error { return errFlaky })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected reopened, got %s", cb.State())
	}

	now = now.Add(11 * time.Second)
	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestServiceBreakers(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())
	a := sb.Get("enrich")
	if sb.Get("enrich") != a {
		t.Error("expected the same breaker instance")
	}
	sb.Get("mailer")

	states := sb.States()
	if len(states) != 2 || states["enrich"] != "closed" {
		t.Errorf("unexpected states %v", states)
	}
}

func TestCall_DoesNotRetryOpenCircuit(t *testing.T) {
	cb := NewCircuitBreaker("enrich", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	var calls int
	_, err := Call(context.Background(), cb, fastRetry(4), func(context.Context) (string, error) {
		calls++
		return "", errFlaky
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after the breaker tripped, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 provider call, got %d", calls)
	}
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	cb := NewCircuitBreaker("enrich", DefaultCircuitBreakerConfig())

	var calls int
	v, err := Call(context.Background(), cb, fastRetry(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
}
