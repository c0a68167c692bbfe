package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fail(_ context.Context) (int, error) { return 0, errors.New("fail") }
func ok(_ context.Context) (int, error)   { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		_, _ = Do(context.Background(), b, fail)
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	_, err := Do(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("should not be called when open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	_, _ = Do(context.Background(), b, fail)
	_, _ = Do(context.Background(), b, ok)
	_, _ = Do(context.Background(), b, fail)
	if b.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	var transitions []string
	b := NewBreaker(BreakerConfig{
		Threshold: 1,
		Cooldown:  10 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	b.nowFunc = func() time.Time { return now }

	_, _ = Do(context.Background(), b, fail)
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}

	// Failed probe reopens.
	_, _ = Do(context.Background(), b, fail)
	if b.State() != CircuitOpen {
		t.Fatalf("expected reopened, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if _, err := Do(context.Background(), b, ok); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_CountsFilter(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Counts: IsTransient})

	_, _ = Do(context.Background(), b, fail) // permanent, ignored
	if b.State() != CircuitClosed {
		t.Fatalf("permanent error should not trip, got %s", b.State())
	}
	_, _ = Do(context.Background(), b, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("503"), 503)
	})
	if b.State() != CircuitOpen {
		t.Errorf("transient error should trip, got %s", b.State())
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitState(99).String() != "unknown" {
		t.Error("expected unknown")
	}
}
