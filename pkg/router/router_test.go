package router

import (
	"testing"

	"hybridcore/pkg/breaker"
)

func TestSelectExtendedContextThresholdWins(t *testing.T) {
	r := New()
	b := breaker.New()

	d := r.Select(200000, b)
	if d.Model != ModelExtended {
		t.Fatalf("expected extended model for large token count, got %s", d.Model)
	}
}

func TestSelectPrefersPrimaryWhenClosed(t *testing.T) {
	r := New()
	b := breaker.New()

	d := r.Select(1000, b)
	if d.Model != ModelPrimary {
		t.Fatalf("expected primary model when breaker closed, got %s", d.Model)
	}
}

func TestSelectFallsThroughOnOpenBreakers(t *testing.T) {
	r := New()
	b := breaker.New(breaker.WithFailureThreshold(1))

	for i := 0; i < 1; i++ {
		b.IsAllowed(ModelPrimary)
		b.RecordFailure(ModelPrimary)
	}

	d := r.Select(1000, b)
	if d.Model != ModelExtended {
		t.Fatalf("expected extended model when primary breaker open, got %s", d.Model)
	}

	b.IsAllowed(ModelExtended)
	b.RecordFailure(ModelExtended)

	d2 := r.Select(1000, b)
	if d2.Model != ModelFallback {
		t.Fatalf("expected fallback model when primary and extended breakers open, got %s", d2.Model)
	}
}

func TestNextInHierarchy(t *testing.T) {
	if got := NextInHierarchy(ModelPrimary); got != ModelExtended {
		t.Fatalf("expected primary -> extended, got %s", got)
	}
	if got := NextInHierarchy(ModelFallback); got != "" {
		t.Fatalf("expected fallback to terminate the hierarchy, got %q", got)
	}
}
