package inference

import (
	"testing"

	"hybridcore/pkg/breaker"
	"hybridcore/pkg/llm"
	"hybridcore/pkg/router"
)

func TestRouteRequestDefaultsToPrimary(t *testing.T) {
	m := New()

	d := m.RouteRequest("hello", nil)
	if d.Model != router.ModelPrimary {
		t.Fatalf("expected primary model for a small fresh request, got %s", d.Model)
	}
}

func TestRouteRequestLargeHistoryGoesExtended(t *testing.T) {
	m := New()

	var history []llm.Message
	for i := 0; i < 50; i++ {
		history = append(history, llm.NewUserMessage(string(make([]byte, 20000))))
	}

	d := m.RouteRequest("hello", history)
	if d.Model != router.ModelExtended {
		t.Fatalf("expected extended model once token estimate crosses threshold, got %s", d.Model)
	}
}

func TestRecordFailureOpensBreakerAndAffectsRouting(t *testing.T) {
	b := breaker.New(breaker.WithFailureThreshold(1))
	m := New(WithBreaker(b))

	m.RecordFailure(router.ModelPrimary)

	d := m.RouteRequest("hello", nil)
	if d.Model != router.ModelExtended {
		t.Fatalf("expected routing to skip the now-open primary breaker, got %s", d.Model)
	}
}

func TestGetFallbackModelHierarchy(t *testing.T) {
	m := New()

	if got := m.GetFallbackModel(router.ModelPrimary); got != router.ModelExtended {
		t.Fatalf("expected primary -> extended, got %s", got)
	}
	if got := m.GetFallbackModel(router.ModelFallback); got != "" {
		t.Fatalf("expected fallback to be the terminal model, got %q", got)
	}
}

// TestRequestGuardAllowsExactlyOneAttempt is the property test from spec
// §8.6: a request triggers at most one fallback retry regardless of how
// many failure signals occur.
func TestRequestGuardAllowsExactlyOneAttempt(t *testing.T) {
	g := NewRequestGuard()

	if !g.TryConsume() {
		t.Fatal("expected first TryConsume to succeed")
	}
	for i := 0; i < 5; i++ {
		if g.TryConsume() {
			t.Fatalf("expected subsequent TryConsume calls to fail, attempt %d succeeded", i)
		}
	}
	if !g.Attempted() {
		t.Fatal("expected guard to report attempted after first consume")
	}
}
