package breaker

import (
	"testing"
	"time"
)

func TestClosedAdmitsUntilThreshold(t *testing.T) {
	b := New(WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		if !b.IsAllowed("m1") {
			t.Fatalf("expected closed circuit to admit request %d", i)
		}
		b.RecordFailure("m1")
	}

	if b.Status("m1").Status != Closed {
		t.Fatalf("expected still Closed before threshold, got %s", b.Status("m1").Status)
	}

	b.RecordFailure("m1")
	if got := b.Status("m1").Status; got != Open {
		t.Fatalf("expected Open after reaching threshold, got %s", got)
	}
}

func TestOpenRejectsUntilRecoveryWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	b := New(WithFailureThreshold(1), WithRecoverySeconds(60), WithClock(func() time.Time { return clock }))

	b.IsAllowed("m1")
	b.RecordFailure("m1")
	if got := b.Status("m1").Status; got != Open {
		t.Fatalf("expected Open, got %s", got)
	}

	if b.IsAllowed("m1") {
		t.Fatal("expected Open circuit to reject before recovery window elapses")
	}

	clock = clock.Add(61 * time.Second)
	if !b.IsAllowed("m1") {
		t.Fatal("expected Open circuit to admit a probe after recovery window elapses")
	}
	if got := b.Status("m1").Status; got != HalfOpen {
		t.Fatalf("expected HalfOpen after lazy transition, got %s", got)
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	clock := time.Unix(0, 0)
	b := New(WithFailureThreshold(1), WithRecoverySeconds(1), WithClock(func() time.Time { return clock }))

	b.IsAllowed("m1")
	b.RecordFailure("m1")
	clock = clock.Add(2 * time.Second)
	b.IsAllowed("m1") // transitions to HalfOpen, consumes the probe slot

	b.RecordSuccess("m1")
	if got := b.Status("m1").Status; got != Closed {
		t.Fatalf("expected Closed after HalfOpen success, got %s", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Unix(0, 0)
	b := New(WithFailureThreshold(1), WithRecoverySeconds(1), WithClock(func() time.Time { return clock }))

	b.IsAllowed("m1")
	b.RecordFailure("m1")
	clock = clock.Add(2 * time.Second)
	b.IsAllowed("m1")

	b.RecordFailure("m1")
	if got := b.Status("m1").Status; got != Open {
		t.Fatalf("expected Open after HalfOpen failure, got %s", got)
	}
}

func TestHalfOpenSerializesProbes(t *testing.T) {
	clock := time.Unix(0, 0)
	b := New(WithFailureThreshold(1), WithRecoverySeconds(1), WithClock(func() time.Time { return clock }))

	b.IsAllowed("m1")
	b.RecordFailure("m1")
	clock = clock.Add(2 * time.Second)

	if !b.IsAllowed("m1") {
		t.Fatal("expected first probe to be admitted")
	}
	if b.IsAllowed("m1") {
		t.Fatal("expected second concurrent probe to be rejected while one is in flight")
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	b := New(WithFailureThreshold(3))

	b.RecordFailure("m1")
	b.RecordFailure("m1")
	b.RecordSuccess("m1")
	b.RecordFailure("m1")
	b.RecordFailure("m1")

	if got := b.Status("m1").Status; got != Closed {
		t.Fatalf("expected Closed — success should have reset the streak, got %s", got)
	}
}

// TestOnlyFourTransitionsReachable is the property test from spec §8.1:
// for all sequences of record_success/record_failure, status must always be
// one of the three documented statuses (Closed, Open, HalfOpen) and never
// anything else.
func TestOnlyFourTransitionsReachable(t *testing.T) {
	clock := time.Unix(0, 0)
	b := New(WithFailureThreshold(2), WithRecoverySeconds(5), WithClock(func() time.Time { return clock }))

	seq := []bool{true, false, true, true, false, false, true, false}
	valid := map[Status]bool{Closed: true, Open: true, HalfOpen: true}

	for i, ok := range seq {
		b.IsAllowed("m1")
		if ok {
			b.RecordSuccess("m1")
		} else {
			b.RecordFailure("m1")
		}
		clock = clock.Add(6 * time.Second)
		got := b.Status("m1").Status
		if !valid[got] {
			t.Fatalf("step %d: invalid status %q", i, got)
		}
	}
}
