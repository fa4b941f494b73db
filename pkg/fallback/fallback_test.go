package fallback

import (
	"errors"
	"strings"
	"testing"
)

func TestAnalyzeResponseSafetyOrRecitation(t *testing.T) {
	tr := New()

	d := tr.AnalyzeResponse("RECITATION", strings.Repeat("a", 2000))
	if !d.ShouldFallback || !d.Retryable {
		t.Fatalf("expected RECITATION to always fall back, got %+v", d)
	}
}

func TestAnalyzeResponseSafetyShortText(t *testing.T) {
	tr := New()

	short := tr.AnalyzeResponse("SAFETY", "a blocked reply")
	if !short.ShouldFallback {
		t.Fatalf("expected short SAFETY text to fall back, got %+v", short)
	}

	long := tr.AnalyzeResponse("SAFETY", strings.Repeat("საუკეთესო პასუხი ", 100))
	if long.ShouldFallback {
		t.Fatalf("expected long SAFETY text to be accepted as legitimate truncation, got %+v", long)
	}
}

func TestAnalyzeTextCompletenessShortReplyExempt(t *testing.T) {
	tr := New()

	d := tr.AnalyzeTextCompleteness("Sure:")
	if d.ShouldFallback {
		t.Fatalf("expected short reply under 50 chars to be exempt from incomplete detection, got %+v", d)
	}
}

func TestAnalyzeTextCompletenessDetectsColonSuffix(t *testing.T) {
	tr := New()

	text := strings.Repeat("x", 60) + ":"
	d := tr.AnalyzeTextCompleteness(text)
	if !d.ShouldFallback || d.Reason != ReasonIncompleteText {
		t.Fatalf("expected trailing colon on a long response to be flagged incomplete, got %+v", d)
	}
}

func TestAnalyzeTextCompletenessDetectsGeorgianConjunction(t *testing.T) {
	tr := New()

	text := strings.Repeat("ტექსტი ", 10) + "და"
	d := tr.AnalyzeTextCompleteness(text)
	if !d.ShouldFallback {
		t.Fatalf("expected trailing 'და' to be flagged incomplete, got %+v", d)
	}
}

// TestNeverIncompleteOnProperTerminators is the property test from spec §8.4:
// STOP + text ending in one of the listed terminators is never incomplete.
func TestNeverIncompleteOnProperTerminators(t *testing.T) {
	tr := New()

	terminators := []string{".", "!", "?", ")", "₾"}
	base := strings.Repeat("this is a complete thought", 3)

	for _, term := range terminators {
		text := base + term
		d := tr.AnalyzeResponse("STOP", text)
		if d.ShouldFallback {
			t.Fatalf("expected text ending in %q to never be incomplete, got %+v", term, d)
		}
	}
}

func TestAnalyzeExceptionEmptyResponse(t *testing.T) {
	tr := New()

	d := tr.AnalyzeException(ErrEmptyResponse)
	if !d.ShouldFallback || d.Reason != ReasonEmptyResponse {
		t.Fatalf("expected empty response error to fall back, got %+v", d)
	}
}

func TestAnalyzeExceptionTransient(t *testing.T) {
	tr := New()

	d := tr.AnalyzeException(errors.New("upstream returned HTTP 503 service unavailable"))
	if !d.ShouldFallback || d.Reason != ReasonTransientError {
		t.Fatalf("expected HTTP 503 to be classified transient, got %+v", d)
	}

	d2 := tr.AnalyzeException(errors.New("dial tcp: i/o timeout"))
	if !d2.ShouldFallback {
		t.Fatalf("expected timeout error to be classified transient, got %+v", d2)
	}
}

func TestAnalyzeExceptionNonTransient(t *testing.T) {
	tr := New()

	d := tr.AnalyzeException(errors.New("invalid API key"))
	if d.ShouldFallback {
		t.Fatalf("expected non-transient error to not trigger fallback, got %+v", d)
	}
}
