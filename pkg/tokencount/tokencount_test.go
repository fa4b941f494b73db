package tokencount

import (
	"strings"
	"testing"

	"hybridcore/pkg/llm"
)

func TestCountScalesWithByteLength(t *testing.T) {
	c := New()

	short := c.Count("hello")
	long := c.Count(strings.Repeat("hello ", 50))

	if long <= short {
		t.Fatalf("expected longer text to estimate a larger count: short=%d long=%d", short, long)
	}
}

func TestCountEmptyIsZero(t *testing.T) {
	c := New()
	if got := c.Count(""); got != 0 {
		t.Fatalf("expected 0 for empty string, got %d", got)
	}
}

func TestCountGeorgianInflatesEstimate(t *testing.T) {
	c := New()

	latin := "the quick brown fox jumps over"
	georgian := "მადლობა თქვენი დახმარებისთვის დღეს"

	// Same rough rune count, but Georgian should estimate noticeably higher
	// per byte because of scriptMultiplier.
	latinPerByte := float64(c.Count(latin)) / float64(len(latin))
	georgianPerByte := float64(c.Count(georgian)) / float64(len(georgian))

	if georgianPerByte <= latinPerByte {
		t.Fatalf("expected Georgian text to have a higher per-byte estimate: latin=%f georgian=%f", latinPerByte, georgianPerByte)
	}
}

func TestCountHistoryMonotonic(t *testing.T) {
	c := New()

	h := []llm.Message{
		llm.NewUserMessage("hello there"),
	}
	before := c.CountHistory(h)

	h = append(h, llm.NewAssistantMessage("general kenobi, how are you today"))
	after := c.CountHistory(h)

	if after < before {
		t.Fatalf("expected CountHistory to be monotonic: before=%d after=%d", before, after)
	}
}

func TestCountHistoryIncludesFunctionCalls(t *testing.T) {
	c := New()

	h := []llm.Message{
		{
			Role: "assistant",
			Content: []llm.ContentBlock{
				{
					Type: llm.BlockTypeFunctionCall,
					FunctionCall: &llm.FunctionCallPart{
						Name: "search_catalog",
						Args: map[string]any{"query": "winter boots"},
					},
				},
			},
		},
	}

	if got := c.CountHistory(h); got <= perMessageOverhead {
		t.Fatalf("expected function call name to contribute tokens beyond overhead, got %d", got)
	}
}

func TestModelLimitKnownAndUnknown(t *testing.T) {
	c := New()

	if got := c.ModelLimit("extended"); got != 1000000 {
		t.Fatalf("expected extended model limit 1000000, got %d", got)
	}
	if got := c.ModelLimit("some-unknown-model"); got != DefaultModelLimit {
		t.Fatalf("expected unknown model to fall back to DefaultModelLimit, got %d", got)
	}
}
