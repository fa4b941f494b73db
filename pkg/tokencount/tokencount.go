// Package tokencount estimates LLM token consumption without calling out to
// a provider's tokenizer. ModelRouter and HybridInferenceManager use the
// estimate to decide whether a conversation has outgrown the primary model's
// context window; it intentionally errs on the side of overestimating so
// routing decisions stay conservative.
package tokencount

import (
	"math"
	"unicode"

	"hybridcore/pkg/llm"
)

// georgianScript covers the two Unicode blocks (Georgian, Georgian
// Supplement) whose UTF-8 encoding runs far more bytes-per-token than Latin
// text does, so a flat bytes/4 estimate badly undercounts it.
var georgianScript = []*unicode.RangeTable{
	{R16: []unicode.Range16{{Lo: 0x10A0, Hi: 0x10FF, Stride: 1}}},
	{R16: []unicode.Range16{{Lo: 0x2D00, Hi: 0x2D2F, Stride: 1}}},
}

const (
	// scriptMultiplier inflates the estimate for Georgian-script text.
	scriptMultiplier = 2.5
	// safetyMultiplier pads every estimate so routing errs toward the
	// extended-context model rather than overflowing the primary one.
	safetyMultiplier = 1.1
	// perMessageOverhead approximates the role/delimiter tokens a chat
	// wire format adds on top of each message's raw text.
	perMessageOverhead = 4

	// DefaultModelLimit is returned by ModelLimit for any model name the
	// counter doesn't otherwise recognize.
	DefaultModelLimit = 128000
)

// knownLimits holds the context windows for the three models named in the
// routing table. Anything else falls back to DefaultModelLimit.
var knownLimits = map[string]int{
	"primary":  128000,
	"extended": 1000000,
	"fallback": 128000,
}

// Counter estimates token counts for routing decisions. It is stateless and
// safe for concurrent use; callers can share one instance.
type Counter struct{}

// New returns a ready-to-use Counter.
func New() *Counter {
	return &Counter{}
}

// isGeorgian reports whether r falls in either Georgian Unicode block.
func isGeorgian(r rune) bool {
	return unicode.In(r, georgianScript...)
}

// containsGeorgian reports whether any rune of text uses Georgian script.
func containsGeorgian(text string) bool {
	for _, r := range text {
		if isGeorgian(r) {
			return true
		}
	}
	return false
}

// Count estimates the token cost of a single string: ceil(len(bytes)/4),
// scaled by scriptMultiplier when the text contains Georgian script, then
// padded by safetyMultiplier.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	base := math.Ceil(float64(len(text)) / 4.0)
	if containsGeorgian(text) {
		base *= scriptMultiplier
	}
	base *= safetyMultiplier

	return int(math.Ceil(base))
}

// CountHistory sums the estimated token cost of every message's text and
// thinking content, plus a fixed per-message overhead. It is monotonic: for
// any history h and message m, CountHistory(append(h, m)) >= CountHistory(h).
func (c *Counter) CountHistory(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText, llm.BlockTypeThinking:
				total += c.Count(block.Text)
			case llm.BlockTypeFunctionCall:
				if block.FunctionCall != nil {
					total += c.Count(block.FunctionCall.Name)
				}
			case llm.BlockTypeFunctionResponse:
				if block.FunctionResponse != nil {
					total += c.Count(block.FunctionResponse.Name)
				}
			}
		}
	}
	return total
}

// ModelLimit returns the context window size, in tokens, for the given
// model name. Unrecognized names get DefaultModelLimit rather than an error,
// since routing must always be able to make a decision.
func (c *Counter) ModelLimit(model string) int {
	if limit, ok := knownLimits[model]; ok {
		return limit
	}
	return DefaultModelLimit
}
