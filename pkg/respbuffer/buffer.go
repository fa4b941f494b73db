// Package respbuffer implements ResponseBuffer: accumulates streamed text
// and extracts the structured tags ([TIP], [QUICK_REPLIES], product
// markdown) the model is prompted to emit inline. Every extraction runs
// against the full accumulated buffer, never a single chunk, because a tag
// can be split across chunk boundaries.
package respbuffer

import (
	"regexp"
	"strconv"
	"strings"
)

// Product is one parsed catalog line.
type Product struct {
	Name  string
	Price float64
	Brand string
}

// Snapshot is the result of reading the buffer at a point in time.
type Snapshot struct {
	Text         string
	Products     []Product
	Tip          string
	QuickReplies []string
}

var (
	// quickRepliesClosed matches a fully closed tag; (?s) makes '.' match
	// newlines since reply lists are always multi-line.
	quickRepliesClosed = regexp.MustCompile(`(?s)\[QUICK_REPLIES\](.*?)\[/QUICK_REPLIES\]`)
	// quickRepliesTruncated covers the case where upstream truncation cut
	// the closing tag off entirely.
	quickRepliesTruncated = regexp.MustCompile(`(?s)\[QUICK_REPLIES\](.*)$`)
	// quickRepliesLocalizedHeading is the Georgian-language fallback heading
	// used when the model skips the bracketed tag altogether.
	quickRepliesLocalizedHeading = regexp.MustCompile(`(?s)შემდეგი ნაბიჯი:\s*(.*)$`)

	tipClosed = regexp.MustCompile(`(?s)\[TIP\](.*?)\[/TIP\]`)

	// productLine matches "1. Name — 12.50₾" style rows, capturing name
	// and price; brand is not separately delimited in the source markup so
	// it is left for the caller to infer from Name when needed.
	productLine = regexp.MustCompile(`(?m)^\d+\.\s+(.+?)\s+—\s+(\d+(?:\.\d+)?)\s*₾`)

	dashLine = regexp.MustCompile(`(?m)^\s*-\s*(.+?)\s*$`)
)

// Buffer is the ResponseBuffer component. It is not safe for concurrent
// use; one Buffer is created per request and owned by the engine that
// drives the loop for that request.
type Buffer struct {
	text strings.Builder
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// AppendChunk appends newly received text to the buffer.
func (b *Buffer) AppendChunk(text string) {
	b.text.WriteString(text)
}

// Clear discards all buffered text. Used before a fallback retry; the
// client contract is that a retry event invalidates previously emitted
// text in the frontend's rendering model, so Clear never attempts to
// retract anything already sent.
func (b *Buffer) Clear() {
	b.text.Reset()
}

// Snapshot extracts tip, quick replies, and products from the accumulated
// buffer and returns the raw text alongside them. The raw text retains the
// markup; callers that want prose-only text should strip tags separately.
func (b *Buffer) Snapshot() Snapshot {
	full := b.text.String()

	return Snapshot{
		Text:         full,
		Products:     extractProducts(full),
		Tip:          extractTip(full),
		QuickReplies: extractQuickReplies(full),
	}
}

func extractTip(text string) string {
	m := tipClosed.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func extractQuickReplies(text string) []string {
	if m := quickRepliesClosed.FindStringSubmatch(text); m != nil {
		return parseDashLines(m[1])
	}
	if m := quickRepliesTruncated.FindStringSubmatch(text); m != nil {
		return parseDashLines(m[1])
	}
	if m := quickRepliesLocalizedHeading.FindStringSubmatch(text); m != nil {
		return parseDashLines(m[1])
	}
	return nil
}

func parseDashLines(block string) []string {
	var out []string
	for _, m := range dashLine.FindAllStringSubmatch(block, -1) {
		line := strings.TrimSpace(m[1])
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func extractProducts(text string) []Product {
	var out []Product
	for _, m := range productLine.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		price, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		out = append(out, Product{Name: name, Price: price})
	}
	return out
}
