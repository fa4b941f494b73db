// Package fallback classifies upstream LLM responses and exceptions into a
// fallback decision. It is pure and stateless: it never touches the
// network, the breaker, or the router — it only looks at the finish reason,
// text, and error values it is handed and says whether the caller should
// retry on a different model.
package fallback

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"unicode/utf8"
)

// Reason enumerates why a decision recommends (or doesn't) a fallback.
type Reason string

const (
	ReasonNone               Reason = "none"
	ReasonSafetyOrRecitation Reason = "safety_or_recitation"
	ReasonTransientError     Reason = "transient_error"
	ReasonEmptyResponse      Reason = "empty_response"
	ReasonIncompleteText     Reason = "incomplete_text"
	ReasonSafetyShortText    Reason = "safety_short_text"
)

// Decision is the outcome of classifying one response or exception.
type Decision struct {
	ShouldFallback bool
	Retryable      bool
	Reason         Reason
}

var noneDecision = Decision{Reason: ReasonNone}

const (
	shortReplyExemption = 50
	safetyTextThreshold = 800
)

// incompleteSuffixes are checked against the lowercased, trailing-whitespace
// trimmed end of a STOP-terminated response. Ordering does not matter —
// any match is sufficient.
var incompleteSuffixes = []string{
	":",
	"და",
	"მაგრამ",
	"შემდეგი:",
	"ვარიანტები:",
}

// Trigger is the FallbackTrigger component. It holds no state; New exists
// only for symmetry with the other components and to leave room for future
// configuration (e.g. a tunable safety text threshold).
type Trigger struct{}

// New returns a ready-to-use Trigger.
func New() *Trigger {
	return &Trigger{}
}

// AnalyzeResponse implements rules 1, 4, 5, and 6 of the ordered rule list:
// SAFETY/RECITATION finish reasons, STOP-with-incomplete-trailing-token, and
// the SAFETY-short-text threshold.
func (t *Trigger) AnalyzeResponse(finishReason, text string) Decision {
	switch strings.ToUpper(finishReason) {
	case "SAFETY":
		if utf8.RuneCountInString(strings.TrimSpace(text)) < safetyTextThreshold {
			return Decision{ShouldFallback: true, Retryable: true, Reason: ReasonSafetyShortText}
		}
		return noneDecision
	case "RECITATION":
		return Decision{ShouldFallback: true, Retryable: true, Reason: ReasonSafetyOrRecitation}
	case "STOP":
		if d := t.AnalyzeTextCompleteness(text); d.ShouldFallback {
			return d
		}
		return noneDecision
	default:
		return noneDecision
	}
}

// AnalyzeTextCompleteness implements rule 4: a response shorter than
// shortReplyExemption characters is never flagged incomplete, regardless of
// its trailing token.
func (t *Trigger) AnalyzeTextCompleteness(text string) Decision {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if utf8.RuneCountInString(trimmed) < shortReplyExemption {
		return noneDecision
	}

	lower := strings.ToLower(trimmed)
	for _, suffix := range incompleteSuffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return Decision{ShouldFallback: true, Retryable: true, Reason: ReasonIncompleteText}
		}
	}
	return noneDecision
}

// AnalyzeException implements rules 2 and 3: transient network errors and
// empty-response errors are both fallback-eligible and retryable.
func (t *Trigger) AnalyzeException(err error) Decision {
	if err == nil {
		return noneDecision
	}

	if errors.Is(err, ErrEmptyResponse) {
		return Decision{ShouldFallback: true, Retryable: true, Reason: ReasonEmptyResponse}
	}

	if isTransientError(err) {
		return Decision{ShouldFallback: true, Retryable: true, Reason: ReasonTransientError}
	}

	return noneDecision
}

// ErrEmptyResponse signals that the upstream stream ended with zero text
// and zero function calls — rule 3 of the ordered classification.
var ErrEmptyResponse = errors.New("fallback: empty response from upstream")

// isTransientError recognizes HTTP 503/500, timeouts, and connection resets
// the way the teacher's FallbackClient.IsTransientError does, generalized to
// also inspect wrapped net errors rather than substring-matching alone.
func isTransientError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "eof") {
		return true
	}

	for _, code := range []string{"503", "500"} {
		if strings.Contains(msg, code) {
			if looksLikeHTTPStatus(msg, code) {
				return true
			}
		}
	}

	return false
}

// looksLikeHTTPStatus is a conservative guard against matching an unrelated
// 3-digit substring (e.g. a model name containing "500"): code only counts
// where it is not part of a longer run of ASCII letters or digits.
func looksLikeHTTPStatus(msg, code string) bool {
	isAlnum := func(c byte) bool { return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
	for start := 0; ; {
		idx := strings.Index(msg[start:], code)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(code)
		if (idx == 0 || !isAlnum(msg[idx-1])) && (end == len(msg) || !isAlnum(msg[end])) {
			return true
		}
		start = idx + 1
	}
}
