// Package loop implements FunctionCallingLoop: the bounded-round dialog
// that drives one upstream chat session through as many tool-call rounds
// as it needs, emitting content blocks to the caller as they arrive.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hybridcore/pkg/api"
	"hybridcore/pkg/llm"
)

// DefaultMaxRounds bounds the number of tool-calling rounds before the loop
// forces a final text-only round.
const DefaultMaxRounds = 5

// preludeDiscardThreshold is the text length, in runes after trimming,
// at or under which a prelude preceding a function call is dropped rather than
// forwarded (an interrupted sentence reads worse than no sentence).
const preludeDiscardThreshold = 50

// forceRespondDirective is what the loop sends back to the model once
// max_rounds is reached without a COMPLETE classification.
const forceRespondDirective = "respond now"

// searchCompleteStatus is the synthetic tool response returned in place of
// re-executing a tool call with arguments identical to one already run in
// this loop. The "instruction" field, not a softer "note", is deliberate —
// softer language was observed to be ignored by the model.
type searchCompleteStatus struct {
	Status      string `json:"status"`
	Instruction string `json:"instruction"`
}

// Classification is the result of examining one completed round.
type Classification string

const (
	Continue Classification = "continue"
	Complete Classification = "complete"
	Empty    Classification = "empty"
	Error    Classification = "error"
)

// ErrEmptyResponse is raised when the loop terminates with no accumulated
// text, including when earlier rounds were CONTINUE with discarded preludes.
var ErrEmptyResponse = errors.New("loop: model produced no text and no function calls")

// ErrTimeout is raised when a single round's upstream stream exceeds its
// wall-clock budget.
var ErrTimeout = errors.New("loop: round exceeded its wall-clock timeout")

// ChatSession is the narrow interface the loop needs from an open upstream
// conversation: send a batch of content blocks (a user turn or a set of
// tool responses) and receive the resulting stream.
type ChatSession interface {
	Send(ctx context.Context, blocks []llm.ContentBlock) (<-chan llm.StreamChunk, error)
}

// Sink receives content blocks as they arrive mid-round, for forwarding to
// ResponseBuffer / the SSE event stream. It must not block for long.
type Sink interface {
	Emit(block llm.ContentBlock)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(llm.ContentBlock)

// Emit implements Sink.
func (f SinkFunc) Emit(block llm.ContentBlock) { f(block) }

// RoundResult captures what happened during a single round, mostly useful
// for tests and observability.
type RoundResult struct {
	Classification Classification
	Text           string
	FunctionCalls  []llm.FunctionCallPart
	FinishReason   string
	Forced         bool
}

// State is returned by ExecuteStreaming once the loop terminates.
type State struct {
	Rounds           []RoundResult
	LastFinishReason string
	AccumulatedText  string
	ExecutedQueries  map[string]struct{}
	ForcedRoundUsed  bool
}

// Loop is the FunctionCallingLoop component. One Loop instance is created
// per request; it is not safe to share across concurrent requests because
// its round/timeout bookkeeping is request-scoped by design (see the
// concurrency model: per-request single-threaded with explicit identity).
type Loop struct {
	session      ChatSession
	tools        api.ToolRegistry
	sink         Sink
	maxRounds    int
	roundTimeout time.Duration
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithMaxRounds overrides DefaultMaxRounds.
func WithMaxRounds(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxRounds = n
		}
	}
}

// WithRoundTimeout sets the per-round wall-clock budget. Zero disables the
// timeout (useful in tests).
func WithRoundTimeout(d time.Duration) Option {
	return func(l *Loop) { l.roundTimeout = d }
}

// New creates a Loop bound to an open chat session, a tool registry to
// resolve function calls against, and a sink that receives forwarded
// content blocks as they're classified.
func New(session ChatSession, tools api.ToolRegistry, sink Sink, opts ...Option) *Loop {
	l := &Loop{
		session:   session,
		tools:     tools,
		sink:      sink,
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ExecuteStreaming drives the loop starting from the given initial blocks
// (typically the user's message, already enriched by pre-search context).
// On reaching max_rounds without a COMPLETE classification it performs one
// forced-text round, counted separately from the regular bound so the
// retry itself can never recurse further.
func (l *Loop) ExecuteStreaming(ctx context.Context, initial []llm.ContentBlock) (State, error) {
	state := State{ExecutedQueries: make(map[string]struct{})}
	outbound := initial

	for round := 0; round < l.maxRounds; round++ {
		result, err := l.runRound(ctx, outbound)
		if err != nil {
			return state, err
		}

		state.Rounds = append(state.Rounds, result)
		state.LastFinishReason = result.FinishReason
		if result.Text != "" {
			state.AccumulatedText += result.Text
		}

		switch result.Classification {
		case Complete:
			return state, nil
		case Error:
			return state, fmt.Errorf("loop: round %d ended in error state", round)
		case Continue:
			outbound = l.buildToolResponses(ctx, result.FunctionCalls, state.ExecutedQueries)
		case Empty:
			// Nudge the model the same way the round-bound does rather than
			// exiting on the first empty round.
			outbound = []llm.ContentBlock{forceRespondBlock()}
		}
	}

	result, err := l.runRound(ctx, []llm.ContentBlock{forceRespondBlock()})
	if err != nil {
		return state, err
	}
	result.Forced = true
	state.ForcedRoundUsed = true
	state.Rounds = append(state.Rounds, result)
	state.LastFinishReason = result.FinishReason
	if result.Text != "" {
		state.AccumulatedText += result.Text
	}

	if state.AccumulatedText == "" {
		return state, ErrEmptyResponse
	}
	return state, nil
}

// runRound sends outbound and consumes the resulting stream, applying the
// null-parts defense and classifying the round once the stream ends.
func (l *Loop) runRound(ctx context.Context, outbound []llm.ContentBlock) (RoundResult, error) {
	roundCtx := ctx
	var cancel context.CancelFunc
	if l.roundTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, l.roundTimeout)
		defer cancel()
	}

	chunkCh, err := l.session.Send(roundCtx, outbound)
	if err != nil {
		return RoundResult{Classification: Error}, err
	}

	var (
		textBuilder   strings.Builder
		textBlocks    []llm.ContentBlock
		functionCalls []llm.FunctionCallPart
		finishReason  string
	)

	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				result := l.classify(textBuilder.String(), functionCalls, finishReason)
				l.flushText(result, textBlocks)
				return result, nil
			}
			for _, block := range nullSafeBlocks(chunk.ContentBlocks) {
				switch block.Type {
				case llm.BlockTypeText:
					// Buffered, not emitted here: classify() below decides
					// whether this text is a discardable prelude, and the
					// client must never see a text event for a prelude the
					// round itself goes on to discard.
					textBuilder.WriteString(block.Text)
					textBlocks = append(textBlocks, block)
				case llm.BlockTypeThinking:
					l.sink.Emit(block)
				case llm.BlockTypeFunctionCall:
					if block.FunctionCall != nil {
						fc := *block.FunctionCall
						functionCalls = append(functionCalls, fc)
					}
				case llm.BlockTypeImage:
					l.sink.Emit(block)
				}
			}
			if chunk.IsFinal {
				finishReason = chunk.FinishReason
			}
		case <-roundCtx.Done():
			return RoundResult{Classification: Error, FinishReason: "timeout"}, ErrTimeout
		}
	}
}

// flushText forwards a round's buffered text blocks to the sink once the
// round's classification is known. A CONTINUE round whose text collapsed to
// an empty RoundResult.Text (discarded prelude) forwards nothing.
func (l *Loop) flushText(result RoundResult, blocks []llm.ContentBlock) {
	if result.Classification == Continue && result.Text == "" {
		return
	}
	for _, block := range blocks {
		l.sink.Emit(block)
	}
}

// nullSafeBlocks substitutes an empty slice for a nil parts field, per the
// null-parts defense: a nominally successful chunk may still carry a null
// content_blocks field.
func nullSafeBlocks(blocks []llm.ContentBlock) []llm.ContentBlock {
	if blocks == nil {
		return []llm.ContentBlock{}
	}
	return blocks
}

// classify applies the round classification rules: a function call present
// always yields CONTINUE (with the prelude discarded at or below the threshold);
// otherwise non-empty text is COMPLETE and empty text is EMPTY.
func (l *Loop) classify(text string, calls []llm.FunctionCallPart, finishReason string) RoundResult {
	trimmed := strings.TrimSpace(text)

	if len(calls) > 0 {
		retained := trimmed
		if len([]rune(trimmed)) <= preludeDiscardThreshold {
			retained = ""
		}
		return RoundResult{
			Classification: Continue,
			Text:           retained,
			FunctionCalls:  calls,
			FinishReason:   finishReason,
		}
	}

	if len(trimmed) > 0 {
		return RoundResult{Classification: Complete, Text: trimmed, FinishReason: finishReason}
	}

	return RoundResult{Classification: Empty, FinishReason: finishReason}
}

// buildToolResponses executes every function call sequentially, suppressing
// re-execution of a call whose name+args were already run in this loop.
func (l *Loop) buildToolResponses(ctx context.Context, calls []llm.FunctionCallPart, executed map[string]struct{}) []llm.ContentBlock {
	var responses []llm.ContentBlock

	for _, call := range calls {
		key := queryKey(call)
		if _, seen := executed[key]; seen {
			responses = append(responses, syntheticDuplicateResponse(call))
			continue
		}
		executed[key] = struct{}{}

		tool, ok := l.tools.Get(call.Name)
		if !ok {
			responses = append(responses, errorFunctionResponse(call.Name, fmt.Sprintf("unknown tool %q", call.Name)))
			continue
		}

		res, err := tool.Execute(ctx, call.Args)
		if err != nil {
			slog.ErrorContext(ctx, "tool execution failed", "tool", call.Name, "error", err)
			responses = append(responses, errorFunctionResponse(call.Name, err.Error()))
			continue
		}

		responses = append(responses, functionResponseFromResult(call.Name, res))
	}

	return responses
}

func queryKey(call llm.FunctionCallPart) string {
	var b strings.Builder
	b.WriteString(call.Name)
	b.WriteByte('|')
	for k, v := range call.Args {
		fmt.Fprintf(&b, "%s=%v;", k, v)
	}
	return b.String()
}

func syntheticDuplicateResponse(call llm.FunctionCallPart) llm.ContentBlock {
	return llm.ContentBlock{
		Type: llm.BlockTypeFunctionResponse,
		FunctionResponse: &llm.FunctionResponsePart{
			Name: call.Name,
			Result: searchCompleteStatus{
				Status:      "SEARCH_COMPLETE",
				Instruction: "do not call again; respond now",
			},
		},
	}
}

func errorFunctionResponse(name, message string) llm.ContentBlock {
	return llm.ContentBlock{
		Type: llm.BlockTypeFunctionResponse,
		FunctionResponse: &llm.FunctionResponsePart{
			Name:   name,
			Result: map[string]any{"error": message},
		},
	}
}

func functionResponseFromResult(name string, res *api.ToolResult) llm.ContentBlock {
	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	return llm.ContentBlock{
		Type: llm.BlockTypeFunctionResponse,
		FunctionResponse: &llm.FunctionResponsePart{
			Name:   name,
			Result: map[string]any{"text": strings.Join(texts, "\n"), "details": res.Details},
		},
	}
}

func forceRespondBlock() llm.ContentBlock {
	return llm.ContentBlock{
		Type: llm.BlockTypeFunctionResponse,
		FunctionResponse: &llm.FunctionResponsePart{
			Name:   "_loop_control",
			Result: map[string]any{"instruction": forceRespondDirective},
		},
	}
}
