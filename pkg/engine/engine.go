// Package engine implements ConversationEngine, the top-level orchestrator
// that ties session resolution, pre-search enrichment, model routing,
// history compaction, and the function-calling loop into one streamed
// request/response cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hybridcore/pkg/api"
	"hybridcore/pkg/fallback"
	"hybridcore/pkg/inference"
	"hybridcore/pkg/llm"
	"hybridcore/pkg/loop"
	"hybridcore/pkg/respbuffer"
)

const (
	// defaultRecentHistoryCount is N in "fetch the last N history messages".
	defaultRecentHistoryCount = 30
	// defaultCompactionRatio triggers the compaction gate once the
	// estimated history token count reaches this fraction of the routed
	// model's limit.
	defaultCompactionRatio = 0.75
	// preSearchMaxHistoryMessages bounds pre-search to first-touch
	// conversations, per §4.8 phase 2.
	preSearchMaxHistoryMessages = 4
	// preSearchMaxResults and preSearchLineLength bound the inlined
	// "catalog context" block so it stays a small fraction of the prompt.
	preSearchMaxResults  = 5
	preSearchLineLength  = 120
	safetyShortTextChars = 800
)

// CatalogSearcher performs the pre-fetch search described in §4.8 phase 2.
// An engine with no searcher configured simply skips that phase.
type CatalogSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]CatalogItem, error)
}

// CatalogItem is one inlined search result.
type CatalogItem struct {
	Name  string
	Price float64
}

// Line renders the item as a single bounded context line.
func (c CatalogItem) Line() string {
	line := fmt.Sprintf("- %s (%.2f₾)", c.Name, c.Price)
	if len([]rune(line)) > preSearchLineLength {
		line = string([]rune(line)[:preSearchLineLength-1]) + "…"
	}
	return line
}

// Summarizer condenses old history into one synthetic message during the
// compaction gate. When no summarizer is configured, or it returns an error,
// the engine builds the summary itself by joining the text of the compacted
// messages and cutting it to 500 runes.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// ChatSessionFactory opens an upstream chat session bound to one model,
// with the system prompt (profile and facts already substituted) as the
// first message and automatic function-calling left disabled — the loop
// always drives tool calls manually.
type ChatSessionFactory interface {
	Open(ctx context.Context, model string, systemPrompt string, history []llm.Message) (loop.ChatSession, error)
}

// Engine is the ConversationEngine component.
type Engine struct {
	manager  *inference.Manager
	trigger  *fallback.Trigger
	tools    api.ToolRegistry
	history  api.HistoryStore
	profiles api.ProfileStore
	memory   api.MemoryHooks
	sessions ChatSessionFactory
	searcher CatalogSearcher
	summary  Summarizer

	systemPromptTemplate string
	recentHistoryCount   int
	compactionRatio      float64
	maxRounds            int

	intentKeywords  []string
	negativeMarkers []string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithSearcher(s CatalogSearcher) Option { return func(e *Engine) { e.searcher = s } }
func WithSummarizer(s Summarizer) Option    { return func(e *Engine) { e.summary = s } }
func WithMemoryHooks(m api.MemoryHooks) Option {
	return func(e *Engine) { e.memory = m }
}
func WithSystemPromptTemplate(tmpl string) Option {
	return func(e *Engine) { e.systemPromptTemplate = tmpl }
}
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}
func WithIntentKeywords(keywords, negative []string) Option {
	return func(e *Engine) {
		e.intentKeywords = keywords
		e.negativeMarkers = negative
	}
}

// New creates an Engine. manager, tools, history, profiles, and sessions
// are required collaborators; the rest are optional via Option.
func New(
	manager *inference.Manager,
	tools api.ToolRegistry,
	history api.HistoryStore,
	profiles api.ProfileStore,
	sessions ChatSessionFactory,
	opts ...Option,
) *Engine {
	e := &Engine{
		manager:            manager,
		trigger:            fallback.New(),
		tools:              tools,
		history:            history,
		profiles:           profiles,
		sessions:           sessions,
		recentHistoryCount: defaultRecentHistoryCount,
		compactionRatio:    defaultCompactionRatio,
		maxRounds:          loop.DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StreamMessage runs one full request through all eight phases, emitting
// SSE-shaped events on the returned channel. The channel is closed when the
// request terminates, successfully or not; a terminal "error" or "done"
// event is always the last event sent before close.
func (e *Engine) StreamMessage(ctx context.Context, msg api.UserMessage) <-chan api.Event {
	events := make(chan api.Event, 16)

	go func() {
		defer close(events)
		e.run(ctx, msg, events)
	}()

	return events
}

func (e *Engine) emit(ctx context.Context, events chan<- api.Event, ev api.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (e *Engine) run(ctx context.Context, msg api.UserMessage, events chan<- api.Event) {
	// Phase 1: load context.
	sessionID := e.history.Resolve(msg.UserID, msg.SessionHint)
	recent := e.history.Recent(sessionID, e.recentHistoryCount)
	profile := e.profiles.Get(msg.UserID)

	userText := msg.Text

	// Phase 2: pre-fetch / pre-search.
	if e.searcher != nil && len(recent) <= preSearchMaxHistoryMessages && e.looksLikeCatalogIntent(userText) {
		if block := e.buildCatalogContext(ctx, userText); block != "" {
			userText = userText + "\n\n" + block
		}
	}

	requestGuard := inference.NewRequestGuard()
	safetyRetryAttempted := false

	model, err := e.routeAndCompact(ctx, sessionID, userText, recent)
	if err != nil {
		e.emit(ctx, events, api.NewErrorEvent(err.Error()))
		return
	}

	state, finalModel, err := e.attemptLoop(ctx, sessionID, profile, userText, model, events, requestGuard, &safetyRetryAttempted)
	if err != nil {
		e.manager.RecordFailure(finalModel)
		e.emit(ctx, events, api.NewErrorEvent(err.Error()))
		return
	}

	e.manager.RecordSuccess(finalModel)
	e.history.Append(sessionID, llm.NewUserMessage(msg.Text))
	e.history.Append(sessionID, llm.NewAssistantMessage(state.AccumulatedText))

	e.emit(ctx, events, api.NewDoneEvent(sessionID, finalModel))
}

// routeAndCompact implements phases 3 and 4: delegate to the
// HybridInferenceManager, then run the compaction gate if the estimated
// token count for the chosen model has crossed the compaction ratio.
func (e *Engine) routeAndCompact(ctx context.Context, sessionID, userText string, recent []llm.Message) (string, error) {
	decision := e.manager.RouteRequest(userText, recent)

	limit := modelLimitFor(decision.Model)
	if limit > 0 && float64(decision.TokenCount) >= e.compactionRatio*float64(limit) {
		e.compact(ctx, sessionID, recent)
	}

	return decision.Model, nil
}

func modelLimitFor(model string) int {
	switch model {
	case "extended":
		return 1000000
	case "primary", "fallback":
		return 128000
	default:
		return 128000
	}
}

// compact runs the pre-flush fact extraction, summarizes the compactable
// range into one synthetic message, and replaces the stored history with
// [summary] + recent tail.
func (e *Engine) compact(ctx context.Context, sessionID string, recent []llm.Message) {
	if len(recent) <= preSearchMaxHistoryMessages {
		return
	}

	keepTail := e.recentHistoryCount / 3
	if keepTail < 1 {
		keepTail = 1
	}
	if keepTail >= len(recent) {
		return
	}

	toCompact := recent[:len(recent)-keepTail]
	tail := recent[len(recent)-keepTail:]

	if e.memory != nil {
		facts := e.memory.ExtractFacts(sessionID, toCompact)
		if len(facts) > 0 {
			e.memory.SaveFacts(sessionID, facts)
		}
	}

	var summaryText string
	if e.summary != nil {
		if s, err := e.summary.Summarize(ctx, toCompact); err == nil {
			summaryText = s
		} else {
			slog.WarnContext(ctx, "history summarization failed, falling back to truncation", "error", err)
		}
	}
	if summaryText == "" {
		summaryText = naiveSummary(toCompact)
	}

	newHistory := append([]llm.Message{llm.NewSystemMessage("Earlier conversation summary: " + summaryText)}, tail...)
	e.history.Replace(sessionID, newHistory)
}

func naiveSummary(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		text := m.GetTextContent()
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(text)
	}
	s := b.String()
	if len([]rune(s)) > 500 {
		s = string([]rune(s)[:500]) + "…"
	}
	return s
}

// attemptLoop implements phases 5-7: create the chat session, run the
// function-calling loop, and on a fallback-eligible terminal state re-run
// once with the next model in the hierarchy.
func (e *Engine) attemptLoop(
	ctx context.Context,
	sessionID string,
	profile api.Profile,
	userText string,
	model string,
	events chan<- api.Event,
	guard *inference.RequestGuard,
	safetyRetryAttempted *bool,
) (loop.State, string, error) {
	buffer := respbuffer.New()
	systemPrompt := e.renderSystemPrompt(profile)

	for {
		session, err := e.sessions.Open(ctx, model, systemPrompt, e.history.Recent(sessionID, e.recentHistoryCount))
		if err != nil {
			return loop.State{}, model, fmt.Errorf("opening chat session for model %s: %w", model, err)
		}

		sink := loop.SinkFunc(func(block llm.ContentBlock) {
			e.forwardBlock(ctx, events, buffer, block)
		})

		l := loop.New(session, e.tools, sink, loop.WithMaxRounds(e.maxRounds))
		initial := []llm.ContentBlock{llm.NewTextBlock(userText)}

		state, loopErr := l.ExecuteStreaming(ctx, initial)

		decision := e.classifyTerminal(state, loopErr)
		if !decision.ShouldFallback || *safetyRetryAttempted || !guard.TryConsume() {
			if loopErr != nil && !decision.ShouldFallback {
				return state, model, loopErr
			}
			e.emitBufferedExtras(ctx, events, buffer)
			return state, model, nil
		}

		*safetyRetryAttempted = true
		e.manager.RecordFailure(model)
		next := e.manager.GetFallbackModel(model)
		if next == "" {
			e.emitBufferedExtras(ctx, events, buffer)
			return state, model, nil
		}

		e.emit(ctx, events, api.NewRetryEvent())
		buffer.Clear()
		model = next
	}
}

// classifyTerminal applies §4.8 phase 7's terminal fallback check, reusing
// FallbackTrigger's rules rather than re-implementing them.
func (e *Engine) classifyTerminal(state loop.State, loopErr error) fallback.Decision {
	if errors.Is(loopErr, loop.ErrEmptyResponse) {
		return fallback.Decision{ShouldFallback: true, Retryable: true, Reason: fallback.ReasonEmptyResponse}
	}
	if loopErr != nil {
		return e.trigger.AnalyzeException(loopErr)
	}
	return e.trigger.AnalyzeResponse(state.LastFinishReason, state.AccumulatedText)
}

func (e *Engine) forwardBlock(ctx context.Context, events chan<- api.Event, buffer *respbuffer.Buffer, block llm.ContentBlock) {
	switch block.Type {
	case llm.BlockTypeText:
		buffer.AppendChunk(block.Text)
		e.emit(ctx, events, api.NewTextEvent(block.Text))
	case llm.BlockTypeThinking:
		e.emit(ctx, events, api.NewThinkingEvent(block.Text))
	}
}

func (e *Engine) emitBufferedExtras(ctx context.Context, events chan<- api.Event, buffer *respbuffer.Buffer) {
	snap := buffer.Snapshot()

	if snap.Tip != "" {
		e.emit(ctx, events, api.Event{Type: api.EventTip, Tip: snap.Tip})
	}
	if len(snap.QuickReplies) > 0 {
		e.emit(ctx, events, api.Event{Type: api.EventQuickReplies, QuickReplies: snap.QuickReplies})
	}
	if len(snap.Products) > 0 {
		payload := make([]api.ProductPayload, 0, len(snap.Products))
		for _, p := range snap.Products {
			payload = append(payload, api.ProductPayload{Name: p.Name, Price: p.Price, Brand: p.Brand})
		}
		e.emit(ctx, events, api.Event{Type: api.EventProducts, Products: payload})
	}
}

func (e *Engine) renderSystemPrompt(profile api.Profile) string {
	tmpl := e.systemPromptTemplate
	if tmpl == "" {
		tmpl = "You are a helpful assistant. User: {{name}}."
	}
	rendered := strings.ReplaceAll(tmpl, "{{name}}", profile.Name)
	if len(profile.CuratedFacts) > 0 {
		rendered += "\nKnown facts: " + strings.Join(profile.CuratedFacts, "; ")
	}
	return rendered
}

func (e *Engine) looksLikeCatalogIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range e.negativeMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	for _, kw := range e.intentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (e *Engine) buildCatalogContext(ctx context.Context, query string) string {
	items, err := e.searcher.Search(ctx, query, preSearchMaxResults)
	if err != nil || len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[catalog context — use only if relevant, do not repeat verbatim]\n")
	for _, item := range items {
		b.WriteString(item.Line())
		b.WriteString("\n")
	}
	return b.String()
}
