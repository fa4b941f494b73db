package loop

import (
	"context"
	"testing"

	"hybridcore/pkg/api"
	"hybridcore/pkg/llm"
)

// scriptedSession replays one llm.StreamChunk slice per call to Send, in
// order, regardless of what it's sent — enough to drive the loop through a
// fixed scenario without a real upstream.
type scriptedSession struct {
	rounds [][]llm.StreamChunk
	calls  int
	sent   [][]llm.ContentBlock
}

func (s *scriptedSession) Send(ctx context.Context, blocks []llm.ContentBlock) (<-chan llm.StreamChunk, error) {
	s.sent = append(s.sent, blocks)
	ch := make(chan llm.StreamChunk, len(s.rounds[s.calls]))
	for _, c := range s.rounds[s.calls] {
		ch <- c
	}
	close(ch)
	s.calls++
	return ch, nil
}

type fakeTool struct {
	name   string
	result *api.ToolResult
	calls  int
}

func (t *fakeTool) Name() string                    { return t.name }
func (t *fakeTool) Description() string             { return "fake" }
func (t *fakeTool) Parameters() map[string]any       { return map[string]any{} }
func (t *fakeTool) RequiredParameters() []string     { return nil }
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	t.calls++
	return t.result, nil
}

type fakeRegistry struct {
	tools map[string]api.Tool
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{tools: map[string]api.Tool{}} }

func (r *fakeRegistry) Register(tool api.Tool)     { r.tools[tool.Name()] = tool }
func (r *fakeRegistry) Unregister(name string)     { delete(r.tools, name) }
func (r *fakeRegistry) Get(name string) (api.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
func (r *fakeRegistry) GetAll() []api.Tool {
	out := make([]api.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

type collectingSink struct {
	blocks []llm.ContentBlock
}

func (s *collectingSink) Emit(b llm.ContentBlock) { s.blocks = append(s.blocks, b) }

func textChunk(text string, final bool, reason string) llm.StreamChunk {
	return llm.StreamChunk{
		ContentBlocks: []llm.ContentBlock{llm.NewTextBlock(text)},
		IsFinal:       final,
		FinishReason:  reason,
	}
}

func functionCallChunk(prelude, name string, args map[string]any) llm.StreamChunk {
	blocks := []llm.ContentBlock{}
	if prelude != "" {
		blocks = append(blocks, llm.NewTextBlock(prelude))
	}
	blocks = append(blocks, llm.ContentBlock{
		Type:         llm.BlockTypeFunctionCall,
		FunctionCall: &llm.FunctionCallPart{Name: name, Args: args},
	})
	return llm.StreamChunk{ContentBlocks: blocks, IsFinal: true, FinishReason: "STOP"}
}

func TestSingleRoundComplete(t *testing.T) {
	session := &scriptedSession{rounds: [][]llm.StreamChunk{
		{textChunk("Hello there, how can I help?", true, "STOP")},
	}}
	sink := &collectingSink{}
	l := New(session, newFakeRegistry(), sink)

	state, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.AccumulatedText != "Hello there, how can I help?" {
		t.Fatalf("unexpected accumulated text: %q", state.AccumulatedText)
	}
	if len(state.Rounds) != 1 || state.Rounds[0].Classification != Complete {
		t.Fatalf("expected a single Complete round, got %+v", state.Rounds)
	}
}

func TestPreludeDiscardedWhenShort(t *testing.T) {
	session := &scriptedSession{rounds: [][]llm.StreamChunk{
		{functionCallChunk("Let me check", "lookup", map[string]any{"q": "x"})},
		{textChunk("Found it, here you go.", true, "STOP")},
	}}
	reg := newFakeRegistry()
	reg.Register(&fakeTool{name: "lookup", result: &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "result"}}}})
	sink := &collectingSink{}
	l := New(session, reg, sink)

	state, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("find it")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Rounds[0].Text != "" {
		t.Fatalf("expected short prelude to be discarded, got %q", state.Rounds[0].Text)
	}
	if state.AccumulatedText != "Found it, here you go." {
		t.Fatalf("unexpected final text: %q", state.AccumulatedText)
	}
	for _, b := range sink.blocks {
		if b.Type == llm.BlockTypeText && b.Text == "Let me check" {
			t.Fatalf("discarded prelude must never reach the sink, got block %+v", b)
		}
	}
}

func TestPreludeRetainedWhenLong(t *testing.T) {
	longPrelude := "Let me take a careful look through the catalog for exactly what you need before I call the tool"
	session := &scriptedSession{rounds: [][]llm.StreamChunk{
		{functionCallChunk(longPrelude, "lookup", map[string]any{"q": "x"})},
		{textChunk("Done.", true, "STOP")},
	}}
	reg := newFakeRegistry()
	reg.Register(&fakeTool{name: "lookup", result: &api.ToolResult{}})
	sink := &collectingSink{}
	l := New(session, reg, sink)

	state, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("find it")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Rounds[0].Text != longPrelude {
		t.Fatalf("expected long prelude to be retained, got %q", state.Rounds[0].Text)
	}
	found := false
	for _, b := range sink.blocks {
		if b.Type == llm.BlockTypeText && b.Text == longPrelude {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected retained prelude to reach the sink, blocks: %+v", sink.blocks)
	}
}

func TestDuplicateToolCallSuppressed(t *testing.T) {
	args := map[string]any{"q": "boots"}
	session := &scriptedSession{rounds: [][]llm.StreamChunk{
		{functionCallChunk("", "search", args)},
		{functionCallChunk("", "search", args)},
		{textChunk("Here are your results.", true, "STOP")},
	}}
	tool := &fakeTool{name: "search", result: &api.ToolResult{Content: []api.ContentBlock{{Type: "text", Text: "boots found"}}}}
	reg := newFakeRegistry()
	reg.Register(tool)
	l := New(session, reg, &collectingSink{})

	_, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("find boots")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("expected duplicate call with identical args to be suppressed, tool was invoked %d times", tool.calls)
	}
}

func TestEmptyResponseErrorOnAllEmptyRounds(t *testing.T) {
	chunks := [][]llm.StreamChunk{}
	for i := 0; i < DefaultMaxRounds+1; i++ {
		chunks = append(chunks, []llm.StreamChunk{{IsFinal: true, FinishReason: "STOP"}})
	}
	session := &scriptedSession{rounds: chunks}
	l := New(session, newFakeRegistry(), &collectingSink{})

	_, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("hi")})
	if err != ErrEmptyResponse {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestForcedRoundAtMaxRounds(t *testing.T) {
	args := map[string]any{"q": "x"}
	chunks := [][]llm.StreamChunk{}
	for i := 0; i < DefaultMaxRounds; i++ {
		chunks = append(chunks, []llm.StreamChunk{functionCallChunk("", "search", args)})
	}
	chunks = append(chunks, []llm.StreamChunk{textChunk("Final answer.", true, "STOP")})

	session := &scriptedSession{rounds: chunks}
	reg := newFakeRegistry()
	reg.Register(&fakeTool{name: "search", result: &api.ToolResult{}})
	l := New(session, reg, &collectingSink{})

	state, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.ForcedRoundUsed {
		t.Fatal("expected the forced final round to have run")
	}
	if state.AccumulatedText != "Final answer." {
		t.Fatalf("unexpected accumulated text: %q", state.AccumulatedText)
	}
}

func TestNullContentBlocksDoNotPanic(t *testing.T) {
	session := &scriptedSession{rounds: [][]llm.StreamChunk{
		{{ContentBlocks: nil, IsFinal: false}, textChunk("ok", true, "STOP")},
	}}
	l := New(session, newFakeRegistry(), &collectingSink{})

	state, err := l.ExecuteStreaming(context.Background(), []llm.ContentBlock{llm.NewTextBlock("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.AccumulatedText != "ok" {
		t.Fatalf("unexpected text: %q", state.AccumulatedText)
	}
}
