package engine

import (
	"context"
	"testing"
	"time"

	"hybridcore/pkg/api"
	"hybridcore/pkg/inference"
	"hybridcore/pkg/llm"
	"hybridcore/pkg/loop"
)

// scriptedSession advances through rounds shared across however many
// sessions a test's fakeSessionFactory opens, so a fallback retry that
// opens a second session keeps consuming the script where the first left
// off rather than restarting it.
type scriptedSession struct {
	rounds *[][]llm.StreamChunk
	calls  *int
}

func (s *scriptedSession) Send(ctx context.Context, blocks []llm.ContentBlock) (<-chan llm.StreamChunk, error) {
	round := (*s.rounds)[*s.calls]
	ch := make(chan llm.StreamChunk, len(round))
	for _, c := range round {
		ch <- c
	}
	close(ch)
	*s.calls++
	return ch, nil
}

type fakeSessionFactory struct {
	rounds [][]llm.StreamChunk
	calls  int
}

func (f *fakeSessionFactory) Open(ctx context.Context, model, systemPrompt string, history []llm.Message) (loop.ChatSession, error) {
	return &scriptedSession{rounds: &f.rounds, calls: &f.calls}, nil
}

type emptyRegistry struct{}

func (emptyRegistry) Register(tool api.Tool)         {}
func (emptyRegistry) Unregister(name string)         {}
func (emptyRegistry) Get(name string) (api.Tool, bool) { return nil, false }
func (emptyRegistry) GetAll() []api.Tool             { return nil }

func textChunk(text string, reason string) llm.StreamChunk {
	return llm.StreamChunk{
		ContentBlocks: []llm.ContentBlock{llm.NewTextBlock(text)},
		IsFinal:       true,
		FinishReason:  reason,
	}
}

func collectEvents(ch <-chan api.Event) []api.Event {
	var out []api.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStreamMessageHappyPath(t *testing.T) {
	factory := &fakeSessionFactory{rounds: [][]llm.StreamChunk{
		{textChunk("Hello, glad to help!", "STOP")},
	}}
	e := New(
		inference.New(),
		emptyRegistry{},
		api.NewInMemoryHistoryStore(),
		api.NewInMemoryProfileStore(),
		factory,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := collectEvents(e.StreamMessage(ctx, api.UserMessage{Text: "hi", UserID: "u1"}))

	var sawText, sawDone bool
	var doneSessionID string
	for _, ev := range events {
		switch ev.Type {
		case api.EventText:
			sawText = true
		case api.EventDone:
			sawDone = true
			doneSessionID = ev.SessionID
		case api.EventError:
			t.Fatalf("unexpected error event: %s", ev.Error)
		}
	}

	if !sawText || !sawDone {
		t.Fatalf("expected both text and done events, got %+v", events)
	}
	if doneSessionID == "" {
		t.Fatal("expected done event to carry a non-empty session id")
	}
}

func TestStreamMessageFallsBackOnEmptyResponse(t *testing.T) {
	factory := &fakeSessionFactory{rounds: [][]llm.StreamChunk{
		{{IsFinal: true, FinishReason: "STOP"}},
		{{IsFinal: true, FinishReason: "STOP"}},
		{{IsFinal: true, FinishReason: "STOP"}},
		{{IsFinal: true, FinishReason: "STOP"}},
	}}
	e := New(
		inference.New(),
		emptyRegistry{},
		api.NewInMemoryHistoryStore(),
		api.NewInMemoryProfileStore(),
		factory,
		WithMaxRounds(1),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := collectEvents(e.StreamMessage(ctx, api.UserMessage{Text: "hi", UserID: "u2"}))

	var sawRetry bool
	for _, ev := range events {
		if ev.Type == api.EventRetry {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Fatalf("expected a retry event after an empty-response fallback, got %+v", events)
	}
}

func TestStreamMessageCanonicalSessionIDIsStable(t *testing.T) {
	factory := &fakeSessionFactory{rounds: [][]llm.StreamChunk{
		{textChunk("ok", "STOP")},
	}}
	history := api.NewInMemoryHistoryStore()
	e := New(inference.New(), emptyRegistry{}, history, api.NewInMemoryProfileStore(), factory)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := collectEvents(e.StreamMessage(ctx, api.UserMessage{Text: "hi", UserID: "u3"}))

	var sessionID string
	for _, ev := range events {
		if ev.Type == api.EventDone {
			sessionID = ev.SessionID
		}
	}
	if sessionID == "" {
		t.Fatal("expected a session id from the done event")
	}

	factory2 := &fakeSessionFactory{rounds: [][]llm.StreamChunk{{textChunk("ok again", "STOP")}}}
	e2 := New(inference.New(), emptyRegistry{}, history, api.NewInMemoryProfileStore(), factory2)

	events2 := collectEvents(e2.StreamMessage(ctx, api.UserMessage{Text: "hi again", UserID: "u3", SessionHint: sessionID}))
	for _, ev := range events2 {
		if ev.Type == api.EventDone && ev.SessionID != sessionID {
			t.Fatalf("expected session_hint to re-bind to the same session id, got %s want %s", ev.SessionID, sessionID)
		}
	}
}
