package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hybridcore/pkg/api"
	"hybridcore/pkg/engine"
	"hybridcore/pkg/llm"
)

// Handler adapts engine.Engine onto api.GatewayHandler, the way
// pkg/handler.ChatHandler used to adapt pkg/agent.AgentEngine: it receives
// UnifiedMessages from the gateway, drives one ConversationEngine turn, and
// translates the resulting api.Event stream back into the gateway's
// ContentBlock/signal vocabulary.
type Handler struct {
	engine     *engine.Engine
	responder  api.MessageResponder
	translator api.ThoughtTranslator
}

// NewHandler builds a Handler around an already-configured Engine.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e, translator: api.NewDefaultThoughtTranslator()}
}

// SetResponder implements api.ResponderAware.
func (h *Handler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// OnMessage implements api.MessageProcessor. Each message runs its own
// ConversationEngine turn concurrently; the gateway's per-channel delivery
// order is preserved by StreamReply resolving against the session's own
// channel, not by serializing turns here.
func (h *Handler) OnMessage(msg *api.UnifiedMessage) {
	go h.process(msg)
}

func (h *Handler) process(msg *api.UnifiedMessage) {
	ctx := context.Background()

	userMsg := api.UserMessage{
		Text:   msg.Content,
		UserID: msg.Session.ChannelID + ":" + msg.Session.UserID,
	}

	events := h.engine.StreamMessage(ctx, userMsg)
	blocks := make(chan llm.ContentBlock, 16)

	go func() {
		defer close(blocks)
		for ev := range events {
			h.forward(msg, ev, blocks)
		}
	}()

	if err := h.responder.StreamReply(msg.Session, blocks); err != nil {
		slog.Error("bridge: failed to stream reply", "error", err, "channel", msg.Session.ChannelID)
	}
}

func (h *Handler) forward(msg *api.UnifiedMessage, ev api.Event, blocks chan<- llm.ContentBlock) {
	switch ev.Type {
	case api.EventText:
		blocks <- llm.ContentBlock{Type: llm.BlockTypeText, Text: ev.Text}
	case api.EventThinking:
		_ = h.responder.SendSignal(msg.Session, h.translator.Translate(ev.Text))
	case api.EventRetry:
		_ = h.responder.SendSignal(msg.Session, "retry")
	case api.EventTip:
		if ev.Tip != "" {
			blocks <- llm.ContentBlock{Type: llm.BlockTypeText, Text: "\n\n💡 " + ev.Tip}
		}
	case api.EventQuickReplies:
		if len(ev.QuickReplies) > 0 {
			blocks <- llm.ContentBlock{Type: llm.BlockTypeText, Text: "\n\n" + strings.Join(ev.QuickReplies, " · ")}
		}
	case api.EventProducts:
		if line := formatProducts(ev.Products); line != "" {
			blocks <- llm.ContentBlock{Type: llm.BlockTypeText, Text: line}
		}
	case api.EventError:
		blocks <- llm.ContentBlock{Type: llm.BlockTypeError, Text: ev.Error}
	case api.EventDone:
		// Session bookkeeping already happened inside the engine; nothing to
		// forward downstream.
	}
}

func formatProducts(products []api.ProductPayload) string {
	if len(products) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	for i, p := range products {
		fmt.Fprintf(&b, "\n%d. %s — %.2f₾", i+1, p.Name, p.Price)
	}
	return b.String()
}
