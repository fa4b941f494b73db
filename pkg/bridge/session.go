// Package bridge wires the hybrid inference stack (pkg/engine and its
// collaborators) onto the teacher's gateway/channel/LLM-client
// infrastructure, the way pkg/handler used to wire pkg/agent onto it.
package bridge

import (
	"context"

	"hybridcore/pkg/llm"
)

// llmChatSession adapts a stateless llm.LLMClient into the stateful
// loop.ChatSession the function-calling loop expects: every Send call's
// content blocks, and every response's content blocks, accumulate onto one
// growing message history scoped to the lifetime of the session.
type llmChatSession struct {
	client  llm.LLMClient
	tools   []llm.Tool
	history []llm.Message
}

// newLLMChatSession seeds a session with a system prompt and the caller's
// recent conversation history, ahead of the first Send.
func newLLMChatSession(client llm.LLMClient, systemPrompt string, seed []llm.Message, tools []llm.Tool) *llmChatSession {
	history := make([]llm.Message, 0, len(seed)+1)
	if systemPrompt != "" {
		history = append(history, llm.NewSystemMessage(systemPrompt))
	}
	history = append(history, seed...)
	return &llmChatSession{client: client, tools: tools, history: history}
}

// Send implements loop.ChatSession. The role written for blocks is "tool"
// when they carry a function response, "user" otherwise — the provider
// clients treat role "tool" messages as tool results.
func (s *llmChatSession) Send(ctx context.Context, blocks []llm.ContentBlock) (<-chan llm.StreamChunk, error) {
	role := "user"
	for _, b := range blocks {
		if b.Type == llm.BlockTypeFunctionResponse {
			role = "tool"
			break
		}
	}
	s.history = append(s.history, llm.Message{Role: role, Content: blocks})

	upstream, err := s.client.StreamChat(ctx, s.history, s.tools)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var produced []llm.ContentBlock
		for chunk := range upstream {
			produced = append(produced, chunk.ContentBlocks...)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if len(produced) > 0 {
			s.history = append(s.history, llm.Message{Role: "assistant", Content: produced})
		}
	}()
	return out, nil
}
