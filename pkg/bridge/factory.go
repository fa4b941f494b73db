package bridge

import (
	"context"
	"fmt"

	"hybridcore/pkg/api"
	"hybridcore/pkg/llm"
	"hybridcore/pkg/loop"
)

// RoleSessionFactory implements engine.ChatSessionFactory by picking the
// LLMClient registered for the requested routing role ("primary",
// "extended", "fallback") and opening a fresh llmChatSession against it.
type RoleSessionFactory struct {
	clients map[string]llm.LLMClient
	tools   api.ToolRegistry
}

// NewRoleSessionFactory builds a factory from a role->client map, typically
// produced by llm.NewRoleMapFromConfig.
func NewRoleSessionFactory(clients map[string]llm.LLMClient, tools api.ToolRegistry) *RoleSessionFactory {
	return &RoleSessionFactory{clients: clients, tools: tools}
}

// Open implements engine.ChatSessionFactory.
func (f *RoleSessionFactory) Open(ctx context.Context, model string, systemPrompt string, history []llm.Message) (loop.ChatSession, error) {
	client, ok := f.clients[model]
	if !ok {
		return nil, fmt.Errorf("bridge: no LLM client registered for role %q", model)
	}

	var tools []llm.Tool
	if f.tools != nil {
		apiTools := f.tools.GetAll()
		tools = make([]llm.Tool, len(apiTools))
		for i, t := range apiTools {
			tools[i] = t
		}
	}

	return newLLMChatSession(client, systemPrompt, history, tools), nil
}
