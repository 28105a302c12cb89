// Package providers adapts concrete chat-completion backends (Anthropic,
// OpenAI) to the orchestrator's Provider interface. The LLM backend itself
// is an external collaborator per spec §1 ("treated as a remote chat
// service"); this package is the thin translation layer, not an inference
// engine.
package providers

import (
	"context"

	"agentd/pkg/models"
)

// ToolSchema describes one tool the LLM may call, rendered from the
// orchestrator's tool registry (spec §4.6).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// ChatRequest is one LLM turn's input: the full message log, the system
// prompt (already templated with the user's memory JSON per spec §4.5
// step 3), and the tool schema currently offered.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []models.Message
	Tools        []ToolSchema
	NumCtx       int
}

// ChatResponse is the assistant's reply: narration text plus any tool
// calls it requested.
type ChatResponse struct {
	Text      string
	ToolCalls []models.ToolCall
}

// Provider is the interface the orchestrator drives; Anthropic and OpenAI
// backends implement it, and tests substitute a stub.
type Provider interface {
	// Name identifies the provider for metrics labels ("anthropic", "openai").
	Name() string
	// Complete issues one chat completion request.
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
