// Package llm defines the Provider interface for chat-completion backends.
//
// The assistant uses an LLM in two places: generating conversational replies
// in the foreground turn loop, and producing the end-of-session summary.
// Neither needs tool calling or streaming, so the interface is a single
// blocking [Provider.Complete] call.
package llm

import "context"

// Message roles, matching the OpenAI chat convention that every supported
// backend understands.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	// Role is one of RoleSystem, RoleUser, RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything needed for one completion call.
type CompletionRequest struct {
	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Temperature controls sampling randomness. Zero means backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	// Content is the assistant's reply text.
	Content string
}

// Provider is the abstraction over any chat-completion backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete performs a single blocking chat completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
