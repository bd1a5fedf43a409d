// Package llm talks to chat-completion providers. It is used by the
// LLM-backed answer service to generate answer documents directly.
package llm

import (
	"context"
	"fmt"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the provider-agnostic chat message.
type Message struct {
	Role    Role
	Content string
}

// Validate checks the message role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
		return nil
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Response is a normalized result of one chat call.
type Response struct {
	Content      string
	Usage        Usage
	FinishReason string // "stop" | "length" | "content_filter"
}

// Options are forwarded to the provider SDK.
type Options struct {
	Temperature     float32
	MaxOutputTokens int
}

// Client abstracts the provider SDK.
type Client interface {
	Chat(ctx context.Context, model string, messages []Message, opts Options) (Response, error)
}
