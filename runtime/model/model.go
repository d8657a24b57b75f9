// Package model defines the LLM client abstraction consumed by the selector,
// synthesizer and ReAct controller. Provider bindings live under
// features/model.
package model

import (
	"context"
	"errors"
)

type (
	// Role identifies the author of a message.
	Role string

	// Message is one turn in a conversation sent to the model.
	Message struct {
		Role    Role
		Content string
	}

	// Request describes a completion call.
	Request struct {
		// Messages is the conversation, in order. System messages are mapped
		// to the provider's system slot.
		Messages []Message
		// Model overrides the client's default model when non-empty.
		Model string
		// MaxTokens bounds the completion length. Zero uses the client default.
		MaxTokens int
		// Temperature controls sampling. Zero uses the client default.
		Temperature float32
	}

	// Usage reports token consumption for a completion.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// Response is the model's completion.
	Response struct {
		// Text is the concatenated text content of the completion.
		Text string
		// Model is the concrete model that served the request.
		Model string
		// Usage reports token counts when the provider returns them.
		Usage Usage
	}

	// Client is implemented by provider bindings.
	Client interface {
		// Complete performs a blocking completion call.
		Complete(ctx context.Context, req *Request) (*Response, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrEmptyCompletion is returned when the provider yields no text content.
var ErrEmptyCompletion = errors.New("model returned empty completion")

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
