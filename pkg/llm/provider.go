// Package llm provides the language model abstraction used for AI-assisted
// extraction.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	msg, err := provider.Complete(ctx, []*llm.Message{
//	    llm.NewSystemMessage("Extract the product name as JSON."),
//	    llm.NewUserMessage(pageHTML),
//	})
package llm

import (
	"context"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation with the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// StreamChunk is a piece of a streamed completion.
type StreamChunk struct {
	Role     string
	Content  string
	Finished bool
	Error    error
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// Provider defines the interface for LLM integrations.
//
// Providers only talk to the model API. Prompt construction and response
// parsing belong to the caller.
type Provider interface {
	// StreamCompletion sends messages and streams back response chunks. The
	// channel is closed when the stream ends. Stream-time failures arrive as
	// chunks with Error set; the returned error covers request setup only.
	StreamCompletion(ctx context.Context, messages []*Message) (<-chan *StreamChunk, error)

	// Complete accumulates a streamed completion into one message.
	Complete(ctx context.Context, messages []*Message) (*Message, error)

	// GetModel returns the model name being used.
	GetModel() string
}
