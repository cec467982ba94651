package core

import "github.com/google/uuid"

// Role identifies the author of a Message.
type Role string

const (
	// RoleUser marks content supplied by the caller.
	RoleUser Role = "user"
	// RoleAssistant marks content generated by a model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instruction content that frames the conversation.
	RoleSystem Role = "system"
)

// Message is one conversational turn. Messages are immutable once appended to
// a task's context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage builds a user-authored message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage builds an assistant-authored message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewSystemMessage builds a system instruction message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Chunk is one ordered increment of streamed generated text. Within a single
// stream chunks are delivered in emission order with no gaps or reordering.
type Chunk struct {
	Text string `json:"text"`
}

// Usage carries token accounting reported by a backend. Both fields are zero
// when the backend does not report usage.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Capabilities describes what a provider adapter supports. The values are
// static per adapter instance and informational only: the engine never gates
// dispatch on them, so an over-limit request simply fails at the backend.
type Capabilities struct {
	Streaming       bool `json:"streaming"`
	Vision          bool `json:"vision"`
	FunctionCalling bool `json:"function_calling"`
	MaxTokens       int  `json:"max_tokens"`
}

// NewID generates a unique identifier for agents, tasks and events.
func NewID() string { return uuid.NewString() }
