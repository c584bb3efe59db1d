// Package llm defines the provider-agnostic chat model contract consumed by
// the execution engine. Providers deliver responses as a lazy stream of
// chunks; the engine merges them with the streaming package.
package llm

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MetadataPreserved marks messages that must survive memory pruning,
// such as compression summaries.
const MetadataPreserved = "memory_preserved"

// ToolCall is a fully merged tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult carries the outcome of one tool call back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role        Role           `json:"role"`
	Text        string         `json:"text,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CharCount returns the serialized length of the message, used by the
// character-budgeted memory service.
func (m *Message) CharCount() int {
	n := len(m.Text)
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	for _, tr := range m.ToolResults {
		n += len(tr.Output)
	}
	return n
}

// IsPreserved reports whether the message carries the preservation flag.
func (m *Message) IsPreserved() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetadataPreserved].(bool)
	return ok && v
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a single streaming chat completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int64
}

// ToolCallDelta is a partial tool-call fragment inside a chunk. The ID
// establishes identity: a later delta with the same ID appends to the
// arguments of the call started earlier.
type ToolCallDelta struct {
	ID             string
	Name           string
	ArgumentsDelta string
}

// Chunk is one increment of a streamed model response.
type Chunk struct {
	TextDelta      string
	ToolCallDeltas []ToolCallDelta
}

// Stream yields response chunks until io.EOF.
type Stream interface {
	// Recv returns the next chunk, or io.EOF when the response is complete.
	Recv() (*Chunk, error)
}

// Model is a streaming chat completion provider.
type Model interface {
	// Name returns the provider model identifier, e.g. "claude-sonnet-4-5".
	Name() string

	// StreamChat opens a streaming completion for the request.
	StreamChat(ctx context.Context, req Request) (Stream, error)
}
