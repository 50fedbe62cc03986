// Package provider defines the uniform surface the orchestrator (C11)
// drives every model backend through (spec §4.10, C10). Concrete
// backends (a remote API client, a mock for tests) live outside this
// package; it only owns the interface and its wire-level types.
package provider

import (
	"context"
	"encoding/json"
)

// StopReason is why a CreateMessage call stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Role is who a Message is attributed to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation history passed to a provider.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolUse    `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolUse is a model-requested tool invocation.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolUse, fed back to the model.
type ToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

// ToolDef describes a tool the model may call.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Options configures a completion request.
type Options struct {
	Model     string
	System    string
	Tools     []ToolDef
	MaxTokens int
}

// BlockType distinguishes a Response's content blocks.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// ContentBlock is one piece of a Response's content.
type ContentBlock struct {
	Type    BlockType `json:"type"`
	Text    string    `json:"text,omitempty"`
	ToolUse *ToolUse  `json:"toolUse,omitempty"`
}

// Response is the result of a non-streaming completion.
type Response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stopReason"`
	Usage      Usage          `json:"usage"`
}

// EventType distinguishes a StreamEvent's payload.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
)

// DeltaType distinguishes the two shapes a content_block_delta carries.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// Delta is the incremental payload of a content_block_delta event.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partialJson,omitempty"`
}

// StreamEvent is one event of a CreateMessageStream sequence (spec
// §4.10/§4.11): message_start, content_block_start, content_block_delta,
// content_block_stop, message_delta, in that regular structure.
type StreamEvent struct {
	Type       EventType     `json:"type"`
	Index      int           `json:"index,omitempty"`
	Block      *ContentBlock `json:"block,omitempty"`
	Delta      *Delta        `json:"delta,omitempty"`
	StopReason StopReason    `json:"stopReason,omitempty"`
	Usage      *Usage        `json:"usage,omitempty"`
}

// Provider is the uniform interface every model backend implements.
// Implementations must be safe for concurrent use.
type Provider interface {
	// CreateMessage runs a single non-streaming completion.
	CreateMessage(ctx context.Context, messages []Message, opts Options) (Response, error)

	// CreateMessageStream runs a streaming completion, delivering events
	// on the returned channel until it is closed.
	CreateMessageStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error)

	// Name returns the provider's identifier (e.g. "anthropic", "mock").
	Name() string
}
