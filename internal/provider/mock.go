package provider

import (
	"context"
	"encoding/json"
)

// ScriptedTurn is one canned response a Mock replays in order.
type ScriptedTurn struct {
	Text       string
	ToolCalls  []ToolUse
	StopReason StopReason
	Usage      Usage
}

// Mock is a scripted Provider for orchestrator and tool-loop tests: it
// supplies fixed content and tool calls rather than talking to a real
// model backend.
type Mock struct {
	turns []ScriptedTurn
	next  int
}

var _ Provider = (*Mock)(nil)

// NewMock builds a Mock that replays turns in order, repeating the last
// one once exhausted.
func NewMock(turns ...ScriptedTurn) *Mock {
	return &Mock{turns: turns}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) currentTurn() ScriptedTurn {
	if len(m.turns) == 0 {
		return ScriptedTurn{Text: "ok", StopReason: StopEndTurn}
	}
	idx := m.next
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	m.next++
	return m.turns[idx]
}

// CreateMessage returns the next scripted turn as a single Response.
func (m *Mock) CreateMessage(ctx context.Context, messages []Message, opts Options) (Response, error) {
	turn := m.currentTurn()
	resp := Response{
		ID:         "mock-response",
		Model:      opts.Model,
		StopReason: stopReasonOrDefault(turn),
		Usage:      turn.Usage,
	}
	if turn.Text != "" {
		resp.Content = append(resp.Content, ContentBlock{Type: BlockText, Text: turn.Text})
	}
	for i := range turn.ToolCalls {
		tc := turn.ToolCalls[i]
		resp.Content = append(resp.Content, ContentBlock{Type: BlockToolUse, ToolUse: &tc})
	}
	return resp, nil
}

// CreateMessageStream replays the next scripted turn as a
// message_start/content_block_*/message_delta event sequence matching
// P-ORDER.
func (m *Mock) CreateMessageStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamEvent, error) {
	turn := m.currentTurn()
	events := make(chan StreamEvent, 8)

	go func() {
		defer close(events)
		events <- StreamEvent{Type: EventMessageStart}

		index := 0
		if turn.Text != "" {
			events <- StreamEvent{Type: EventContentBlockStart, Index: index, Block: &ContentBlock{Type: BlockText}}
			events <- StreamEvent{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaText, Text: turn.Text}}
			events <- StreamEvent{Type: EventContentBlockStop, Index: index}
			index++
		}
		for i := range turn.ToolCalls {
			tc := turn.ToolCalls[i]
			events <- StreamEvent{Type: EventContentBlockStart, Index: index, Block: &ContentBlock{Type: BlockToolUse, ToolUse: &ToolUse{ID: tc.ID, Name: tc.Name}}}
			partial, _ := json.Marshal(tc.Input)
			events <- StreamEvent{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaInputJSON, PartialJSON: string(partial)}}
			events <- StreamEvent{Type: EventContentBlockStop, Index: index}
			index++
		}

		reason := stopReasonOrDefault(turn)
		usage := turn.Usage
		events <- StreamEvent{Type: EventMessageDelta, StopReason: reason, Usage: &usage}
	}()

	return events, nil
}

func stopReasonOrDefault(turn ScriptedTurn) StopReason {
	if turn.StopReason != "" {
		return turn.StopReason
	}
	if len(turn.ToolCalls) > 0 {
		return StopToolUse
	}
	return StopEndTurn
}
