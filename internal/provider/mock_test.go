package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_CreateMessageReturnsScriptedText(t *testing.T) {
	m := NewMock(ScriptedTurn{Text: "hello there"})
	resp, err := m.CreateMessage(context.Background(), nil, Options{Model: "test"})
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello there", resp.Content[0].Text)
}

func TestMock_CreateMessageDefaultsStopReasonToToolUse(t *testing.T) {
	m := NewMock(ScriptedTurn{ToolCalls: []ToolUse{{ID: "1", Name: "search", Input: json.RawMessage(`{}`)}}})
	resp, err := m.CreateMessage(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StopToolUse, resp.StopReason)
}

func TestMock_CreateMessageStreamEmitsOrderedEvents(t *testing.T) {
	m := NewMock(ScriptedTurn{Text: "streamed"})
	events, err := m.CreateMessageStream(context.Background(), nil, Options{})
	require.NoError(t, err)

	var seen []EventType
	for ev := range events {
		seen = append(seen, ev.Type)
	}
	assert.Equal(t, []EventType{
		EventMessageStart,
		EventContentBlockStart,
		EventContentBlockDelta,
		EventContentBlockStop,
		EventMessageDelta,
	}, seen)
}

func TestMock_ReplaysEachScriptedTurnInOrder(t *testing.T) {
	m := NewMock(ScriptedTurn{Text: "first"}, ScriptedTurn{Text: "second"})
	r1, _ := m.CreateMessage(context.Background(), nil, Options{})
	r2, _ := m.CreateMessage(context.Background(), nil, Options{})
	r3, _ := m.CreateMessage(context.Background(), nil, Options{})

	assert.Equal(t, "first", r1.Content[0].Text)
	assert.Equal(t, "second", r2.Content[0].Text)
	assert.Equal(t, "second", r3.Content[0].Text) // exhausted, repeats last
}
