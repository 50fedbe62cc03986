package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/nexuscore/core/internal/provider"
)

// pendingToolCall accumulates one tool-use block's input_json_delta
// chunks until its content_block_stop arrives.
type pendingToolCall struct {
	id   string
	name string
	json strings.Builder
}

// assembler buffers a streamed response's text and tool-use blocks by
// block index, matching each content_block_delta to the block its index
// started (spec §4.11 step 3a's "tool-call assembler").
type assembler struct {
	textBuf strings.Builder
	tools   map[int]*pendingToolCall
}

func newAssembler() *assembler {
	return &assembler{tools: make(map[int]*pendingToolCall)}
}

func (a *assembler) onBlockStart(ev provider.StreamEvent) {
	if ev.Block == nil {
		return
	}
	if ev.Block.Type == provider.BlockToolUse && ev.Block.ToolUse != nil {
		a.tools[ev.Index] = &pendingToolCall{id: ev.Block.ToolUse.ID, name: ev.Block.ToolUse.Name}
	}
}

func (a *assembler) onDelta(ev provider.StreamEvent) {
	if ev.Delta == nil {
		return
	}
	switch ev.Delta.Type {
	case provider.DeltaText:
		a.textBuf.WriteString(ev.Delta.Text)
	case provider.DeltaInputJSON:
		if pc, ok := a.tools[ev.Index]; ok {
			pc.json.WriteString(ev.Delta.PartialJSON)
		}
	}
}

// finishedToolCall is a finalised tool-use block, produced when its
// content_block_stop arrives.
type finishedToolCall struct {
	Index      int
	ID         string
	Name       string
	Args       json.RawMessage
	ParseError bool
}

// onBlockStop finalises the tool call at ev.Index, if any was open there.
// Malformed JSON is reported via ParseError rather than returned as an
// error, so the caller can fail just that call and keep going.
func (a *assembler) onBlockStop(ev provider.StreamEvent) (finishedToolCall, bool) {
	pc, ok := a.tools[ev.Index]
	if !ok {
		return finishedToolCall{}, false
	}
	delete(a.tools, ev.Index)

	raw := pc.json.String()
	if raw == "" {
		raw = "{}"
	}
	out := finishedToolCall{Index: ev.Index, ID: pc.id, Name: pc.name}
	if !json.Valid([]byte(raw)) {
		out.ParseError = true
		out.Args = json.RawMessage("{}")
		return out, true
	}
	out.Args = json.RawMessage(raw)
	return out, true
}

// Text returns the accumulated text content.
func (a *assembler) Text() string {
	return a.textBuf.String()
}

// incomplete returns every tool call still open (no content_block_stop
// arrived), for stream-level error handling.
func (a *assembler) incomplete() []finishedToolCall {
	out := make([]finishedToolCall, 0, len(a.tools))
	for idx, pc := range a.tools {
		out = append(out, finishedToolCall{Index: idx, ID: pc.id, Name: pc.name})
	}
	return out
}
