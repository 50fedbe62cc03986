package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscore/core/internal/capability"
	"github.com/nexuscore/core/internal/channel"
	"github.com/nexuscore/core/internal/netguard"
	"github.com/nexuscore/core/internal/provider"
	"github.com/nexuscore/core/internal/secrets"
	"github.com/nexuscore/core/internal/sessions"
	"github.com/nexuscore/core/internal/tools"
)

type echoTool struct {
	cap    capability.ToolCapability
	output string
}

func (t *echoTool) Name() string                         { return t.cap.Name }
func (t *echoTool) Capability() capability.ToolCapability { return t.cap }
func (t *echoTool) Run(ctx context.Context, args json.RawMessage, ec tools.ExecContext) (string, error) {
	return t.output, nil
}

func toolCapability(name string, level capability.ApprovalLevel) capability.ToolCapability {
	return capability.ToolCapability{
		Name:      name,
		Schema:    json.RawMessage(`{"type":"object"}`),
		Actions:   []capability.Action{{Name: "tool:" + name}},
		Approval:  capability.ApprovalPolicy{Level: level},
		Execution: capability.ExecutionPolicy{Sandbox: capability.SandboxNone, OutputCap: 4096},
		Labels:    capability.LabelsPolicy{OutputTrust: "untrusted", OutputDataClass: "internal"},
		Audit:     capability.AuditPolicy{LogArgs: true},
	}
}

func newTestOrchestrator(t *testing.T, prov provider.Provider, reg *tools.Registry) (*Orchestrator, chan channel.Outbound) {
	t.Helper()
	store, err := sessions.NewStore(t.TempDir(), secrets.NewDetector())
	require.NoError(t, err)
	require.NoError(t, store.Create(sessions.Session{ID: "s1", Model: "mock"}))

	if reg == nil {
		reg = tools.NewRegistry()
	}
	guard := netguard.NewGuard(netguard.DefaultConfig())
	out := make(chan channel.Outbound, 64)
	o := NewOrchestrator("s1", "u1", prov, reg, guard, nil, store, nil, nil, nil, Config{Model: "mock"}, out)
	return o, out
}

func collectUntil(t *testing.T, out <-chan channel.Outbound, stop channel.OutboundType, timeout time.Duration) []channel.Outbound {
	t.Helper()
	var events []channel.Outbound
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-out:
			events = append(events, ev)
			if ev.Type == stop {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, got %v", stop, events)
		}
	}
}

func TestOrchestrator_SimpleTurnEmitsOrderedEventsAndPersists(t *testing.T) {
	prov := provider.NewMock(provider.ScriptedTurn{Text: "hello there", Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}})
	o, out := newTestOrchestrator(t, prov, nil)

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "hi"})

	events := collectUntil(t, out, channel.OutboundTurnComplete, time.Second)
	var types []channel.OutboundType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []channel.OutboundType{
		channel.OutboundStreamStart,
		channel.OutboundStreamDelta,
		channel.OutboundStreamEnd,
		channel.OutboundAssistantMessage,
		channel.OutboundTurnComplete,
	}, types)

	assert.Equal(t, StateIdle, o.State())

	meta, msgs, err := o.store.Get("s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello there", msgs[1].Content)
	assert.EqualValues(t, 10, meta.Totals.InputTokens)
	assert.EqualValues(t, 5, meta.Totals.OutputTokens)
}

func TestOrchestrator_ToolUseFlowRunsExecutorAndContinues(t *testing.T) {
	reg := tools.NewRegistry()
	tool := &echoTool{cap: toolCapability("echo", capability.ApprovalAuto), output: "tool ran"}
	require.NoError(t, reg.Register(tool))

	prov := provider.NewMock(
		provider.ScriptedTurn{ToolCalls: []provider.ToolUse{{ID: "tc1", Name: "echo", Input: json.RawMessage(`{"x":1}`)}}},
		provider.ScriptedTurn{Text: "done"},
	)
	o, out := newTestOrchestrator(t, prov, reg)

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "run echo"})

	events := collectUntil(t, out, channel.OutboundTurnComplete, time.Second)
	var types []channel.OutboundType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, channel.OutboundToolUse)
	assert.Contains(t, types, channel.OutboundToolResult)
	assert.Contains(t, types, channel.OutboundAssistantMessage)

	for _, ev := range events {
		if ev.Type == channel.OutboundToolResult {
			assert.True(t, ev.Success)
			assert.Equal(t, "tool ran", ev.Output)
		}
	}

	_, msgs, err := o.store.Get("s1")
	require.NoError(t, err)
	var sawToolCall, sawToolResult bool
	for _, m := range msgs {
		if m.Role == "tool_call" {
			sawToolCall = true
		}
		if m.Role == "tool_result" {
			sawToolResult = true
			assert.Equal(t, "tool ran", m.Content)
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)
}

func TestOrchestrator_AskApprovalWaitsForInboundResponse(t *testing.T) {
	reg := tools.NewRegistry()
	tool := &echoTool{cap: toolCapability("danger", capability.ApprovalAsk), output: "did it"}
	require.NoError(t, reg.Register(tool))

	prov := provider.NewMock(
		provider.ScriptedTurn{ToolCalls: []provider.ToolUse{{ID: "tc1", Name: "danger", Input: json.RawMessage(`{}`)}}},
		provider.ScriptedTurn{Text: "done"},
	)
	o, out := newTestOrchestrator(t, prov, reg)

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "run danger"})

	var approvalID string
	deadline := time.After(time.Second)
waitApproval:
	for {
		select {
		case ev := <-out:
			if ev.Type == channel.OutboundApprovalRequired {
				approvalID = ev.ApprovalID
				break waitApproval
			}
		case <-deadline:
			t.Fatal("timed out waiting for approval_required")
		}
	}
	require.NotEmpty(t, approvalID)
	assert.Equal(t, StateWaitingApproval, o.State())

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundApprovalResponse, ApprovalID: approvalID, Granted: true})

	events := collectUntil(t, out, channel.OutboundTurnComplete, time.Second)
	var sawSuccess bool
	for _, ev := range events {
		if ev.Type == channel.OutboundToolResult {
			sawSuccess = ev.Success
		}
	}
	assert.True(t, sawSuccess)
}

// blockingProvider streams one tool-call block that never stops, and
// only closes its event channel once released, to exercise queueing and
// cancellation deterministically.
type blockingProvider struct {
	release chan struct{}
}

func (b *blockingProvider) Name() string { return "blocking" }

func (b *blockingProvider) CreateMessage(ctx context.Context, messages []provider.Message, opts provider.Options) (provider.Response, error) {
	return provider.Response{StopReason: provider.StopEndTurn}, nil
}

func (b *blockingProvider) CreateMessageStream(ctx context.Context, messages []provider.Message, opts provider.Options) (<-chan provider.StreamEvent, error) {
	events := make(chan provider.StreamEvent, 4)
	go func() {
		defer close(events)
		events <- provider.StreamEvent{Type: provider.EventMessageStart}
		events <- provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: &provider.ContentBlock{Type: provider.BlockToolUse, ToolUse: &provider.ToolUse{ID: "tc1", Name: "slow"}}}
		select {
		case <-b.release:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

var _ provider.Provider = (*blockingProvider)(nil)

func TestOrchestrator_QueuesWhileBusyAndRejectsWhenFull(t *testing.T) {
	prov := &blockingProvider{release: make(chan struct{})}
	o, out := newTestOrchestrator(t, prov, nil)
	o.cfg.MaxQueueSize = 1

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "first"})
	// Give the turn goroutine time to move off idle.
	require.Eventually(t, func() bool { return o.State() != StateIdle }, time.Second, time.Millisecond)

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "second"})
	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "third"})

	var busy channel.Outbound
	require.Eventually(t, func() bool {
		select {
		case ev := <-out:
			if ev.Type == channel.OutboundError && ev.Code == "busy" {
				busy = ev
				return true
			}
		default:
		}
		return false
	}, time.Second, time.Millisecond)
	assert.Equal(t, "busy", busy.Code)
	assert.True(t, busy.Recoverable)

	close(prov.release)
}

func TestOrchestrator_CancelFailsIncompleteToolCalls(t *testing.T) {
	prov := &blockingProvider{release: make(chan struct{})}
	o, out := newTestOrchestrator(t, prov, nil)

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundUserMessage, Content: "go"})
	require.Eventually(t, func() bool { return o.State() != StateIdle }, time.Second, time.Millisecond)

	o.Handle(context.Background(), channel.Inbound{Type: channel.InboundCancel})

	require.Eventually(t, func() bool { return o.State() == StateIdle }, time.Second, time.Millisecond)

	drained := false
	for !drained {
		select {
		case ev := <-out:
			if ev.Type == channel.OutboundTurnComplete {
				assert.NotEmpty(t, ev.TurnError)
			}
		default:
			drained = true
		}
	}
}
