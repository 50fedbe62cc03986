package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/core/internal/approval"
	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/channel"
	"github.com/nexuscore/core/internal/labels"
	"github.com/nexuscore/core/internal/memory"
	"github.com/nexuscore/core/internal/netguard"
	"github.com/nexuscore/core/internal/provider"
	"github.com/nexuscore/core/internal/resilience"
	"github.com/nexuscore/core/internal/sandbox"
	"github.com/nexuscore/core/internal/secrets"
	"github.com/nexuscore/core/internal/sessions"
	"github.com/nexuscore/core/internal/tools"
)

// maxConversationIterations bounds the model↔tool conversation loop
// within a single turn, as a last-resort safety net beyond
// maxToolCallsPerTurn (a model that never stops calling tools would
// otherwise run the loop forever).
const maxConversationIterations = 25

// Orchestrator drives one session's conversation state machine (spec
// §4.11). Each session gets its own Orchestrator; state transitions are
// the serialisation point a session's turns advance through one at a
// time (spec §5).
type Orchestrator struct {
	sessionID string
	userID    string

	prov      provider.Provider
	executor  *tools.Executor
	approvals *approval.Manager
	store     *sessions.Store
	mem       *memory.Manager
	auditor   *audit.Logger
	detector  *secrets.Detector
	breaker   *resilience.Breaker

	cfg Config
	out chan<- channel.Outbound

	mu              sync.Mutex
	state           State
	turnNum         int
	queue           []string
	cancelCurrent   context.CancelFunc
	approvalWaiters map[string]chan approval.Decision
}

// NewOrchestrator builds an Orchestrator for one session. registry,
// guard, sandboxExec, mem, and breakers are shared across sessions; the
// approval manager and executor built here are session-scoped, since
// approval grants and in-flight waits are per session. mem and breakers
// may be nil (memory recall/write and provider circuit-breaking are then
// both skipped).
func NewOrchestrator(
	sessionID, userID string,
	prov provider.Provider,
	registry *tools.Registry,
	guard *netguard.Guard,
	sandboxExec *sandbox.Executor,
	store *sessions.Store,
	mem *memory.Manager,
	auditor *audit.Logger,
	breakers *resilience.Registry,
	cfg Config,
	out chan<- channel.Outbound,
) *Orchestrator {
	o := &Orchestrator{
		sessionID:       sessionID,
		userID:          userID,
		prov:            prov,
		store:           store,
		mem:             mem,
		auditor:         auditor,
		detector:        secrets.NewDetector(),
		cfg:             sanitizeConfig(cfg),
		out:             out,
		state:           StateIdle,
		approvalWaiters: make(map[string]chan approval.Decision),
	}
	if breakers != nil {
		o.breaker = breakers.Get("provider:" + prov.Name())
	}
	o.approvals = approval.NewManager(&sessionPrompter{o: o}, auditor)
	o.executor = tools.NewExecutor(registry, o.approvals, guard, sandboxExec, auditor)
	return o
}

// State returns the orchestrator's current position in the state machine.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev channel.Outbound) {
	if o.out == nil {
		return
	}
	o.out <- ev
}

// Handle dispatches one inbound channel event: a user_message starts or
// queues a turn, approval_response resolves a pending approval wait, and
// cancel aborts the in-flight turn.
func (o *Orchestrator) Handle(ctx context.Context, ev channel.Inbound) {
	switch ev.Type {
	case channel.InboundUserMessage:
		o.handleUserMessage(ctx, ev.Content)
	case channel.InboundApprovalResponse:
		o.resolveApproval(ev)
	case channel.InboundCancel:
		o.mu.Lock()
		cancel := o.cancelCurrent
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

func (o *Orchestrator) handleUserMessage(ctx context.Context, content string) {
	o.mu.Lock()
	if o.state != StateIdle {
		if len(o.queue) >= o.cfg.MaxQueueSize {
			o.mu.Unlock()
			o.emit(channel.Outbound{
				Type: channel.OutboundError, Code: "busy",
				Message: "turn in progress and queue is full", Recoverable: true,
			})
			return
		}
		o.queue = append(o.queue, content)
		o.mu.Unlock()
		return
	}
	if o.cfg.MaxTurns > 0 && o.turnNum >= o.cfg.MaxTurns {
		o.mu.Unlock()
		o.emit(channel.Outbound{
			Type: channel.OutboundError, Code: "max_turns",
			Message: "session reached its turn limit", Recoverable: false,
		})
		return
	}
	o.state = StateProcessing
	o.mu.Unlock()

	go o.runTurn(ctx, content)
}

// runTurn executes the per-turn algorithm of spec §4.11 steps 2-4.
func (o *Orchestrator) runTurn(parentCtx context.Context, content string) {
	turnCtx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	o.mu.Lock()
	o.turnNum++
	turn := &Turn{Number: o.turnNum, StartTime: time.Now()}
	o.cancelCurrent = cancel
	o.mu.Unlock()

	messages := o.loadHistory()

	if err := o.store.AppendMessage(o.sessionID, sessions.Message{
		ID: uuid.NewString(), Role: "user", Content: content, CreatedAt: time.Now(),
	}); err != nil {
		o.auditPersistFailure(err)
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: content})

	system := o.cfg.System
	if o.mem != nil {
		o.mem.Working(o.sessionID).Append(memory.WorkingMessage{
			Role: "user", Content: content,
			Label: labels.Label{TrustLevel: labels.User, DataClass: labels.Internal, Source: labels.Source{OriginID: o.userID, Timestamp: time.Now()}},
		})
		system += o.recallMemory(turnCtx, content)
	}

	opts := provider.Options{Model: o.cfg.Model, System: system, MaxTokens: 4096}

	var finalText string
	var turnErr error

	for iter := 0; iter < maxConversationIterations; iter++ {
		if turnCtx.Err() != nil {
			turnErr = turnCtx.Err()
			break
		}

		o.setState(StateStreaming)
		streamID := uuid.NewString()
		o.emit(channel.Outbound{Type: channel.OutboundStreamStart, StreamID: streamID})

		events, err := o.streamMessage(turnCtx, messages, opts)
		if err != nil {
			o.emit(channel.Outbound{Type: channel.OutboundError, Code: "provider_error", Message: err.Error(), Recoverable: true})
			turnErr = err
			break
		}

		asm := newAssembler()
		var stopReason provider.StopReason
		var usage provider.Usage
		var toolCalls []finishedToolCall
		streamFailed := false

		for ev := range events {
			if turnCtx.Err() != nil {
				streamFailed = true
			}
			switch ev.Type {
			case provider.EventContentBlockStart:
				asm.onBlockStart(ev)
			case provider.EventContentBlockDelta:
				asm.onDelta(ev)
				if ev.Delta != nil && ev.Delta.Type == provider.DeltaText {
					o.emit(channel.Outbound{Type: channel.OutboundStreamDelta, StreamID: streamID, Delta: ev.Delta.Text})
				}
			case provider.EventContentBlockStop:
				if finished, ok := asm.onBlockStop(ev); ok {
					if finished.ParseError {
						o.auditParseError(finished)
					}
					toolCalls = append(toolCalls, finished)
				}
			case provider.EventMessageDelta:
				stopReason = ev.StopReason
				if ev.Usage != nil {
					usage = *ev.Usage
				}
			}
		}
		if turnCtx.Err() != nil {
			streamFailed = true
		}
		o.emit(channel.Outbound{Type: channel.OutboundStreamEnd, StreamID: streamID})

		turn.Usage.InputTokens += usage.InputTokens
		turn.Usage.OutputTokens += usage.OutputTokens

		if streamFailed {
			for _, ftc := range asm.incomplete() {
				turn.ToolCalls = append(turn.ToolCalls, ToolCallRecord{ID: ftc.ID, Name: ftc.Name, Cancelled: true})
			}
			turnErr = turnCtx.Err()
			break
		}

		if stopReason != provider.StopToolUse {
			finalText = asm.Text()
			break
		}

		assistantMsg := provider.Message{Role: provider.RoleAssistant, Content: asm.Text()}
		toolResultsMsg := provider.Message{Role: provider.RoleTool}

		bounded := toolCalls
		if len(bounded) > o.cfg.MaxToolCallsPerTurn {
			o.auditDroppedToolCalls(len(bounded) - o.cfg.MaxToolCallsPerTurn)
			bounded = bounded[:o.cfg.MaxToolCallsPerTurn]
		}

		for _, ftc := range bounded {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, provider.ToolUse{ID: ftc.ID, Name: ftc.Name, Input: ftc.Args})

			if ftc.ParseError {
				rec := ToolCallRecord{ID: ftc.ID, Name: ftc.Name, ParseError: true, Output: "malformed tool input JSON"}
				turn.ToolCalls = append(turn.ToolCalls, rec)
				toolResultsMsg.ToolResults = append(toolResultsMsg.ToolResults, provider.ToolResult{ToolUseID: ftc.ID, Content: rec.Output, IsError: true})
				continue
			}

			redactedArgs := o.detector.Redact(string(ftc.Args)).Redacted
			o.emit(channel.Outbound{Type: channel.OutboundToolUse, ToolCallID: ftc.ID, ToolName: ftc.Name, Args: redactedArgs})

			o.setState(StateExecutingTool)
			callStart := time.Now()
			result := o.executor.Call(turnCtx, ftc.Name, ftc.Args, tools.ExecContext{SessionID: o.sessionID, UserID: o.userID})
			o.setState(StateProcessing)

			rec := ToolCallRecord{
				ID: ftc.ID, Name: ftc.Name, Args: redactedArgs,
				Success: result.Success, Output: result.Output,
				DurationMs: time.Since(callStart).Milliseconds(), Label: result.Label,
			}
			if !result.Success && rec.Output == "" {
				rec.Output = result.Reason
			}
			turn.ToolCalls = append(turn.ToolCalls, rec)

			o.emit(channel.Outbound{Type: channel.OutboundToolResult, ToolCallID: ftc.ID, ToolName: ftc.Name, Success: result.Success, Output: rec.Output})
			o.persistToolExchange(ftc.Name, redactedArgs, rec)

			toolResultsMsg.ToolResults = append(toolResultsMsg.ToolResults, provider.ToolResult{ToolUseID: ftc.ID, Content: rec.Output, IsError: !result.Success})
		}

		messages = append(messages, assistantMsg, toolResultsMsg)
	}

	if turnErr != nil {
		turn.Error = turnErr.Error()
		o.emit(channel.Outbound{Type: channel.OutboundError, Code: "turn_failed", Message: turnErr.Error(), Recoverable: true})
	} else {
		if err := o.store.AppendMessage(o.sessionID, sessions.Message{
			ID: uuid.NewString(), Role: "assistant", Content: finalText, CreatedAt: time.Now(),
		}); err != nil {
			o.auditPersistFailure(err)
		}
		o.emit(channel.Outbound{Type: channel.OutboundAssistantMessage, Content: finalText})

		if o.mem != nil {
			o.mem.Working(o.sessionID).Append(memory.WorkingMessage{
				Role: "assistant", Content: finalText,
				Label: labels.Label{TrustLevel: labels.Verified, DataClass: labels.Internal, Source: labels.Source{OriginID: "assistant", Timestamp: time.Now()}},
			})
			o.rememberTurn(turn.Number, content, finalText)
		}
	}

	o.finalizeTurn(turn)
}

// streamMessage runs the provider's streaming call through this
// session's circuit breaker (spec §4.13), when one is configured.
func (o *Orchestrator) streamMessage(ctx context.Context, messages []provider.Message, opts provider.Options) (<-chan provider.StreamEvent, error) {
	if o.breaker == nil {
		return o.prov.CreateMessageStream(ctx, messages, opts)
	}
	return resilience.ExecuteWithResult(o.breaker, ctx, func(ctx context.Context) (<-chan provider.StreamEvent, error) {
		return o.prov.CreateMessageStream(ctx, messages, opts)
	})
}

// recallMemory answers the read-before-turn half of spec §2's memory
// lifecycle: a combined episodic/semantic query folded into the turn's
// system prompt as brief context, never injected verbatim into the
// conversation history itself.
func (o *Orchestrator) recallMemory(ctx context.Context, content string) string {
	entries, err := o.mem.Query(ctx, memory.Request{RequesterID: o.userID, UserID: o.userID, Query: content, Limit: 5})
	if err != nil || len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRelevant memory:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s\n", e.Content)
	}
	return b.String()
}

// rememberTurn answers the write-after-turn half: the exchange is
// folded into durable episodic memory so a later turn's recallMemory
// can surface it.
func (o *Orchestrator) rememberTurn(turnNumber int, content, finalText string) {
	_, err := o.mem.Episodic().Add(context.Background(), memory.EpisodicAddRequest{
		UserID:       o.userID,
		SessionID:    o.sessionID,
		TurnNumber:   turnNumber,
		Content:      fmt.Sprintf("user: %s\nassistant: %s", content, finalText),
		Participants: []string{o.userID},
		Category:     memory.CategoryOther,
		CreatedBy:    o.userID,
	})
	if err != nil {
		o.auditPersistFailure(err)
	}
}

// finalizeTurn updates session usage/cost totals, emits turnComplete, and
// returns the orchestrator to idle, picking up the next queued message.
func (o *Orchestrator) finalizeTurn(turn *Turn) {
	turn.EndTime = time.Now()
	turn.CostUSD = estimateCostUSD(o.cfg.Model, turn.Usage)

	if err := o.store.UpdateState(o.sessionID, func(s *sessions.Session) {
		s.Totals.InputTokens += int64(turn.Usage.InputTokens)
		s.Totals.OutputTokens += int64(turn.Usage.OutputTokens)
		s.Totals.CostUSD += turn.CostUSD
	}); err != nil {
		o.auditPersistFailure(err)
	}

	o.emit(channel.Outbound{
		Type: channel.OutboundTurnComplete, TurnNumber: turn.Number,
		InputTokens: turn.Usage.InputTokens, OutputTokens: turn.Usage.OutputTokens,
		CostUSD: turn.CostUSD, TurnError: turn.Error,
	})

	o.mu.Lock()
	o.cancelCurrent = nil
	var next string
	if len(o.queue) > 0 {
		next = o.queue[0]
		o.queue = o.queue[1:]
	}
	o.state = StateIdle
	o.mu.Unlock()

	if next != "" {
		o.handleUserMessage(context.Background(), next)
	}
}

// loadHistory converts the session's persisted user/assistant/system
// messages into provider history. tool_call/tool_result records are kept
// in the session log as an audit trail but are not replayed into a new
// turn's provider context — only the in-flight turn's own tool exchanges
// carry structured ToolUse/ToolResult data.
func (o *Orchestrator) loadHistory() []provider.Message {
	_, msgs, err := o.store.Get(o.sessionID)
	if err != nil {
		return nil
	}
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, provider.Message{Role: provider.RoleUser, Content: m.Content})
		case "assistant":
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: m.Content})
		}
	}
	return out
}

func (o *Orchestrator) persistToolExchange(name, redactedArgs string, rec ToolCallRecord) {
	now := time.Now()
	callPayload, _ := json.Marshal(map[string]any{"name": name, "args": redactedArgs})
	if err := o.store.AppendMessage(o.sessionID, sessions.Message{
		ID: uuid.NewString(), Role: "tool_call", Content: string(callPayload), CreatedAt: now,
	}); err != nil {
		o.auditPersistFailure(err)
	}
	if err := o.store.AppendMessage(o.sessionID, sessions.Message{
		ID: uuid.NewString(), Role: "tool_result", Content: rec.Output, CreatedAt: now,
	}); err != nil {
		o.auditPersistFailure(err)
	}
}

func (o *Orchestrator) auditParseError(ftc finishedToolCall) {
	if o.auditor == nil {
		return
	}
	o.auditor.Log(audit.Entry{
		Category: "orchestrator", Action: "tool_call_parse_error", Severity: audit.SeverityWarn,
		Metadata: map[string]any{"sessionId": o.sessionID, "tool": ftc.Name, "toolCallId": ftc.ID},
	})
}

func (o *Orchestrator) auditDroppedToolCalls(n int) {
	if o.auditor == nil {
		return
	}
	o.auditor.Log(audit.Entry{
		Category: "orchestrator", Action: "tool_calls_dropped_max_per_turn", Severity: audit.SeverityWarn,
		Metadata: map[string]any{"sessionId": o.sessionID, "dropped": n},
	})
}

func (o *Orchestrator) auditPersistFailure(err error) {
	if o.auditor == nil {
		return
	}
	o.auditor.Log(audit.Entry{
		Category: "orchestrator", Action: "persist_failed", Severity: audit.SeverityError,
		Metadata: map[string]any{"sessionId": o.sessionID, "error": err.Error()},
	})
}
