package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nexuscore/core/internal/approval"
	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/capability"
	"github.com/nexuscore/core/internal/labels"
	"github.com/nexuscore/core/internal/netguard"
	"github.com/nexuscore/core/internal/sandbox"
	"github.com/nexuscore/core/internal/secrets"
)

// Executor is the single choke point for tool calls (spec §4.6). It owns
// no tool-specific logic — every stage of the pipeline is generic over
// the capability document.
type Executor struct {
	registry  *Registry
	approvals *approval.Manager
	netguard  *netguard.Guard
	sandbox   *sandbox.Executor
	detector  *secrets.Detector
	auditor   *audit.Logger
}

// NewExecutor wires the pipeline's dependencies. sandboxExec may be nil
// if nothing in the registry declares a non-none sandbox level; Call
// fails closed with "sandbox_unavailable" for any tool that does.
func NewExecutor(registry *Registry, approvals *approval.Manager, guard *netguard.Guard, sandboxExec *sandbox.Executor, auditor *audit.Logger) *Executor {
	return &Executor{
		registry:  registry,
		approvals: approvals,
		netguard:  guard,
		sandbox:   sandboxExec,
		detector:  secrets.NewDetector(),
		auditor:   auditor,
	}
}

// scopedSandbox pins the isolation level a tool may run at to the level
// its own capability declared, so a tool can choose the command but not
// escalate past what the executor already decided for it.
type scopedSandbox struct {
	exec  *sandbox.Executor
	level sandbox.Level
}

func (s *scopedSandbox) Run(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	req.Level = s.level
	if req.Limits == (sandbox.Limits{}) {
		req.Limits = sandbox.DefaultLimits()
	}
	return s.exec.Run(ctx, req)
}

func sandboxLevelFrom(l capability.SandboxLevel) sandbox.Level {
	switch l {
	case capability.SandboxProcess:
		return sandbox.LevelProcess
	case capability.SandboxContainer:
		return sandbox.LevelContainer
	default:
		return sandbox.LevelNone
	}
}

// Call runs the full validate→approve→network-guard→execute→redact→
// truncate→label→audit pipeline for one (tool, rawArgs) pair. It never
// panics or returns a raw error across its boundary for tool-side
// failures — those are reported inside CallResult.
func (e *Executor) Call(ctx context.Context, toolName string, rawArgs json.RawMessage, execCtx ExecContext) CallResult {
	start := time.Now()

	tool, schema, ok := e.registry.Get(toolName)
	if !ok {
		return failure("tool not found: "+toolName, start)
	}
	toolCap := tool.Capability()

	// 1. Validate.
	if err := schema.ValidateArgs(rawArgs); err != nil {
		e.auditTool("tool_denied", toolCap, execCtx, rawArgs, "invalid_args", start)
		return failure("invalid_args", start)
	}

	fields := parseArgFields(rawArgs)

	// 2 & 3. Compute and resolve required approvals.
	if level := toolCap.Approval.Level; level == capability.ApprovalAsk || level == capability.ApprovalAlways || needsApproval(toolCap, rawArgs, fields) {
		id := approvalID(toolCap, fields, rawArgs, level)
		req := approval.Request{
			ID:        id,
			SessionID: execCtx.SessionID,
			Tool:      toolName,
			Action:    firstAction(toolCap),
			Target:    fields.Target(),
			Level:     approval.Level(level),
		}
		decision, err := e.approvals.Request(ctx, req)
		if err != nil || decision != approval.Granted {
			e.auditTool("tool_denied", toolCap, execCtx, rawArgs, "approval_denied", start)
			return failure("approval_denied", start)
		}
	}

	// 4. Network guard, for tools declaring a network policy.
	if toolCap.Network != nil && fields.URL != "" {
		toolPolicy := &netguard.ToolPolicy{
			Mode:                   netguard.ToolPolicyMode(toolCap.Network.Mode),
			AllowedHosts:           toolCap.Network.AllowedHosts,
			BlockedHosts:           toolCap.Network.BlockedHosts,
			BlockedPorts:           toolCap.Network.BlockedPorts,
			BlockPrivateIPs:        toolCap.Network.BlockPrivateIPs,
			BlockMetadataEndpoints: toolCap.Network.BlockMetadataEndpoints,
		}
		method := fields.Method
		if method == "" {
			method = "GET"
		}
		res, err := e.netguard.Check(ctx, fields.URL, method, toolPolicy)
		if err != nil || !res.Allowed {
			reason := "policy_blocked"
			if err == nil {
				reason = res.Reason
			}
			e.auditTool("tool_denied", toolCap, execCtx, rawArgs, reason, start)
			return failure(reason, start)
		}
	}

	// 5. Execute, routing through the sandbox when the capability demands
	// isolation (spec §4.6 step 5) — the level is fixed here, not left to
	// the tool, so a tool can't ask for more than its own capability grants.
	if toolCap.Execution.Sandbox != capability.SandboxNone {
		if e.sandbox == nil {
			e.auditTool("tool_error", toolCap, execCtx, rawArgs, "sandbox_unavailable", start)
			return failure("sandbox_unavailable", start)
		}
		execCtx.Sandbox = &scopedSandbox{exec: e.sandbox, level: sandboxLevelFrom(toolCap.Execution.Sandbox)}
	}

	output, runErr := tool.Run(ctx, rawArgs, execCtx)
	if runErr != nil {
		e.auditTool("tool_error", toolCap, execCtx, rawArgs, runErr.Error(), start)
		return failure("sandbox_failure", start)
	}

	// 6. Redact.
	redacted := e.detector.Redact(output)

	// 7. Truncate.
	outputCap := toolCap.Execution.OutputCap
	truncatedText := secrets.TruncateBytes(redacted.Redacted, outputCap)
	truncated := truncatedText != redacted.Redacted

	// 8. Label.
	outLabel := labels.LabelOutput(
		parseTrust(toolCap.Labels.OutputTrust),
		parseDataClass(toolCap.Labels.OutputDataClass),
		toolName,
		redacted.Findings,
	)

	// 9. Audit.
	summary := secrets.Summarize(redacted.Findings)
	e.auditCompletion(toolCap, execCtx, rawArgs, summary, outLabel, truncated, start)

	return CallResult{
		Success:    true,
		Output:     truncatedText,
		Truncated:  truncated,
		Findings:   summary,
		Label:      outLabel,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func firstAction(c capability.ToolCapability) string {
	if len(c.Actions) == 0 {
		return c.Name
	}
	return c.Actions[0].Name
}

func (f argFields) Target() string {
	if f.URL != "" {
		return f.URL
	}
	return f.Host
}

// approvalID derives the canonical dedup id. `always`-level calls mint a
// fresh id per call (hash of the full args) so they are never reused
// across calls, matching the one-shot semantics in spec §4.7.
func approvalID(c capability.ToolCapability, fields argFields, rawArgs json.RawMessage, level capability.ApprovalLevel) string {
	target := fields.Target()
	if target == "" || level == capability.ApprovalAlways {
		target = fmt.Sprintf("%x", xxhash.Sum64(rawArgs))
	}
	return approval.CanonicalID(c.Name, "", firstAction(c), target)
}

func (e *Executor) auditTool(action string, c capability.ToolCapability, execCtx ExecContext, rawArgs json.RawMessage, reason string, start time.Time) {
	if e.auditor == nil {
		return
	}
	meta := map[string]any{
		"tool":       c.Name,
		"sessionId":  execCtx.SessionID,
		"reason":     reason,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if c.Audit.LogArgs {
		meta["args"] = e.detector.Redact(string(rawArgs)).Redacted
	}
	e.auditor.Log(audit.Entry{
		Category: "tool",
		Action:   action,
		Severity: audit.SeverityWarn,
		Metadata: meta,
	})
}

func (e *Executor) auditCompletion(c capability.ToolCapability, execCtx ExecContext, rawArgs json.RawMessage, summary secrets.Summary, label labels.Label, truncated bool, start time.Time) {
	if e.auditor == nil {
		return
	}
	meta := map[string]any{
		"tool":        c.Name,
		"sessionId":   execCtx.SessionID,
		"findings":    summary,
		"label":       label,
		"truncated":   truncated,
		"durationMs":  time.Since(start).Milliseconds(),
	}
	if c.Audit.LogArgs {
		meta["args"] = e.detector.Redact(string(rawArgs)).Redacted
	}
	if c.Audit.LogOutput {
		// Validate() already forbids this for any tool whose output may
		// carry external content; the field name is present here only
		// for the tools narrow enough to have earned it.
		meta["output.logged"] = true
	}
	e.auditor.Log(audit.Entry{
		Category: "tool",
		Action:   "tool_completed",
		Severity: audit.SeverityInfo,
		Metadata: meta,
	})
}

func parseTrust(s string) labels.TrustLevel {
	switch s {
	case "verified":
		return labels.Verified
	case "user":
		return labels.User
	default:
		return labels.Untrusted
	}
}

func parseDataClass(s string) labels.DataClass {
	switch s {
	case "secret":
		return labels.Secret
	case "sensitive":
		return labels.Sensitive
	case "internal":
		return labels.Internal
	default:
		return labels.Public
	}
}
