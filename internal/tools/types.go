// Package tools implements the tool registry and the single-choke-point
// enforcement pipeline every tool call passes through (spec §4.6, C6).
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexuscore/core/internal/capability"
	"github.com/nexuscore/core/internal/labels"
	"github.com/nexuscore/core/internal/sandbox"
	"github.com/nexuscore/core/internal/secrets"
)

// Tool is the minimal seam between the registry/executor and a concrete
// implementation. The executor owns everything else — validation,
// approvals, network/sandbox enforcement, redaction, labeling, audit.
type Tool interface {
	Name() string
	Capability() capability.ToolCapability
	Run(ctx context.Context, args json.RawMessage, execCtx ExecContext) (string, error)
}

// SandboxRunner is the narrow seam a tool uses to run a subprocess
// through isolation instead of exec.Command directly. The executor
// fixes Level to the capability's declared sandbox level before handing
// one of these to a tool, so a tool can request a command but can't
// escalate its own isolation strength.
type SandboxRunner interface {
	Run(ctx context.Context, req sandbox.Request) (sandbox.Result, error)
}

// ExecContext is per-call context the executor hands to a tool. Sandbox
// is non-nil whenever the tool's capability declares execution.sandbox
// != none (spec §4.6 step 5); a tool that shells out without going
// through it bypasses the isolation its own capability document
// promised, so every tool whose capability is not SandboxNone must
// route subprocess execution through ctx.Sandbox.
type ExecContext struct {
	SessionID string
	UserID    string
	Sandbox   SandboxRunner
}

// CallResult is the executor's uniform result for any tool call,
// regardless of what stage rejected it.
type CallResult struct {
	Success     bool           `json:"success"`
	Reason      string         `json:"reason,omitempty"`
	Output      string         `json:"output,omitempty"`
	Truncated   bool           `json:"truncated,omitempty"`
	Findings    secrets.Summary `json:"findings,omitempty"`
	Label       labels.Label   `json:"label,omitempty"`
	DurationMs  int64          `json:"durationMs"`
}

func failure(reason string, start time.Time) CallResult {
	return CallResult{Success: false, Reason: reason, DurationMs: time.Since(start).Milliseconds()}
}
