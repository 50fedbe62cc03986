package capability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCapability() ToolCapability {
	return ToolCapability{
		Name:   "web_fetch",
		Schema: json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
		Actions: []Action{
			{Name: "tool:web:fetch"},
		},
		Approval: ApprovalPolicy{Level: ApprovalAsk},
		Execution: ExecutionPolicy{
			Sandbox:   SandboxProcess,
			OutputCap: 8192,
		},
		Labels: LabelsPolicy{
			OutputTrust:     "untrusted",
			OutputDataClass: "internal",
		},
		Audit: AuditPolicy{LogArgs: true},
	}
}

func TestValidate_AcceptsWellFormedCapability(t *testing.T) {
	c := validCapability()
	assert.NoError(t, c.Validate())
}

func TestValidate_RejectsMissingApprovalLevel(t *testing.T) {
	c := validCapability()
	c.Approval.Level = ""
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsLogOutputForUntrustedTool(t *testing.T) {
	c := validCapability()
	c.Audit.LogOutput = true
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logOutput")
}

func TestValidate_AllowsLogOutputForVerifiedNonAcceptingTool(t *testing.T) {
	c := validCapability()
	c.Labels.OutputTrust = "verified"
	c.Audit.LogOutput = true
	assert.NoError(t, c.Validate())
}

func TestCompileSchema_ValidatesArgs(t *testing.T) {
	c := validCapability()
	cs, err := CompileSchema(c)
	require.NoError(t, err)

	assert.NoError(t, cs.ValidateArgs(json.RawMessage(`{"url":"https://example.com"}`)))
	assert.Error(t, cs.ValidateArgs(json.RawMessage(`{}`)))
}
