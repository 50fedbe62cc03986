// Package capability defines the declarative security policy attached to
// every tool (spec §3, Tool Capability) and validates it at registration
// time: JSON-schema for the tool's own input shape, struct-tag validation
// for the capability document itself.
package capability

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ApprovalLevel is how aggressively a tool's calls need human sign-off.
type ApprovalLevel string

const (
	ApprovalAuto   ApprovalLevel = "auto"
	ApprovalAsk    ApprovalLevel = "ask"
	ApprovalAlways ApprovalLevel = "always"
)

// ApprovalPolicy is the capability's `approval` block.
type ApprovalPolicy struct {
	Level                   ApprovalLevel `json:"level" yaml:"level" validate:"required,oneof=auto ask always"`
	DangerPatterns          []string      `json:"dangerPatterns,omitempty" yaml:"dangerPatterns,omitempty"`
	MethodRequiresApproval  []string      `json:"methodRequiresApproval,omitempty" yaml:"methodRequiresApproval,omitempty"`
	UnknownHostRequiresApproval bool      `json:"unknownHostRequiresApproval,omitempty" yaml:"unknownHostRequiresApproval,omitempty"`
}

// NetworkMode mirrors netguard.ToolPolicyMode so the capability package
// doesn't need to import netguard just for this string type.
type NetworkMode string

const (
	NetworkModeAllowlist NetworkMode = "allowlist"
	NetworkModeBlocklist NetworkMode = "blocklist"
)

// NetworkPolicy is the capability's `network` block.
type NetworkPolicy struct {
	Mode                   NetworkMode `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=allowlist blocklist"`
	AllowedHosts           []string    `json:"allowedHosts,omitempty" yaml:"allowedHosts,omitempty"`
	BlockedHosts           []string    `json:"blockedHosts,omitempty" yaml:"blockedHosts,omitempty"`
	BlockedPorts           []int       `json:"blockedPorts,omitempty" yaml:"blockedPorts,omitempty"`
	BlockPrivateIPs        bool        `json:"blockPrivateIps" yaml:"blockPrivateIps"`
	BlockMetadataEndpoints bool        `json:"blockMetadataEndpoints" yaml:"blockMetadataEndpoints"`
}

// SandboxLevel mirrors sandbox.Level as a string for the capability
// document (kept independent so capability doesn't import sandbox).
type SandboxLevel string

const (
	SandboxNone      SandboxLevel = "none"
	SandboxProcess   SandboxLevel = "process"
	SandboxContainer SandboxLevel = "container"
)

// ExecutionPolicy is the capability's `execution` block.
type ExecutionPolicy struct {
	Sandbox        SandboxLevel `json:"sandbox" yaml:"sandbox" validate:"required,oneof=none process container"`
	NetworkDefault bool         `json:"networkDefault" yaml:"networkDefault"`
	OutputCap      int          `json:"outputCap" yaml:"outputCap" validate:"min=0"`
}

// TrustLevel/DataClass are declared here as plain strings (rather than
// importing internal/labels) so capability documents can be decoded from
// YAML/JSON without a package cycle; the tool registry converts them to
// labels.TrustLevel/DataClass at registration time.
type LabelsPolicy struct {
	OutputTrust      string `json:"outputTrust" yaml:"outputTrust" validate:"required,oneof=untrusted user verified"`
	OutputDataClass  string `json:"outputDataClass" yaml:"outputDataClass" validate:"required,oneof=public internal sensitive secret"`
	AcceptsUntrusted bool   `json:"acceptsUntrusted" yaml:"acceptsUntrusted"`
}

// AuditPolicy is the capability's `audit` block. logOutput=true is
// rejected at registration for any tool whose output may contain
// external content (acceptsUntrusted or outputTrust=untrusted).
type AuditPolicy struct {
	LogArgs   bool `json:"logArgs" yaml:"logArgs"`
	LogOutput bool `json:"logOutput" yaml:"logOutput"`
}

// Action is one declared capability action, e.g. `tool:category:action`.
type Action struct {
	Name                string `json:"name" yaml:"name" validate:"required"`
	AffectsOthers       bool   `json:"affectsOthers" yaml:"affectsOthers"`
	IsDestructive       bool   `json:"isDestructive" yaml:"isDestructive"`
	HasFinancialImpact  bool   `json:"hasFinancialImpact" yaml:"hasFinancialImpact"`
}

// ToolCapability is the full declarative policy for one tool (spec §3).
type ToolCapability struct {
	Name      string          `json:"name" yaml:"name" validate:"required"`
	Schema    json.RawMessage `json:"schema" yaml:"schema" validate:"required"`
	Actions   []Action        `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
	Approval  ApprovalPolicy  `json:"approval" yaml:"approval" validate:"required"`
	Network   *NetworkPolicy  `json:"network,omitempty" yaml:"network,omitempty"`
	Execution ExecutionPolicy `json:"execution" yaml:"execution" validate:"required"`
	Labels    LabelsPolicy    `json:"labels" yaml:"labels" validate:"required"`
	Audit     AuditPolicy     `json:"audit" yaml:"audit"`
}

var validate = validator.New()

// Validate runs struct-tag validation over the capability document and
// enforces the one rule validator tags can't express: logOutput is
// forbidden whenever the tool's output may carry external content.
func (c ToolCapability) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("capability: %w", err)
	}
	if c.Audit.LogOutput && (c.Labels.AcceptsUntrusted || c.Labels.OutputTrust == "untrusted") {
		return fmt.Errorf("capability %q: logOutput=true is forbidden for tools whose output may contain external content", c.Name)
	}
	return nil
}

// CompiledSchema is a parsed, ready-to-validate JSON schema for a tool's
// input shape.
type CompiledSchema struct {
	schema *jsonschema.Schema
}

// CompileSchema parses and compiles c.Schema.
func CompileSchema(c ToolCapability) (*CompiledSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(c.Name+".json", bytesReader(c.Schema)); err != nil {
		return nil, fmt.Errorf("capability %q: add schema resource: %w", c.Name, err)
	}
	schema, err := compiler.Compile(c.Name + ".json")
	if err != nil {
		return nil, fmt.Errorf("capability %q: compile schema: %w", c.Name, err)
	}
	return &CompiledSchema{schema: schema}, nil
}

// ValidateArgs checks rawArgs against the compiled schema.
func (cs *CompiledSchema) ValidateArgs(rawArgs json.RawMessage) error {
	var v any
	if err := json.Unmarshal(rawArgs, &v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return cs.schema.Validate(v)
}
