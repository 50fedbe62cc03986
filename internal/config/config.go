// Package config loads the core's YAML configuration into the typed
// per-component Config structs each package already exposes, applying
// defaults first and then an environment-variable overlay (spec §1's
// "concrete env/flag parsing stays out of scope" applies to credential
// stores, not to this ambient loading shape).
package config

import (
	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/memory"
	"github.com/nexuscore/core/internal/netguard"
	"github.com/nexuscore/core/internal/orchestrator"
	"github.com/nexuscore/core/internal/resilience"
)

// SandboxConfig configures the sandbox executor's container backend.
type SandboxConfig struct {
	Image                string `yaml:"image"`
	AllowProcessFallback bool   `yaml:"allowProcessFallback"`
}

// ScoutConfig configures the scout scheduler's default recurrence
// knobs. Individual scouts still declare their own Schedule at
// Register time; these are the scheduler-wide defaults.
type ScoutConfig struct {
	DigestCapacity int `yaml:"digestCapacity"`
}

// ServerConfig configures the cmd/nexuscore CLI's serve subcommand.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config aggregates every component's configuration into one loadable
// document.
type Config struct {
	Server       ServerConfig             `yaml:"server"`
	Audit        audit.Config             `yaml:"audit"`
	NetGuard     netguard.Config          `yaml:"netGuard"`
	Sandbox      SandboxConfig            `yaml:"sandbox"`
	Memory       memory.Config            `yaml:"memory"`
	Orchestrator orchestrator.Config      `yaml:"orchestrator"`
	Scout        ScoutConfig              `yaml:"scout"`
	Resilience   resilience.CircuitConfig `yaml:"resilience"`
}

// Default returns the baseline configuration every component's own
// DefaultConfig already declares, plus this package's own defaults for
// the pieces (server, sandbox, scout) that have no natural home in a
// component package.
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8443},
		Audit:    audit.DefaultConfig(),
		NetGuard: netguard.DefaultConfig(),
		Sandbox:  SandboxConfig{Image: "alpine:latest", AllowProcessFallback: false},
		Memory:   memory.DefaultConfig(),
		Orchestrator: orchestrator.Config{
			MaxToolCallsPerTurn: 10,
			MaxQueueSize:        5,
		},
		Scout: ScoutConfig{DigestCapacity: 100},
		Resilience: resilience.CircuitConfig{
			FailureThreshold: 5,
		},
	}
}
