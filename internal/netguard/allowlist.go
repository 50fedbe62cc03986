package netguard

import "strings"

// HostMethodRule is one global allowlist entry: a host pattern (exact or
// `*.suffix` wildcard) paired with the HTTP methods it permits.
type HostMethodRule struct {
	Host    string   `yaml:"host" json:"host"`
	Methods []string `yaml:"methods" json:"methods"`
}

// matchesHost reports whether host satisfies pattern, supporting a
// `*.example.com` wildcard suffix match in addition to exact equality.
func matchesHost(pattern, host string) bool {
	pattern = normalizeHost(pattern)
	host = normalizeHost(host)
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}
	return false
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) || m == "*" {
			return true
		}
	}
	return false
}

// globalAllowed reports whether (host, method) is permitted by the global
// allowlist. An empty allowlist permits everything at the global tier —
// the tool-level policy (allowlist/blocklist) is what does the real
// narrowing for most deployments.
func globalAllowed(rules []HostMethodRule, host, method string) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if matchesHost(r.Host, host) && methodAllowed(r.Methods, method) {
			return true
		}
	}
	return false
}

// ToolPolicyMode selects whether a tool's network policy is expressed as
// an allowlist or a blocklist.
type ToolPolicyMode string

const (
	ModeAllowlist ToolPolicyMode = "allowlist"
	ModeBlocklist ToolPolicyMode = "blocklist"
)

// ToolPolicy is a single tool's declared network capability (spec §3,
// Tool Capability `network?`). It can only narrow the global policy, never
// broaden it (P-NET-INTERSECT).
type ToolPolicy struct {
	Mode                   ToolPolicyMode `yaml:"mode" json:"mode"`
	AllowedHosts           []string       `yaml:"allowedHosts" json:"allowedHosts"`
	BlockedHosts           []string       `yaml:"blockedHosts" json:"blockedHosts"`
	BlockedPorts           []int          `yaml:"blockedPorts" json:"blockedPorts"`
	BlockPrivateIPs        bool           `yaml:"blockPrivateIps" json:"blockPrivateIps"`
	BlockMetadataEndpoints bool           `yaml:"blockMetadataEndpoints" json:"blockMetadataEndpoints"`
}

// toolAllows reports whether the tool-level policy permits host, given it
// already cleared the global allowlist.
func toolAllows(p *ToolPolicy, host string) (bool, string) {
	if p == nil {
		return true, ""
	}
	switch p.Mode {
	case ModeAllowlist:
		for _, h := range p.AllowedHosts {
			if matchesHost(h, host) {
				return true, ""
			}
		}
		return false, "host not in tool allowlist"
	case ModeBlocklist:
		for _, h := range p.BlockedHosts {
			if matchesHost(h, host) {
				return false, "host in tool blocklist"
			}
		}
		return true, ""
	default:
		return true, ""
	}
}
