package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/nexuscore/core/internal/capability"
)

// argFields extracts the handful of well-known fields the executor
// inspects without needing to know a tool's full schema: `method`,
// `url`/`host`, and the target string approval ids are derived from.
type argFields struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Host   string `json:"host"`
}

func parseArgFields(rawArgs json.RawMessage) argFields {
	var f argFields
	_ = json.Unmarshal(rawArgs, &f) // best-effort; absent fields just stay zero
	return f
}

// needsApproval reports whether rawArgs trips any of the capability's
// per-condition approval rules, beyond the base approval level.
func needsApproval(c capability.ToolCapability, rawArgs json.RawMessage, fields argFields) bool {
	raw := string(rawArgs)
	for _, pattern := range c.Approval.DangerPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(raw) {
			return true
		}
	}
	if fields.Method != "" {
		for _, m := range c.Approval.MethodRequiresApproval {
			if strings.EqualFold(m, fields.Method) {
				return true
			}
		}
	}
	if c.Approval.UnknownHostRequiresApproval && c.Network != nil {
		host := fields.Host
		if host == "" && fields.URL != "" {
			host = hostFromURL(fields.URL)
		}
		if host != "" && !hostKnownSafe(c.Network.AllowedHosts, host) {
			return true
		}
	}
	return false
}

func hostKnownSafe(allowed []string, host string) bool {
	for _, h := range allowed {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}
