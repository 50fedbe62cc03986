package labels

import "github.com/nexuscore/core/internal/secrets"

// Allow is the three-valued outcome of a flow-control check.
type Allow string

const (
	AllowYes Allow = "allowed"
	AllowNo  Allow = "denied"
	AllowAsk Allow = "ask"
)

// Decision is the result of a flow-control check: FC-1..FC-4 each return
// one of {allowed}, {denied, reason}, {ask, reason, canOverride}.
type Decision struct {
	Allow        Allow  `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	CanOverride  bool   `json:"canOverride,omitempty"`
}

func allowed() Decision { return Decision{Allow: AllowYes} }

func denied(reason string, canOverride bool) Decision {
	return Decision{Allow: AllowNo, Reason: reason, CanOverride: canOverride}
}

func ask(reason string, canOverride bool) Decision {
	return Decision{Allow: AllowAsk, Reason: reason, CanOverride: canOverride}
}

// LabelOutput computes a tool output's label starting from the
// capability-declared defaults, promoting the data class if findings
// contain probable/definite secrets.
func LabelOutput(outputTrust TrustLevel, outputClass DataClass, originID string, findings []secrets.Finding) Label {
	class := outputClass
	for _, f := range findings {
		switch f.Confidence {
		case secrets.ConfidenceDefinite:
			if Secret > class {
				class = Secret
			}
		case secrets.ConfidenceProbable:
			if Sensitive > class {
				class = Sensitive
			}
		}
	}
	return New(outputTrust, class, originID)
}

// EgressCheck implements FC-1: secret data never leaves; sensitive data
// paired with untrusted provenance is rejected outright; sensitive data
// otherwise requires explicit approval.
func EgressCheck(l Label) Decision {
	if l.DataClass == Secret {
		return denied("secret data may not cross the network boundary", false)
	}
	if l.DataClass == Sensitive && l.TrustLevel == Untrusted {
		return denied("sensitive data from an untrusted source may not egress", false)
	}
	if l.DataClass == Sensitive {
		return ask("sensitive data requires approval before egress", true)
	}
	return allowed()
}

// SemanticWriteCheck implements FC-2: untrusted content cannot become a
// semantic fact unless the caller overrides with explicit user
// confirmation (handled by the memory manager, see I-SEM1); verified
// content still asks for confirmation; user/system content is allowed.
// engine, if non-nil, runs as an optional tightening pass (it can only
// make the decision stricter, never loosen it) — pass nil to skip it.
func SemanticWriteCheck(l Label, engine *Engine) Decision {
	var d Decision
	switch l.TrustLevel {
	case Untrusted:
		d = denied("untrusted content cannot be written as a semantic fact without confirmation", true)
	case Verified:
		d = ask("verified content requires confirmation before becoming a semantic fact", true)
	default:
		d = allowed()
	}
	return tighten(engine, d, l)
}

// WorkingMemoryWriteCheck implements FC-3: secret content must be redacted
// before it can enter working memory; anything else is allowed. engine is
// an optional tightening pass, as in SemanticWriteCheck.
func WorkingMemoryWriteCheck(l Label, engine *Engine) Decision {
	d := allowed()
	if l.DataClass == Secret {
		d = denied("secret content must be redacted before entering working memory", false)
	}
	return tighten(engine, d, l)
}

// tighten applies engine's custom rules on top of a hard-coded FC
// decision, falling back to base if engine is nil or a rule fails to
// evaluate (a malformed deployment rule must never block a call the
// hard-coded invariants already allowed).
func tighten(engine *Engine, base Decision, l Label) Decision {
	if engine == nil {
		return base
	}
	out, err := engine.Tighten(base, l)
	if err != nil {
		return base
	}
	return out
}

// ChainTarget describes the tool a chained call is about to invoke, for
// FC-4 evaluation.
type ChainTarget struct {
	NetworkCapable    bool
	SanitizesUntrusted bool
}

// ToolChainCheck implements FC-4: untrusted content flowing into a
// network-capable tool asks for approval; secret content flowing into a
// tool that does not sanitise its input is rejected outright.
func ToolChainCheck(source Label, target ChainTarget) Decision {
	if source.DataClass == Secret && !target.SanitizesUntrusted {
		return denied("secret-labelled content cannot chain into a non-sanitising tool", false)
	}
	if source.TrustLevel == Untrusted && target.NetworkCapable {
		return ask("untrusted content chaining into a network-capable tool requires approval", true)
	}
	return allowed()
}
