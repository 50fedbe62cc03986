package labels

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// CustomRule lets a deployment narrow a flow-control decision with a CEL
// predicate evaluated over label facts, the way the rest of the pack
// expresses policy rules as CEL expressions rather than hard-coded Go. A
// custom rule can only make a decision *stricter* (allowed -> ask -> denied),
// never loosen the hard-coded FC-1..FC-4 defaults — it is a tightening
// hook, not an override of the security invariants.
type CustomRule struct {
	Name       string
	Expression string // CEL boolean expression over trustLevel/dataClass/reason
	Result     Decision
}

// Engine compiles and evaluates a set of CustomRules against label facts.
type Engine struct {
	env   *cel.Env
	rules []compiledRule
}

type compiledRule struct {
	rule CustomRule
	prg  cel.Program
}

// NewEngine builds a CEL environment exposing trustLevel (int),
// dataClass (int), and sourceOriginId (string) as facts a custom rule can
// reference.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("trustLevel", cel.IntType),
		cel.Variable("dataClass", cel.IntType),
		cel.Variable("sourceOriginId", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("labels: building cel env: %w", err)
	}
	return &Engine{env: env}, nil
}

// AddRule compiles and registers a custom flow-control rule.
func (e *Engine) AddRule(r CustomRule) error {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("labels: compiling rule %q: %w", r.Name, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return fmt.Errorf("labels: building program for rule %q: %w", r.Name, err)
	}
	e.rules = append(e.rules, compiledRule{rule: r, prg: prg})
	return nil
}

// strictnessRank orders Allow values so a custom rule can only tighten.
var strictnessRank = map[Allow]int{AllowYes: 0, AllowAsk: 1, AllowNo: 2}

// Tighten evaluates every registered rule against l and returns the
// strictest of base and any matching rule's Decision. It never returns a
// decision looser than base.
func (e *Engine) Tighten(base Decision, l Label) (Decision, error) {
	if e == nil {
		return base, nil
	}
	out := base
	vars := map[string]any{
		"trustLevel":     int64(l.TrustLevel),
		"dataClass":      int64(l.DataClass),
		"sourceOriginId": l.Source.OriginID,
	}
	for _, cr := range e.rules {
		val, _, err := cr.prg.Eval(vars)
		if err != nil {
			return out, fmt.Errorf("labels: evaluating rule %q: %w", cr.rule.Name, err)
		}
		matched, ok := val.Value().(bool)
		if !ok || !matched {
			continue
		}
		if strictnessRank[cr.rule.Result.Allow] > strictnessRank[out.Allow] {
			out = cr.rule.Result
		}
	}
	return out, nil
}

// now exists purely so Engine's timestamp-aware rules (e.g. "label is
// older than N") have a single injectable clock for tests.
var now = time.Now
