package rules

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// Operation is one of the three verbs the rules engine authorizes.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Rule is one entry of the configured ordered rule list. Ops being empty
// means the rule applies to every operation.
type Rule struct {
	Pattern    *Pattern
	Ops        map[Operation]bool
	Expr       Expr
	PatternRaw string
	ExprRaw    string
}

func (r *Rule) appliesTo(op Operation) bool {
	if len(r.Ops) == 0 {
		return true
	}
	return r.Ops[op]
}

// Engine holds the ordered rule list and decides (path, operation, auth)
// -> allow|deny by first-match-wins: declaration order is preserved and
// is the whole of the conflict-resolution policy for overlapping
// patterns.
type Engine struct {
	rules []*Rule
}

func NewEngine(rules []*Rule) *Engine {
	return &Engine{rules: rules}
}

// Authorize returns true iff some rule matches path+operation and its
// expression evaluates to true. Absence of any matching rule, or an
// evaluator failure, denies by default.
func (e *Engine) Authorize(path string, op Operation, auth map[string]interface{}) bool {
	defer func() { recover() }() //nolint:errcheck // evaluator faults must deny, never panic the caller

	for _, r := range e.rules {
		bindings, ok := r.Pattern.Match(path)
		if !ok {
			continue
		}
		if !r.appliesTo(op) {
			continue
		}
		return Evaluate(r.Expr, EvalContext{Auth: auth, Bindings: bindings})
	}
	return false
}

// ruleFile is the on-disk YAML shape: an ordered list so the document
// order in the file is preserved (unlike a YAML map, which doesn't
// guarantee order).
type ruleFile struct {
	Rules []ruleEntry `json:"rules"`
}

type ruleEntry struct {
	Match string   `json:"match"`
	Ops   []string `json:"ops,omitempty"`
	Allow string   `json:"allow"`
}

// LoadRules parses a rules file such as:
//
//	rules:
//	  - match: "users/{uid}"
//	    ops: [read, write]
//	    allow: "auth.userId == uid"
//	  - match: "admin/**"
//	    allow: "false"
func LoadRules(data []byte) ([]*Rule, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("rules: parse: %w", err)
	}

	rules := make([]*Rule, 0, len(rf.Rules))
	for i, re := range rf.Rules {
		pat, err := ParsePattern(re.Match)
		if err != nil {
			return nil, fmt.Errorf("rules: entry %d: %w", i, err)
		}
		expr, err := ParseExpr(re.Allow)
		if err != nil {
			return nil, fmt.Errorf("rules: entry %d: %w", i, err)
		}

		ops := make(map[Operation]bool, len(re.Ops))
		for _, o := range re.Ops {
			ops[Operation(o)] = true
		}

		rules = append(rules, &Rule{
			Pattern:    pat,
			Ops:        ops,
			Expr:       expr,
			PatternRaw: re.Match,
			ExprRaw:    re.Allow,
		})
	}

	return rules, nil
}

// DefaultOpenRules is used when no rule file is configured: every
// document under the workspace is readable and writable by any
// authenticated caller. It exists purely so the server is usable
// without first authoring a rules file; production deployments are
// expected to supply their own.
func DefaultOpenRules() []*Rule {
	pat, _ := ParsePattern("**")
	expr, _ := ParseExpr("auth.userId != null")
	return []*Rule{{Pattern: pat, Expr: expr, PatternRaw: "**", ExprRaw: "auth.userId != null"}}
}
