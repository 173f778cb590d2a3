package rules

import "fmt"

// value is the tiny runtime value type the expression interpreter
// operates over: booleans, strings, and null. There is no number type
// in this grammar.
type value struct {
	isNull bool
	b      bool
	s      string
	isBool bool
}

func boolValue(b bool) value  { return value{isBool: true, b: b} }
func stringValue(s string) value { return value{s: s} }
func nullValue() value        { return value{isNull: true} }

func (v value) equal(o value) bool {
	if v.isNull || o.isNull {
		return v.isNull == o.isNull
	}
	if v.isBool || o.isBool {
		return v.isBool == o.isBool && v.b == o.b
	}
	return v.s == o.s
}

// EvalContext supplies the two variable namespaces the grammar can
// dereference: `auth.*` and the bound path-pattern captures.
type EvalContext struct {
	Auth     map[string]interface{}
	Bindings map[string]string
}

func (c EvalContext) lookup(dotted string) (value, bool) {
	parts := splitDotted(dotted)
	if len(parts) == 0 {
		return value{}, false
	}

	if parts[0] == "auth" {
		if c.Auth == nil {
			return nullValue(), true
		}
		var cur interface{} = c.Auth
		for _, p := range parts[1:] {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nullValue(), true
			}
			cur, ok = m[p]
			if !ok {
				return nullValue(), true
			}
		}
		return toValue(cur), true
	}

	if len(parts) == 1 {
		if b, ok := c.Bindings[parts[0]]; ok {
			return stringValue(b), true
		}
	}

	return value{}, false
}

func toValue(v interface{}) value {
	switch t := v.(type) {
	case nil:
		return nullValue()
	case bool:
		return boolValue(t)
	case string:
		return stringValue(t)
	default:
		return stringValue(fmt.Sprintf("%v", t))
	}
}

func splitDotted(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// Expr is an AST node of the fixed expression grammar. Evaluate never
// panics on well-formed ASTs; malformed input is rejected at parse
// time. An unresolved variable evaluates the whole rule to deny, which
// Evaluate implements by returning false alongside ok=false.
type Expr interface {
	eval(ctx EvalContext) (value, bool)
}

type literalExpr struct{ v value }

func (e literalExpr) eval(ctx EvalContext) (value, bool) { return e.v, true }

type identExpr struct{ dotted string }

func (e identExpr) eval(ctx EvalContext) (value, bool) { return ctx.lookup(e.dotted) }

type notExpr struct{ inner Expr }

func (e notExpr) eval(ctx EvalContext) (value, bool) {
	v, ok := e.inner.eval(ctx)
	if !ok || !v.isBool {
		return value{}, false
	}
	return boolValue(!v.b), true
}

type binaryExpr struct {
	op    tokenType // tokAnd, tokOr, tokEq, tokNeq
	left  Expr
	right Expr
}

func (e binaryExpr) eval(ctx EvalContext) (value, bool) {
	l, ok := e.left.eval(ctx)
	if !ok {
		return value{}, false
	}

	switch e.op {
	case tokAnd:
		if !l.isBool {
			return value{}, false
		}
		if !l.b {
			return boolValue(false), true
		}
		r, ok := e.right.eval(ctx)
		if !ok || !r.isBool {
			return value{}, false
		}
		return boolValue(r.b), true

	case tokOr:
		if !l.isBool {
			return value{}, false
		}
		if l.b {
			return boolValue(true), true
		}
		r, ok := e.right.eval(ctx)
		if !ok || !r.isBool {
			return value{}, false
		}
		return boolValue(r.b), true

	case tokEq, tokNeq:
		r, ok := e.right.eval(ctx)
		if !ok {
			return value{}, false
		}
		eq := l.equal(r)
		if e.op == tokNeq {
			eq = !eq
		}
		return boolValue(eq), true
	}

	return value{}, false
}

// Evaluate runs the expression to a final boolean decision. Any
// evaluator failure (unresolved variable, type mismatch, non-boolean
// result) yields deny.
func Evaluate(e Expr, ctx EvalContext) bool {
	v, ok := e.eval(ctx)
	if !ok || !v.isBool {
		return false
	}
	return v.b
}
