package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatternMatchLiteralAndCapture(t *testing.T) {
	pat, err := ParsePattern("users/{uid}/posts/{id}")
	require.NoError(t, err)

	bindings, ok := pat.Match("users/u1/posts/p1")
	require.True(t, ok)
	require.Equal(t, "u1", bindings["uid"])
	require.Equal(t, "p1", bindings["id"])

	_, ok = pat.Match("users/u1/posts/p1/extra")
	require.False(t, ok)
}

func TestPatternTailWildcard(t *testing.T) {
	pat, err := ParsePattern("admin/**")
	require.NoError(t, err)

	_, ok := pat.Match("admin/settings")
	require.True(t, ok)

	_, ok = pat.Match("admin")
	require.False(t, ok, "proper-prefix wildcard must not match the prefix itself")
}

func TestPatternTailCapture(t *testing.T) {
	pat, err := ParsePattern("files/{path=**}")
	require.NoError(t, err)

	bindings, ok := pat.Match("files/a/b/c")
	require.True(t, ok)
	require.Equal(t, "a/b/c", bindings["path"])
}

func TestExprEquality(t *testing.T) {
	expr, err := ParseExpr(`auth.userId == uid`)
	require.NoError(t, err)

	ok := Evaluate(expr, EvalContext{
		Auth:     map[string]interface{}{"userId": "u1"},
		Bindings: map[string]string{"uid": "u1"},
	})
	require.True(t, ok)

	ok = Evaluate(expr, EvalContext{
		Auth:     map[string]interface{}{"userId": "u2"},
		Bindings: map[string]string{"uid": "u1"},
	})
	require.False(t, ok)
}

func TestExprLogicalAndNullCheck(t *testing.T) {
	expr, err := ParseExpr(`auth.userId != null && (auth.role == "admin" || auth.userId == owner)`)
	require.NoError(t, err)

	require.True(t, Evaluate(expr, EvalContext{
		Auth:     map[string]interface{}{"userId": "u1", "role": "admin"},
		Bindings: map[string]string{"owner": "someone-else"},
	}))

	require.False(t, Evaluate(expr, EvalContext{
		Auth:     map[string]interface{}{"userId": "u1"},
		Bindings: map[string]string{"owner": "someone-else"},
	}))
}

func TestExprUnknownSyntaxIsDeny(t *testing.T) {
	_, err := ParseExpr(`auth.userId ===`)
	require.Error(t, err)
}

func TestExprUnresolvedVariableDenies(t *testing.T) {
	expr, err := ParseExpr(`missingVar == "x"`)
	require.NoError(t, err)
	require.False(t, Evaluate(expr, EvalContext{}))
}

func TestEngineFirstMatchWins(t *testing.T) {
	rules, err := LoadRules([]byte(`
rules:
  - match: "admin/**"
    allow: "false"
  - match: "{collection}/{id}"
    allow: "true"
`))
	require.NoError(t, err)

	engine := NewEngine(rules)
	require.False(t, engine.Authorize("admin/settings", OpRead, nil))
	require.True(t, engine.Authorize("users/u1", OpRead, nil))
}

func TestEngineDefaultDenyWhenNoRuleMatches(t *testing.T) {
	engine := NewEngine(nil)
	require.False(t, engine.Authorize("anything", OpRead, nil))
}
