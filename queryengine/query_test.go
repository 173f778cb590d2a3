package queryengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileRejectsMissingWorkspace(t *testing.T) {
	_, _, _, _, err := Compile(Query{})
	require.Error(t, err)
}

func TestCompileDropsFieldsOutsideWhitelist(t *testing.T) {
	where, _, _, args, err := Compile(Query{
		WorkspaceID: "ws1",
		Filters: []Filter{
			{Field: "title", Op: OpEq, Value: "x"},
			{Field: "title; DROP TABLE documents", Op: OpEq, Value: "y"},
		},
	})
	require.NoError(t, err)
	require.Contains(t, where, "json_extract(data, '$.title')")
	require.NotContains(t, where, "DROP TABLE")
	require.Len(t, args, 3) // workspace_id + title filter + limit
}

func TestCompileDefaultsAndCapsLimit(t *testing.T) {
	_, _, limitSQL, args, err := Compile(Query{WorkspaceID: "ws1", Limit: 5000})
	require.NoError(t, err)
	require.Equal(t, "LIMIT ?", limitSQL)
	require.Equal(t, maxLimit, args[len(args)-1])

	_, _, _, args, err = Compile(Query{WorkspaceID: "ws1"})
	require.NoError(t, err)
	require.Equal(t, defaultLimit, args[len(args)-1])
}

func TestMatchLocalFilterAndOrder(t *testing.T) {
	docs := []map[string]interface{}{
		{"name": "b", "age": 30.0},
		{"name": "a", "age": 20.0},
		{"name": "c"},
	}
	out := MatchLocal(docs, Query{OrderBy: "age"})
	require.Len(t, out, 3)
	require.Equal(t, "a", out[0]["name"])
	require.Equal(t, "b", out[1]["name"])
	require.Equal(t, "c", out[2]["name"], "missing field sorts last ascending")
}

func TestMatchLocalEqFilter(t *testing.T) {
	docs := []map[string]interface{}{
		{"status": "open"},
		{"status": "closed"},
	}
	out := MatchLocal(docs, Query{Filters: []Filter{{Field: "status", Op: OpEq, Value: "open"}}})
	require.Len(t, out, 1)
	require.Equal(t, "open", out[0]["status"])
}

func TestMatchLocalArrayContains(t *testing.T) {
	docs := []map[string]interface{}{
		{"tags": []interface{}{"a", "b"}},
		{"tags": []interface{}{"c"}},
	}
	out := MatchLocal(docs, Query{Filters: []Filter{{Field: "tags", Op: OpArrayContains, Value: "b"}}})
	require.Len(t, out, 1)
}

func TestMatchLocalLimit(t *testing.T) {
	docs := []map[string]interface{}{{"a": 1.0}, {"a": 2.0}, {"a": 3.0}}
	out := MatchLocal(docs, Query{Limit: 2})
	require.Len(t, out, 2)
}
