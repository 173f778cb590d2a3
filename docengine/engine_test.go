package docengine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aep/docbase/apierr"
	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/schema"
	"github.com/aep/docbase/storage"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	re := rules.NewEngine(rules.DefaultOpenRules())
	bus := eventbus.NewSolo()
	return New(db, re, bus, schema.NewRegistry())
}

var testAuth = Auth{"userId": "u1"}

func TestCreateAndGet(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path, version, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"title":"hi"}`), testAuth)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	doc, err := e.Get(ctx, "ws1", path, testAuth)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"hi"}`, string(doc.Data))
	require.Equal(t, int64(1), doc.Version)
}

func TestSetWithVersionConflict(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path, v1, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"a":1}`), testAuth)
	require.NoError(t, err)

	wrong := v1 + 1
	_, _, err = e.Set(ctx, "ws1", path, json.RawMessage(`{"a":2}`), &wrong, testAuth)
	require.Error(t, err)
	require.True(t, apierr.As(err, apierr.KindVersionConflict))

	_, created, err := e.Set(ctx, "ws1", path, json.RawMessage(`{"a":2}`), &v1, testAuth)
	require.NoError(t, err)
	require.False(t, created)
}

func TestSetReportsCreatedForNewAndExistingPaths(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path, _, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"a":1}`), testAuth)
	require.NoError(t, err)
	manualPath := "notes/manual-id"

	_, created, err := e.Set(ctx, "ws1", manualPath, json.RawMessage(`{"a":1}`), nil, testAuth)
	require.NoError(t, err)
	require.True(t, created, "a Set against a path with no live document must report created")

	_, created, err = e.Set(ctx, "ws1", path, json.RawMessage(`{"a":2}`), nil, testAuth)
	require.NoError(t, err)
	require.False(t, created, "a Set against an existing document must report an update")

	_, err = e.Delete(ctx, "ws1", path, nil, testAuth)
	require.NoError(t, err)

	_, created, err = e.Set(ctx, "ws1", path, json.RawMessage(`{"a":3}`), nil, testAuth)
	require.NoError(t, err)
	require.True(t, created, "a Set resurrecting a soft-deleted document must report created")
}

func TestGetReflectsWritesThroughTheDocCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path, _, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"a":1}`), testAuth)
	require.NoError(t, err)

	doc, err := e.Get(ctx, "ws1", path, testAuth)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(doc.Data))

	_, err = e.Update(ctx, "ws1", path, json.RawMessage(`{"a":2}`), nil, testAuth)
	require.NoError(t, err)

	doc, err = e.Get(ctx, "ws1", path, testAuth)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(doc.Data), "Get must not serve a cached pre-Update document")

	_, err = e.Delete(ctx, "ws1", path, nil, testAuth)
	require.NoError(t, err)

	_, err = e.Get(ctx, "ws1", path, testAuth)
	require.True(t, apierr.As(err, apierr.KindNotFound), "Get must not serve a cached pre-Delete document")
}

func TestUpdateMergePatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path, _, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"a":1,"b":{"x":1,"y":2}}`), testAuth)
	require.NoError(t, err)

	_, err = e.Update(ctx, "ws1", path, json.RawMessage(`{"a":null,"b":{"x":9}}`), nil, testAuth)
	require.NoError(t, err)

	doc, err := e.Get(ctx, "ws1", path, testAuth)
	require.NoError(t, err)
	require.JSONEq(t, `{"b":{"x":9,"y":2}}`, string(doc.Data))
}

func TestDeleteIsSoftAndHidesFromGetAndList(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	path, _, err := e.Create(ctx, "ws1", "notes", json.RawMessage(`{"a":1}`), testAuth)
	require.NoError(t, err)

	_, err = e.Delete(ctx, "ws1", path, nil, testAuth)
	require.NoError(t, err)

	_, err = e.Get(ctx, "ws1", path, testAuth)
	require.True(t, apierr.As(err, apierr.KindNotFound))

	docs, err := e.List(ctx, "ws1", "notes", testAuth)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestListDoesNotDescendTransitively(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, _, err := e.Create(ctx, "ws1", "teams/team1/members", json.RawMessage(`{"a":1}`), testAuth)
	require.NoError(t, err)

	docs, err := e.List(ctx, "ws1", "teams", testAuth)
	require.NoError(t, err)
	require.Empty(t, docs, "listing teams must not surface documents nested under teams/team1/members")

	docs, err = e.List(ctx, "ws1", "teams/team1/members", testAuth)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestDenyByRulesEngine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	closedRules, err := rules.LoadRules([]byte(`
rules:
  - match: "**"
    allow: "false"
`))
	require.NoError(t, err)

	e := New(db, rules.NewEngine(closedRules), eventbus.NewSolo(), schema.NewRegistry())

	_, _, err = e.Create(context.Background(), "ws1", "notes", json.RawMessage(`{}`), testAuth)
	require.True(t, apierr.As(err, apierr.KindPermissionDenied))
}
