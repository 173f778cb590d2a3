package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/schema"
	"github.com/aep/docbase/storage"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := New(Config{
		DB:         db,
		Bus:        eventbus.NewSolo(),
		Rules:      rules.NewEngine(rules.DefaultOpenRules()),
		Schemas:    schema.NewRegistry(),
		SigningKey: []byte("test-signing-key"),
	})
	return e
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetAndList(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/documents/notes", map[string]interface{}{
		"data": map[string]interface{}{"title": "hi"}, "userId": "u1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Path)
	require.Equal(t, int64(1), created.Version)

	rec = doRequest(t, h, http.MethodGet, "/documents/"+created.Path+"?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.JSONEq(t, `{"title":"hi"}`, string(got.Data))

	rec = doRequest(t, h, http.MethodGet, "/documents/notes?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestSetVersionConflictReturns409(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/documents/notes", map[string]interface{}{
		"data": map[string]interface{}{"a": 1}, "userId": "u1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	wrong := created.Version + 1
	rec = doRequest(t, h, http.MethodPut, "/documents/"+created.Path, map[string]interface{}{
		"data": map[string]interface{}{"a": 2}, "userId": "u1", "expectedVersion": wrong,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/documents/"+created.Path, map[string]interface{}{
		"data": map[string]interface{}{"a": 2}, "userId": "u1", "expectedVersion": created.Version,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateMergePatch(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/documents/notes", map[string]interface{}{
		"data": map[string]interface{}{"a": 1, "b": 2}, "userId": "u1",
	})
	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, h, http.MethodPatch, "/documents/"+created.Path, map[string]interface{}{
		"data": map[string]interface{}{"b": nil, "c": 3}, "userId": "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/documents/"+created.Path+"?userId=u1", nil)
	var got documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.JSONEq(t, `{"a":1,"c":3}`, string(got.Data))
}

func TestSetReturns200OnUpdateEvenWhenReadIsDenied(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	writeOnly, err := rules.LoadRules([]byte(`
rules:
  - match: "**"
    ops: [write]
    allow: "true"
  - match: "**"
    ops: [read]
    allow: "false"
`))
	require.NoError(t, err)

	h := New(Config{
		DB: db, Bus: eventbus.NewSolo(), Rules: rules.NewEngine(writeOnly),
		Schemas: schema.NewRegistry(), SigningKey: []byte("k"),
	})

	rec := doRequest(t, h, http.MethodPut, "/documents/notes/fixed-id", map[string]interface{}{
		"data": map[string]interface{}{"a": 1}, "userId": "u1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/documents/notes/fixed-id", map[string]interface{}{
		"data": map[string]interface{}{"a": 2}, "userId": "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code, "a Set on an existing document must report 200 even when the rules engine denies read on the same path")
}

func TestDeleteThenGetIs404(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/documents/notes", map[string]interface{}{
		"data": map[string]interface{}{"a": 1}, "userId": "u1",
	})
	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, h, http.MethodDelete, "/documents/"+created.Path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/documents/"+created.Path+"?userId=u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchAtomicCommit(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/documents/batch", map[string]interface{}{
		"userId": "u1", "operations": []map[string]interface{}{
			{"type": "set", "path": "notes/a", "data": map[string]interface{}{"v": 1}},
			{"type": "set", "path": "notes/b", "data": map[string]interface{}{"v": 2}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/documents/notes/a?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, h, http.MethodGet, "/documents/notes/b?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueToken(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/documents/auth/token", map[string]interface{}{"userId": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
}

func TestQueryFiltersByField(t *testing.T) {
	h := newTestServer(t)

	doRequest(t, h, http.MethodPost, "/documents/notes", map[string]interface{}{
		"data": map[string]interface{}{"status": "open"}, "userId": "u1",
	})
	doRequest(t, h, http.MethodPost, "/documents/notes", map[string]interface{}{
		"data": map[string]interface{}{"status": "closed"}, "userId": "u1",
	})

	filters, err := json.Marshal([][3]interface{}{{"status", "==", "open"}})
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodGet, "/documents/query?collection=notes&filters="+string(filters), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
}

func TestResetRequiresAdminToken(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := New(Config{
		DB: db, Bus: eventbus.NewSolo(), Rules: rules.NewEngine(rules.DefaultOpenRules()),
		Schemas: schema.NewRegistry(), SigningKey: []byte("k"), AdminToken: "secret",
	})

	rec := doRequest(t, h, http.MethodPost, "/documents/internal/reset", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/documents/internal/reset", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)
}
