package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/schema"
	"github.com/aep/docbase/server"
	"github.com/aep/docbase/storage"
)

// newTestServer starts a real server package instance behind httptest
// so tests exercise the client against a live handler rather than
// mocking HTTP.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := server.New(server.Config{
		DB: db, Bus: eventbus.NewSolo(), Rules: rules.NewEngine(rules.DefaultOpenRules()),
		Schemas: schema.NewRegistry(), SigningKey: []byte("k"),
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: endpoint, UserID: "u1"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientCreateAndGet(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	snap, err := c.Create(ctx, "notes", json.RawMessage(`{"title":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version)

	got, err := c.Get(ctx, snap.Path)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"hi"}`, string(got.Data))
	require.False(t, got.FromCache)
}

func TestClientGetFallsBackToCacheOnNetworkFailure(t *testing.T) {
	ts := newTestServer(t)
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := New(Config{Endpoint: ts.URL, UserID: "u1", EnablePersistence: true, CachePath: dbPath})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	snap, err := c.Create(ctx, "notes", json.RawMessage(`{"title":"hi"}`))
	require.NoError(t, err)

	ts.Close()

	got, err := c.Get(ctx, snap.Path)
	require.NoError(t, err)
	require.True(t, got.FromCache)
	require.JSONEq(t, `{"title":"hi"}`, string(got.Data))
}

func TestClientSetOptimisticWriteQueuesOnFailure(t *testing.T) {
	ts := newTestServer(t)
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := New(Config{Endpoint: ts.URL, UserID: "u1", EnablePersistence: true, CachePath: dbPath})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	snap, err := c.Create(ctx, "notes", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	ts.Close()

	pending, err := c.Set(ctx, snap.Path, json.RawMessage(`{"a":2}`), nil)
	require.Error(t, err)
	require.True(t, pending.HasPendingWrites)
	require.Equal(t, pendingVersion, pending.Version)

	queued := c.cache.queued()
	require.Len(t, queued, 1)
	require.Equal(t, queueSet, queued[0].Kind)
}

func TestClientQueryFallsBackToLocalMatch(t *testing.T) {
	ts := newTestServer(t)
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := New(Config{Endpoint: ts.URL, UserID: "u1", EnablePersistence: true, CachePath: dbPath})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Create(ctx, "notes", json.RawMessage(`{"status":"open"}`))
	require.NoError(t, err)
	_, err = c.Query("notes").Run(ctx)
	require.NoError(t, err)

	ts.Close()

	results, err := c.Query("notes").Where("status", "==", "open").Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].FromCache)
}

func TestClientTransactionRetriesOnConflictThenSucceeds(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	snap, err := c.Create(ctx, "notes", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)

	// Force one conflict: the first attempt reads a stale version by
	// bumping the document out from under the transaction once.
	attempts := 0
	err = c.Transaction(ctx, func(tx *Txn) error {
		attempts++
		data, err := tx.Get(ctx, snap.Path)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Simulate a concurrent writer racing this transaction by
			// committing a write outside of it before this attempt commits.
			_, err := c.Set(ctx, snap.Path, json.RawMessage(`{"n":99}`), nil)
			if err != nil {
				return err
			}
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		tx.Set(snap.Path, json.RawMessage(`{"n":2}`))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestBackgroundSyncAdvancesWatermarkIncrementally(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.Create(ctx, "notes", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	snap2, err := c.Create(ctx, "notes", json.RawMessage(`{"a":2}`))
	require.NoError(t, err)

	require.Equal(t, int64(0), c.syncWatermark())

	c.backgroundSync()
	require.Equal(t, snap2.Version, c.syncWatermark())

	// A second tick with nothing new must not re-fetch from version 0;
	// the watermark should hold rather than reset.
	c.backgroundSync()
	require.Equal(t, snap2.Version, c.syncWatermark())
}

func TestClientTransactionPropagatesCallbackError(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	boom := context.DeadlineExceeded
	err := c.Transaction(ctx, func(tx *Txn) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}
