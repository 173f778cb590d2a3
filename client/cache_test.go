package client

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *cache {
	t.Helper()
	c, err := openCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGetDelete(t *testing.T) {
	c := newTestCache(t)

	c.put(&cachedDocument{Path: "notes/a", Data: json.RawMessage(`{"x":1}`), Version: 1})

	got, ok := c.get("notes/a")
	require.True(t, ok)
	require.Equal(t, int64(1), got.Version)
	require.JSONEq(t, `{"x":1}`, string(got.Data))

	c.delete("notes/a")
	_, ok = c.get("notes/a")
	require.False(t, ok)
}

func TestCacheListPrefix(t *testing.T) {
	c := newTestCache(t)

	c.put(&cachedDocument{Path: "notes/a", Data: json.RawMessage(`{}`), Version: 1})
	c.put(&cachedDocument{Path: "notes/b", Data: json.RawMessage(`{}`), Version: 1})
	c.put(&cachedDocument{Path: "other/c", Data: json.RawMessage(`{}`), Version: 1})

	out := c.listPrefix("notes")
	require.Len(t, out, 2)
}

func TestQueueEnqueueDequeueOrdering(t *testing.T) {
	c := newTestCache(t)

	c.enqueue(&queuedOp{Kind: queueSet, Path: "notes/a", Data: json.RawMessage(`{"v":1}`)})
	c.enqueue(&queuedOp{Kind: queueSet, Path: "notes/b", Data: json.RawMessage(`{"v":2}`)})

	queued := c.queued()
	require.Len(t, queued, 2)
	require.Equal(t, "notes/a", queued[0].Path)
	require.Equal(t, "notes/b", queued[1].Path)

	c.dequeue(queued[0].Seq)
	queued = c.queued()
	require.Len(t, queued, 1)
	require.Equal(t, "notes/b", queued[0].Path)
}

func TestNilCacheIsHarmlessNoOp(t *testing.T) {
	var c *cache

	require.NoError(t, c.Close())
	_, ok := c.get("x")
	require.False(t, ok)
	require.Nil(t, c.listPrefix("x"))
	require.NotPanics(t, func() {
		c.put(&cachedDocument{Path: "x"})
		c.delete("x")
		c.enqueue(&queuedOp{Path: "x"})
		c.dequeue(1)
	})
	require.Nil(t, c.queued())
}
