package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelNameTransformIsStable(t *testing.T) {
	require.Equal(t, "docbase.ws1.collection.notes.items", CollectionChannel("ws1", "notes/items"))
	require.Equal(t, "docbase.ws1.document.notes.items.doc1", DocumentChannel("ws1", "notes/items/doc1"))
}

func TestSoloBusDeliversToSubscriber(t *testing.T) {
	bus := NewSolo()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, CollectionChannel("ws1", "notes"))
	require.NoError(t, err)

	err = bus.Publish(ctx, "notes", Change{Type: Created, ID: "notes/x", Path: "notes/x", Version: 1, WorkspaceID: "ws1"})
	require.NoError(t, err)

	select {
	case c := <-sub.Changes():
		require.Equal(t, int64(1), c.Version)
		require.Equal(t, Created, c.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestSoloBusSubscriptionClosesOnContextDone(t *testing.T) {
	bus := NewSolo()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx, CollectionChannel("ws1", "notes"))
	require.NoError(t, err)

	cancel()
	time.Sleep(10 * time.Millisecond)

	bus.mu.Lock()
	require.Empty(t, bus.subs[CollectionChannel("ws1", "notes")])
	bus.mu.Unlock()
	_ = sub
}
