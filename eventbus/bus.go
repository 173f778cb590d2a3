package eventbus

import (
	"context"
	"encoding/json"
)

// ChangeType is the publication verb.
type ChangeType string

const (
	Created ChangeType = "CREATED"
	Updated ChangeType = "UPDATED"
	Deleted ChangeType = "DELETED"
)

// Change is the payload published after a successful commit, the wire
// shape a subscriber uses to decide whether to re-fetch or merge a
// delta in place. Data carries the full post-state for CREATED/UPDATED
// and is empty for DELETED.
type Change struct {
	Type        ChangeType      `json:"type"`
	ID          string          `json:"id"`
	Path        string          `json:"path"`
	Version     int64           `json:"version"`
	Data        json.RawMessage `json:"data,omitempty"`
	WorkspaceID string          `json:"workspace_id"`
}

// Bus is the publish/subscribe fabric. Subscriptions are context-aware
// so delivery can be cancelled per-subscriber instead of tearing down a
// bare channel.
type Bus interface {
	// Publish announces c on both the collection and document channels
	// derived from collectionPath and c.Path. Within one channel,
	// publications must be dispatched in increasing version order.
	Publish(ctx context.Context, collectionPath string, c Change) error

	// Subscribe delivers every Change published to channel from the
	// moment of the call onward, until ctx is done or the returned
	// Subscription is closed. Delivery is at-least-once; subscribers
	// dedup by version.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}

// Subscription is a single subscriber's live feed.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

func encodeChange(c Change) ([]byte, error) { return json.Marshal(c) }
func decodeChange(b []byte) (Change, error) {
	var c Change
	err := json.Unmarshal(b, &c)
	return c, err
}
