package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aep/docbase/eventbus"
)

type changeDTO struct {
	Type    eventbus.ChangeType `json:"type"`
	ID      string              `json:"id"`
	Path    string              `json:"path"`
	Version int64               `json:"version"`
	Data    json.RawMessage     `json:"data,omitempty"`
}

type syncResponseDTO struct {
	Changes []changeDTO `json:"changes"`
}

// Sync fetches every change since since and applies it to the local
// cache. It returns the highest version observed, for the caller to
// persist as its own last-seen watermark across restarts.
func (c *Client) Sync(ctx context.Context, since int64) (int64, error) {
	var out syncResponseDTO
	_, err := c.doJSON(ctx, http.MethodGet,
		c.url("/documents/sync?workspaceId=%s&since=%d", c.cfg.WorkspaceID, since),
		nil, &out)
	if err != nil {
		return since, err
	}

	last := since
	for _, ch := range out.Changes {
		c.applyChange(ch)
		if ch.Version > last {
			last = ch.Version
		}
	}
	return last, nil
}

// applyChange folds one sync-endpoint change into the local cache.
func (c *Client) applyChange(ch changeDTO) {
	switch ch.Type {
	case eventbus.Deleted:
		c.cache.delete(ch.Path)
	default:
		c.cache.put(&cachedDocument{Path: ch.Path, Data: ch.Data, Version: ch.Version})
	}
}
