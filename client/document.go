package client

import (
	"context"
	"encoding/json"
	"net/http"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Snapshot is a document read result, carrying provenance metadata:
// FromCache is true when the network call failed and the value came
// from the local cache; HasPendingWrites is true when the value
// reflects a queued write the server hasn't confirmed yet.
type Snapshot struct {
	Path             string
	Data             json.RawMessage
	Version          int64
	FromCache        bool
	HasPendingWrites bool
}

type createResponseDTO struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Version int64  `json:"version"`
}

type documentResponseDTO struct {
	ID      string          `json:"id"`
	Path    string          `json:"path"`
	Data    json.RawMessage `json:"data"`
	Version int64           `json:"version"`
}

type setResponseDTO struct {
	Success bool  `json:"success"`
	Version int64 `json:"version"`
}

// Create posts a new document under collectionPath with a
// server-generated id.
func (c *Client) Create(ctx context.Context, collectionPath string, data json.RawMessage) (Snapshot, error) {
	var out createResponseDTO
	_, err := c.doJSON(ctx, http.MethodPost, c.url("/documents/%s", collectionPath), map[string]interface{}{
		"data":        data,
		"userId":      c.cfg.UserID,
		"workspaceId": c.cfg.WorkspaceID,
	}, &out)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Path: out.Path, Data: data, Version: out.Version}
	c.cache.put(&cachedDocument{Path: snap.Path, Data: data, Version: out.Version})
	return snap, nil
}

// Get reads path, falling back to the cache on network failure.
func (c *Client) Get(ctx context.Context, path string) (Snapshot, error) {
	var out documentResponseDTO
	_, err := c.doJSON(ctx, http.MethodGet,
		c.url("/documents/%s?workspaceId=%s&userId=%s", path, c.cfg.WorkspaceID, c.cfg.UserID),
		nil, &out)
	if err != nil {
		if IsNotFound(err) {
			c.cache.delete(path)
			return Snapshot{}, err
		}
		if _, isHTTP := err.(*Error); !isHTTP {
			if cached, ok := c.cache.get(path); ok {
				return Snapshot{
					Path: path, Data: cached.Data, Version: cached.Version,
					FromCache: true, HasPendingWrites: cached.Version == pendingVersion,
				}, nil
			}
		}
		return Snapshot{}, err
	}
	c.cache.put(&cachedDocument{Path: path, Data: out.Data, Version: out.Version})
	return Snapshot{Path: path, Data: out.Data, Version: out.Version}, nil
}

// Set upserts path, applying the optimistic-write protocol: the cache
// is updated first at the pending sentinel version, the write is
// queued, then the network call is attempted. Success replaces the
// optimistic entry and drops the queue row; failure leaves both in
// place for the next drain.
func (c *Client) Set(ctx context.Context, path string, data json.RawMessage, expectedVersion *int64) (Snapshot, error) {
	c.cache.put(&cachedDocument{Path: path, Data: data, Version: pendingVersion})
	op := &queuedOp{Kind: queueSet, Path: path, Data: data, QueuedAt: nowUTC()}
	c.cache.enqueue(op)

	var out setResponseDTO
	_, err := c.doJSON(ctx, http.MethodPut, c.url("/documents/%s", path), setRequestDTO{
		Data: data, UserID: c.cfg.UserID, WorkspaceID: c.cfg.WorkspaceID, ExpectedVersion: expectedVersion,
	}, &out)
	if err != nil {
		return Snapshot{Path: path, Data: data, Version: pendingVersion, HasPendingWrites: true}, err
	}

	c.cache.dequeue(op.Seq)
	c.cache.put(&cachedDocument{Path: path, Data: data, Version: out.Version})
	return Snapshot{Path: path, Data: data, Version: out.Version}, nil
}

// Update applies a JSON merge patch to path, optimistically folding it
// into the cached copy at the pending sentinel version before the PATCH
// is attempted, the same way Set seeds its optimistic entry.
func (c *Client) Update(ctx context.Context, path string, patch json.RawMessage, expectedVersion *int64) (Snapshot, error) {
	merged := applyMergePatch(c.cache, path, patch)
	c.cache.put(&cachedDocument{Path: path, Data: merged, Version: pendingVersion})
	op := &queuedOp{Kind: queueUpdate, Path: path, Data: patch, QueuedAt: nowUTC()}
	c.cache.enqueue(op)

	var out setResponseDTO
	_, err := c.doJSON(ctx, http.MethodPatch, c.url("/documents/%s", path), updateRequestDTO{
		Data: patch, UserID: c.cfg.UserID, WorkspaceID: c.cfg.WorkspaceID, ExpectedVersion: expectedVersion,
	}, &out)
	if err != nil {
		return Snapshot{Path: path, Data: merged, Version: pendingVersion, HasPendingWrites: true}, err
	}
	c.cache.dequeue(op.Seq)
	return c.Get(ctx, path)
}

// applyMergePatch merges patch onto path's cached copy, falling back to
// the patch itself when there's nothing cached yet to merge against or
// the merge fails.
func applyMergePatch(cch *cache, path string, patch json.RawMessage) json.RawMessage {
	cached, ok := cch.get(path)
	if !ok {
		return patch
	}
	merged, err := jsonpatch.MergePatch(cached.Data, patch)
	if err != nil {
		return patch
	}
	return merged
}

// Delete soft-deletes path.
func (c *Client) Delete(ctx context.Context, path string, expectedVersion *int64) error {
	c.cache.delete(path)
	op := &queuedOp{Kind: queueDelete, Path: path, QueuedAt: nowUTC()}
	c.cache.enqueue(op)

	_, err := c.doJSON(ctx, http.MethodDelete, c.url("/documents/%s", path), deleteRequestDTO{
		UserID: c.cfg.UserID, WorkspaceID: c.cfg.WorkspaceID, ExpectedVersion: expectedVersion,
	}, nil)
	if err != nil {
		return err
	}
	c.cache.dequeue(op.Seq)
	return nil
}

type setRequestDTO struct {
	Data            json.RawMessage `json:"data"`
	UserID          string          `json:"userId"`
	WorkspaceID     string          `json:"workspaceId"`
	ExpectedVersion *int64          `json:"expectedVersion,omitempty"`
}

type updateRequestDTO struct {
	Data            json.RawMessage `json:"data"`
	UserID          string          `json:"userId"`
	WorkspaceID     string          `json:"workspaceId"`
	ExpectedVersion *int64          `json:"expectedVersion,omitempty"`
}

type deleteRequestDTO struct {
	UserID          string `json:"userId"`
	WorkspaceID     string `json:"workspaceId"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}
