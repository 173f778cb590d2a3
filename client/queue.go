package client

import (
	"context"
	"net/http"
)

// drainQueue replays the durable outbound queue in submission order:
// drained serially to preserve per-path ordering, and failure of any
// entry halts the drain until the next trigger.
func (c *Client) drainQueue(ctx context.Context) {
	for _, op := range c.cache.queued() {
		if !c.replay(ctx, op) {
			return
		}
	}
}

func (c *Client) replay(ctx context.Context, op *queuedOp) bool {
	var err error
	switch op.Kind {
	case queueSet:
		var out setResponseDTO
		_, err = c.doJSON(ctx, http.MethodPut, c.url("/documents/%s", op.Path), setRequestDTO{
			Data: op.Data, UserID: c.cfg.UserID, WorkspaceID: c.cfg.WorkspaceID,
		}, &out)
		if err == nil {
			c.cache.put(&cachedDocument{Path: op.Path, Data: op.Data, Version: out.Version})
		}
	case queueUpdate:
		var out setResponseDTO
		_, err = c.doJSON(ctx, http.MethodPatch, c.url("/documents/%s", op.Path), updateRequestDTO{
			Data: op.Data, UserID: c.cfg.UserID, WorkspaceID: c.cfg.WorkspaceID,
		}, &out)
		if err == nil {
			merged := applyMergePatch(c.cache, op.Path, op.Data)
			c.cache.put(&cachedDocument{Path: op.Path, Data: merged, Version: out.Version})
		}
	case queueDelete:
		_, err = c.doJSON(ctx, http.MethodDelete, c.url("/documents/%s", op.Path), deleteRequestDTO{
			UserID: c.cfg.UserID, WorkspaceID: c.cfg.WorkspaceID,
		}, nil)
	}
	if err != nil {
		return false
	}
	c.cache.dequeue(op.Seq)
	return true
}
