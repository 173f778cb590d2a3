package docengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/maypok86/otter"

	"github.com/aep/docbase/apierr"
	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/metrics"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/schema"
	"github.com/aep/docbase/storage"
)

// docCacheCapacity bounds the in-process read cache Engine keeps in
// front of storage.Tx.GetDocumentByPath.
const docCacheCapacity = 100_000

func docCacheKey(workspaceID, path string) string {
	return workspaceID + "\x00" + path
}

// Auth carries the caller identity the rules engine evaluates against,
// exposed to rule expressions as auth.*.
type Auth map[string]interface{}

func (a Auth) userID() string {
	if a == nil {
		return ""
	}
	v, _ := a["userId"].(string)
	return v
}

// Engine is the document store: Create/Set/Update/Delete/Get/List/Batch,
// each authorized through rules.Engine and, on success, published
// through eventbus.Bus. Every write retries internally on a busy store.
type Engine struct {
	db       *storage.DB
	rules    *rules.Engine
	bus      eventbus.Bus
	schema   *schema.Registry
	docCache otter.Cache[string, *storage.Document]
}

func New(db *storage.DB, r *rules.Engine, bus eventbus.Bus, schemas *schema.Registry) *Engine {
	cache, err := otter.MustBuilder[string, *storage.Document](docCacheCapacity).
		WithTTL(time.Minute).
		Build()
	if err != nil {
		// Only returned for a non-positive capacity, which
		// docCacheCapacity never is.
		panic(fmt.Errorf("docengine: build doc cache: %w", err))
	}
	return &Engine{db: db, rules: r, bus: bus, schema: schemas, docCache: cache}
}

// invalidate drops path's cached document after a write commits, so
// the next Get re-reads storage instead of serving a stale entry. It
// runs outside the write transaction: a cache that briefly still holds
// the pre-write value until this call lands is a narrower window than
// the TTL already accepts, and never reports a write as lost since
// writes go through storage first, the cache second.
func (e *Engine) invalidate(workspaceID, path string) {
	e.docCache.Delete(docCacheKey(workspaceID, path))
}

func (e *Engine) validateSchema(collectionName string, data json.RawMessage) error {
	if e.schema == nil {
		return nil
	}
	if err := e.schema.Validate(collectionName, data); err != nil {
		return apierr.MalformedRequest("%s", err.Error())
	}
	return nil
}

const maxConflictRetries = 20

// withRetry runs fn, retrying while fn's error indicates a SQLite busy
// condition: a short fixed delay for the first attempts, a longer one
// afterward. operation labels the busy-retry and commit-duration
// metrics emitted for the caller's op.
func withRetry(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			metrics.ObserveCommit(operation, time.Since(start))
			metrics.ObserveBusyRetries(operation, "ok", attempt)
			return nil
		}
		if !storage.IsBusy(err) || attempt >= maxConflictRetries {
			if !apierr.As(err, apierr.KindVersionConflict) && !apierr.As(err, apierr.KindNotFound) && !apierr.As(err, apierr.KindPermissionDenied) && !apierr.As(err, apierr.KindMalformedRequest) {
				metrics.IncCommitFailure(operation, err)
			}
			metrics.ObserveBusyRetries(operation, "gave_up", attempt)
			return err
		}
		delay := 10 * time.Millisecond
		if attempt > 10 {
			delay = 100 * time.Millisecond
		}
		slog.Warn("docengine: retrying after busy store", "operation", operation, "attempt", attempt, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Create inserts a new document under collectionPath with a generated
// id. Returns the assigned path and version.
func (e *Engine) Create(ctx context.Context, workspaceID, collectionPath string, data json.RawMessage, auth Auth) (path string, version int64, err error) {
	id := uuid.NewString()
	path = DocumentPath(collectionPath, id)
	version, _, err = e.set(ctx, workspaceID, path, data, nil, auth)
	return path, version, err
}

// Set upserts the document at path. If expectedVersion is non-nil, the
// write is rejected with VersionConflict when the document's current
// version differs.
// created reports whether path had no live document before this call,
// the same insert-vs-update fact the SQL upsert itself resolves, so
// callers deciding an HTTP 201-vs-200 response never need a separate
// existence check.
func (e *Engine) Set(ctx context.Context, workspaceID, path string, data json.RawMessage, expectedVersion *int64, auth Auth) (version int64, created bool, err error) {
	return e.set(ctx, workspaceID, path, data, expectedVersion, auth)
}

func (e *Engine) set(ctx context.Context, workspaceID, path string, data json.RawMessage, expectedVersion *int64, auth Auth) (int64, bool, error) {
	if !e.authorize(path, rules.OpWrite, auth) {
		return 0, false, apierr.PermissionDenied("not allowed to write %s", path)
	}
	collectionPath, err := CollectionOf(path)
	if err != nil {
		return 0, false, err
	}
	collectionName, err := CollectionName(collectionPath)
	if err != nil {
		return 0, false, err
	}
	if err := e.validateSchema(collectionName, data); err != nil {
		return 0, false, err
	}

	var version int64
	var created bool
	var changeType eventbus.ChangeType
	err = withRetry(ctx, "set", func() error {
		tx, err := e.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		existing, err := tx.GetDocumentByPathForUpdate(ctx, workspaceID, path)
		if err != nil {
			return err
		}
		if expectedVersion != nil {
			if existing == nil || existing.Deleted() {
				if *expectedVersion != 0 {
					return apierr.VersionConflict("document %s does not exist", path)
				}
			} else if existing.Version != *expectedVersion {
				return apierr.VersionConflict("expected version %d, found %d", *expectedVersion, existing.Version)
			}
		}

		evType := storage.EventInsert
		now := time.Now().UTC()
		createdAt := now
		id := path
		wasCreate := existing == nil || existing.Deleted()
		if existing != nil {
			evType = storage.EventSet
			createdAt = existing.CreatedAt
		}

		v, err := tx.AppendEvent(ctx, &storage.Event{
			ID:          uuid.NewString(),
			DocID:       id,
			WorkspaceID: workspaceID,
			EventType:   evType,
			Payload:     data,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		version = v
		created = wasCreate
		if wasCreate {
			changeType = eventbus.Created
		} else {
			changeType = eventbus.Updated
		}

		if err := tx.EnsureWorkspace(ctx, workspaceID); err != nil {
			return err
		}

		doc := &storage.Document{
			ID:             id,
			WorkspaceID:    workspaceID,
			Path:           path,
			CollectionName: collectionName,
			OwnerID:        auth.userID(),
			Data:           data,
			Version:        v,
			CreatedAt:      createdAt,
			UpdatedAt:      now,
		}
		if err := tx.UpsertDocument(ctx, doc); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, false, err
	}
	e.invalidate(workspaceID, path)

	e.publish(ctx, workspaceID, collectionPath, eventbus.Change{
		Type: changeType, ID: path, Path: path, Version: version, Data: data,
	})
	return version, created, nil
}

// Update applies a JSON merge-patch (RFC 7396) to the document at path:
// keys set to null are erased, other keys are replaced, nested objects
// merge recursively, arrays replace wholesale.
func (e *Engine) Update(ctx context.Context, workspaceID, path string, patch json.RawMessage, expectedVersion *int64, auth Auth) (version int64, err error) {
	if !e.authorize(path, rules.OpWrite, auth) {
		return 0, apierr.PermissionDenied("not allowed to write %s", path)
	}
	collectionPath, err := CollectionOf(path)
	if err != nil {
		return 0, err
	}
	collectionName, err := CollectionName(collectionPath)
	if err != nil {
		return 0, err
	}

	var mergedOut json.RawMessage
	err = withRetry(ctx, "update", func() error {
		tx, err := e.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		existing, err := tx.GetDocumentByPathForUpdate(ctx, workspaceID, path)
		if err != nil {
			return err
		}
		if existing == nil || existing.Deleted() {
			return apierr.NotFound("document not found: %s", path)
		}
		if expectedVersion != nil && existing.Version != *expectedVersion {
			return apierr.VersionConflict("expected version %d, found %d", *expectedVersion, existing.Version)
		}

		merged, err := jsonpatch.MergePatch(existing.Data, patch)
		if err != nil {
			return apierr.MalformedRequest("invalid merge patch: %s", err.Error())
		}
		if err := e.validateSchema(collectionName, merged); err != nil {
			return err
		}

		now := time.Now().UTC()
		v, err := tx.AppendEvent(ctx, &storage.Event{
			ID:          uuid.NewString(),
			DocID:       existing.ID,
			WorkspaceID: workspaceID,
			EventType:   storage.EventUpdate,
			Payload:     merged,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		version = v
		mergedOut = merged

		doc := &storage.Document{
			ID:             existing.ID,
			WorkspaceID:    workspaceID,
			Path:           path,
			CollectionName: collectionName,
			OwnerID:        existing.OwnerID,
			Data:           merged,
			Version:        v,
			CreatedAt:      existing.CreatedAt,
			UpdatedAt:      now,
		}
		if err := tx.UpsertDocument(ctx, doc); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	e.invalidate(workspaceID, path)

	e.publish(ctx, workspaceID, collectionPath, eventbus.Change{
		Type: eventbus.Updated, ID: path, Path: path, Version: version, Data: mergedOut,
	})
	return version, nil
}

// Delete soft-deletes the document at path by recording a tombstone
// (deleted_at set, data retained for audit).
func (e *Engine) Delete(ctx context.Context, workspaceID, path string, expectedVersion *int64, auth Auth) (version int64, err error) {
	if !e.authorize(path, rules.OpDelete, auth) {
		return 0, apierr.PermissionDenied("not allowed to delete %s", path)
	}
	collectionPath, err := CollectionOf(path)
	if err != nil {
		return 0, err
	}

	err = withRetry(ctx, "delete", func() error {
		tx, err := e.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		existing, err := tx.GetDocumentByPathForUpdate(ctx, workspaceID, path)
		if err != nil {
			return err
		}
		if existing == nil || existing.Deleted() {
			return apierr.NotFound("document not found: %s", path)
		}
		if expectedVersion != nil && existing.Version != *expectedVersion {
			return apierr.VersionConflict("expected version %d, found %d", *expectedVersion, existing.Version)
		}

		now := time.Now().UTC()
		v, err := tx.AppendEvent(ctx, &storage.Event{
			ID:          uuid.NewString(),
			DocID:       existing.ID,
			WorkspaceID: workspaceID,
			EventType:   storage.EventDelete,
			Payload:     existing.Data,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		version = v

		existing.Version = v
		existing.DeletedAt = &now
		existing.UpdatedAt = now
		if err := tx.UpsertDocument(ctx, existing); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	e.invalidate(workspaceID, path)

	e.publish(ctx, workspaceID, collectionPath, eventbus.Change{
		Type: eventbus.Deleted, ID: path, Path: path, Version: version,
	})
	return version, nil
}

// Get fetches the live document at path. Returns NotFound for a
// missing or tombstoned document. A hit in docCache
// skips storage entirely; every write path invalidates its key on
// commit, so a cached entry is never older than the last write this
// process observed.
func (e *Engine) Get(ctx context.Context, workspaceID, path string, auth Auth) (*storage.Document, error) {
	if !e.authorize(path, rules.OpRead, auth) {
		return nil, apierr.PermissionDenied("not allowed to read %s", path)
	}
	key := docCacheKey(workspaceID, path)
	doc, ok := e.docCache.Get(key)
	if !ok {
		err := e.db.ReadOnly(ctx, func(tx *storage.Tx) error {
			d, err := tx.GetDocumentByPath(ctx, workspaceID, path)
			if err != nil {
				return err
			}
			doc = d
			return nil
		})
		if err != nil {
			return nil, err
		}
		// A storage miss is cached too (as a typed nil), so a hot path
		// for a nonexistent document doesn't hit storage on every call.
		e.docCache.Set(key, doc)
	}
	if doc == nil || doc.Deleted() {
		return nil, apierr.NotFound("document not found: %s", path)
	}
	return doc, nil
}

// List returns the live documents exactly one segment deeper than
// collectionPath. It does not descend transitively into nested
// collections.
func (e *Engine) List(ctx context.Context, workspaceID, collectionPath string, auth Auth) ([]*storage.Document, error) {
	if !e.authorize(collectionPath, rules.OpRead, auth) {
		return nil, apierr.PermissionDenied("not allowed to read %s", collectionPath)
	}
	var docs []*storage.Document
	err := e.db.ReadOnly(ctx, func(tx *storage.Tx) error {
		d, err := tx.ListCollection(ctx, workspaceID, collectionPath)
		if err != nil {
			return err
		}
		docs = filterAuthorized(d, e.rules, auth)
		return nil
	})
	return docs, err
}

func filterAuthorized(docs []*storage.Document, r *rules.Engine, auth Auth) []*storage.Document {
	out := make([]*storage.Document, 0, len(docs))
	for _, d := range docs {
		if r.Authorize(d.Path, rules.OpRead, auth) {
			out = append(out, d)
		}
	}
	return out
}

func (e *Engine) authorize(path string, op rules.Operation, auth Auth) bool {
	return e.rules.Authorize(path, op, auth)
}

// ResetWorkspace wipes every event and document belonging to
// workspaceID. docCache has no per-workspace enumeration, so rather
// than hunt down every key that
// might belong to workspaceID this drops the whole cache: correct,
// since a reset is already an operator-invoked, whole-store-disrupting
// call, not a hot path worth optimizing around.
func (e *Engine) ResetWorkspace(ctx context.Context, workspaceID string) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.ResetWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.docCache.Clear()
	return nil
}

func (e *Engine) publish(ctx context.Context, workspaceID, collectionPath string, c eventbus.Change) {
	if e.bus == nil {
		return
	}
	c.WorkspaceID = workspaceID
	if err := e.bus.Publish(ctx, collectionPath, c); err != nil {
		slog.Error("docengine: publish failed", "path", c.Path, "err", err)
	}
}
