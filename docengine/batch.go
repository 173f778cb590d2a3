package docengine

import (
	"context"
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/aep/docbase/apierr"
	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/rules"
	"github.com/aep/docbase/storage"
)

// BatchOpKind is the verb of one operation inside a Batch commit.
type BatchOpKind int

const (
	BatchSet BatchOpKind = iota
	BatchUpdate
	BatchDelete
)

// BatchOp is one operation within a Batch commit. Path must name an
// existing document for Update and Delete; Set creates it if absent.
// ExpectedVersion, when non-nil, makes the operation conditional the
// same way Set/Update/Delete are outside a batch.
type BatchOp struct {
	Kind            BatchOpKind
	Path            string
	Data            json.RawMessage
	ExpectedVersion *int64
}

// BatchResult reports the outcome for one BatchOp, in the same order
// the ops were submitted.
type BatchResult struct {
	Path    string
	Version int64
}

// Batch commits every op atomically: either all succeed, each against a
// contiguous run of versions, or none are applied and the whole call
// returns an error.
func (e *Engine) Batch(ctx context.Context, workspaceID string, ops []BatchOp, auth Auth) ([]BatchResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	for _, op := range ops {
		wantOp := rules.OpWrite
		if op.Kind == BatchDelete {
			wantOp = rules.OpDelete
		}
		if !e.authorize(op.Path, wantOp, auth) {
			return nil, apierr.PermissionDenied("not allowed to write %s", op.Path)
		}
	}

	var results []BatchResult
	err := withRetry(ctx, "batch", func() error {
		tx, err := e.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := tx.EnsureWorkspace(ctx, workspaceID); err != nil {
			return err
		}

		results = make([]BatchResult, 0, len(ops))
		type pub struct {
			collectionPath string
			change         eventbus.Change
		}
		pubs := make([]pub, 0, len(ops))

		for _, op := range ops {
			collectionPath, err := CollectionOf(op.Path)
			if err != nil {
				return err
			}
			collectionName, err := CollectionName(collectionPath)
			if err != nil {
				return err
			}

			existing, err := tx.GetDocumentByPathForUpdate(ctx, workspaceID, op.Path)
			if err != nil {
				return err
			}

			switch op.Kind {
			case BatchSet:
				if op.ExpectedVersion != nil {
					if existing == nil || existing.Deleted() {
						if *op.ExpectedVersion != 0 {
							return apierr.VersionConflict("expected version %d for %s, document absent", *op.ExpectedVersion, op.Path)
						}
					} else if existing.Version != *op.ExpectedVersion {
						return apierr.VersionConflict("expected version %d for %s, found %d", *op.ExpectedVersion, op.Path, existing.Version)
					}
				}
				if err := e.validateSchema(collectionName, op.Data); err != nil {
					return err
				}

				now := time.Now().UTC()
				createdAt := now
				evType := storage.EventInsert
				wasCreate := existing == nil || existing.Deleted()
				if existing != nil {
					createdAt = existing.CreatedAt
					evType = storage.EventSet
				}
				v, err := tx.AppendEvent(ctx, &storage.Event{
					ID: uuid.NewString(), DocID: op.Path, WorkspaceID: workspaceID,
					EventType: evType, Payload: op.Data, CreatedAt: now,
				})
				if err != nil {
					return err
				}
				if err := tx.UpsertDocument(ctx, &storage.Document{
					ID: op.Path, WorkspaceID: workspaceID, Path: op.Path,
					CollectionName: collectionName, OwnerID: auth.userID(),
					Data: op.Data, Version: v, CreatedAt: createdAt, UpdatedAt: now,
				}); err != nil {
					return err
				}
				results = append(results, BatchResult{Path: op.Path, Version: v})
				ct := eventbus.Updated
				if wasCreate {
					ct = eventbus.Created
				}
				pubs = append(pubs, pub{collectionPath, eventbus.Change{
					Type: ct, ID: op.Path, Path: op.Path, Version: v, Data: op.Data,
				}})

			case BatchUpdate:
				if existing == nil || existing.Deleted() {
					return apierr.NotFound("document not found: %s", op.Path)
				}
				if op.ExpectedVersion != nil && existing.Version != *op.ExpectedVersion {
					return apierr.VersionConflict("expected version %d for %s, found %d", *op.ExpectedVersion, op.Path, existing.Version)
				}
				merged, err := jsonpatch.MergePatch(existing.Data, op.Data)
				if err != nil {
					return apierr.MalformedRequest("invalid merge patch for %s: %v", op.Path, err)
				}
				if err := e.validateSchema(collectionName, merged); err != nil {
					return err
				}
				now := time.Now().UTC()
				v, err := tx.AppendEvent(ctx, &storage.Event{
					ID: uuid.NewString(), DocID: existing.ID, WorkspaceID: workspaceID,
					EventType: storage.EventUpdate, Payload: merged, CreatedAt: now,
				})
				if err != nil {
					return err
				}
				if err := tx.UpsertDocument(ctx, &storage.Document{
					ID: existing.ID, WorkspaceID: workspaceID, Path: op.Path,
					CollectionName: collectionName, OwnerID: existing.OwnerID,
					Data: merged, Version: v, CreatedAt: existing.CreatedAt, UpdatedAt: now,
				}); err != nil {
					return err
				}
				results = append(results, BatchResult{Path: op.Path, Version: v})
				pubs = append(pubs, pub{collectionPath, eventbus.Change{
					Type: eventbus.Updated, ID: op.Path, Path: op.Path, Version: v, Data: merged,
				}})

			case BatchDelete:
				if existing == nil || existing.Deleted() {
					return apierr.NotFound("document not found: %s", op.Path)
				}
				if op.ExpectedVersion != nil && existing.Version != *op.ExpectedVersion {
					return apierr.VersionConflict("expected version %d for %s, found %d", *op.ExpectedVersion, op.Path, existing.Version)
				}
				now := time.Now().UTC()
				v, err := tx.AppendEvent(ctx, &storage.Event{
					ID: uuid.NewString(), DocID: existing.ID, WorkspaceID: workspaceID,
					EventType: storage.EventDelete, Payload: existing.Data, CreatedAt: now,
				})
				if err != nil {
					return err
				}
				existing.Version = v
				existing.DeletedAt = &now
				existing.UpdatedAt = now
				if err := tx.UpsertDocument(ctx, existing); err != nil {
					return err
				}
				results = append(results, BatchResult{Path: op.Path, Version: v})
				pubs = append(pubs, pub{collectionPath, eventbus.Change{
					Type: eventbus.Deleted, ID: op.Path, Path: op.Path, Version: v,
				}})
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		for _, r := range results {
			e.invalidate(workspaceID, r.Path)
		}
		for _, p := range pubs {
			e.publish(ctx, workspaceID, p.collectionPath, p.change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
