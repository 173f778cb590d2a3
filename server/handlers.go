package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aep/docbase/apierr"
	"github.com/aep/docbase/docengine"
	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/queryengine"
	"github.com/aep/docbase/storage"
)

// IssueToken backs POST /documents/auth/token: mints a bearer token a
// client presents to the broker to authorize its subscriptions.
func (s *server) IssueToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.UserID == "" {
		return apierr.MalformedRequest("userId is required")
	}
	tok, err := s.issuer.Issue(req.UserID)
	if err != nil {
		return apierr.Internal(err, "failed to issue token")
	}
	return c.JSON(http.StatusOK, tokenResponse{Token: tok})
}

// Create backs POST /documents/<collection>.
func (s *server) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	collection := collectionPathFrom(c.Param("collection"), req.ParentPath)
	if err := validateCollectionPath(collection); err != nil {
		return err
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	path, version, err := s.engine.Create(ctx, workspaceOrDefault(req.WorkspaceID), collection, req.Data, docengine.Auth{"userId": req.UserID})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createResponse{ID: lastSegment(path), Path: path, Version: version})
}

// collectionPathFrom joins an optional parentPath ahead of the
// route's :collection segment, nesting a collection under an existing
// document.
func collectionPathFrom(collection, parentPath string) string {
	if parentPath == "" {
		return collection
	}
	return parentPath + "/" + collection
}

// List backs GET /documents/<collection>?workspaceId=&parentPath=.
func (s *server) List(c echo.Context) error {
	collection := collectionPathFrom(c.Param("collection"), c.QueryParam("parentPath"))
	if err := validateCollectionPath(collection); err != nil {
		return err
	}
	workspaceID := workspaceOrDefault(c.QueryParam("workspaceId"))
	userID := c.QueryParam("userId")

	ctx, cancel := withTimeout(c)
	defer cancel()

	docs, err := s.engine.List(ctx, workspaceID, collection, docengine.Auth{"userId": userID})
	if err != nil {
		return err
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

// Get backs GET /documents/<collection>/<id>.
func (s *server) Get(c echo.Context) error {
	path := docPath(c.Param("collection"), c.Param("id"))
	if err := validateID(c.Param("id")); err != nil {
		return err
	}
	workspaceID := workspaceOrDefault(c.QueryParam("workspaceId"))
	userID := c.QueryParam("userId")

	ctx, cancel := withTimeout(c)
	defer cancel()

	doc, err := s.engine.Get(ctx, workspaceID, path, docengine.Auth{"userId": userID})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// Set backs PUT /documents/<collection>/<id>: upsert, 201 on create and
// 200 on update.
func (s *server) Set(c echo.Context) error {
	var req setRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := validateID(c.Param("id")); err != nil {
		return err
	}
	path := docPath(collectionPathFrom(c.Param("collection"), req.ParentPath), c.Param("id"))
	workspaceID := workspaceOrDefault(req.WorkspaceID)

	ctx, cancel := withTimeout(c)
	defer cancel()

	version, created, err := s.engine.Set(ctx, workspaceID, path, req.Data, req.ExpectedVersion, docengine.Auth{"userId": req.UserID})
	if err != nil {
		return err
	}
	if created {
		return c.JSON(http.StatusCreated, createResponse{ID: lastSegment(path), Path: path, Version: version})
	}
	return c.JSON(http.StatusOK, setResponse{Success: true, Version: version})
}

// Update backs PATCH /documents/<collection>/<id>: RFC 7396 merge patch.
func (s *server) Update(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := validateID(c.Param("id")); err != nil {
		return err
	}
	path := docPath(c.Param("collection"), c.Param("id"))
	workspaceID := workspaceOrDefault(req.WorkspaceID)

	ctx, cancel := withTimeout(c)
	defer cancel()

	version, err := s.engine.Update(ctx, workspaceID, path, req.Data, req.ExpectedVersion, docengine.Auth{"userId": req.UserID})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, setResponse{Success: true, Version: version})
}

// Delete backs DELETE /documents/<collection>/<id>: soft delete, 204.
func (s *server) Delete(c echo.Context) error {
	var req deleteRequest
	// A DELETE body is optional; a missing or empty body is not an
	// error, so Bind's own EOF tolerance in Binder.Bind covers it.
	_ = c.Bind(&req)
	if err := validateID(c.Param("id")); err != nil {
		return err
	}
	path := docPath(c.Param("collection"), c.Param("id"))
	workspaceID := workspaceOrDefault(req.WorkspaceID)

	ctx, cancel := withTimeout(c)
	defer cancel()

	_, err := s.engine.Delete(ctx, workspaceID, path, req.ExpectedVersion, docengine.Auth{"userId": req.UserID})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Batch backs POST /documents/batch: an atomic multi-op commit.
func (s *server) Batch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.Operations) == 0 {
		return apierr.MalformedRequest("operations must not be empty")
	}
	workspaceID := workspaceOrDefault(req.WorkspaceID)

	ops := make([]docengine.BatchOp, 0, len(req.Operations))
	for _, o := range req.Operations {
		kind, err := parseBatchOpKind(o.Type)
		if err != nil {
			return err
		}
		ops = append(ops, docengine.BatchOp{
			Kind:            kind,
			Path:            o.Path,
			Data:            o.Data,
			ExpectedVersion: o.ExpectedVersion,
		})
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	results, err := s.engine.Batch(ctx, workspaceID, ops, docengine.Auth{"userId": req.UserID})
	if err != nil {
		return err
	}

	out := batchResponse{Success: true, Results: make([]batchOpResult, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, batchOpResult{Path: r.Path, Version: r.Version})
		out.Version = r.Version
	}
	return c.JSON(http.StatusOK, out)
}

func parseBatchOpKind(t string) (docengine.BatchOpKind, error) {
	switch t {
	case "set":
		return docengine.BatchSet, nil
	case "update":
		return docengine.BatchUpdate, nil
	case "delete":
		return docengine.BatchDelete, nil
	default:
		return 0, apierr.MalformedRequest("unknown batch operation type: %s", t)
	}
}

// Sync backs GET /documents/sync?workspaceId=&since=: the same
// contents a live subscription would have delivered, for a client
// reconnecting after being offline.
func (s *server) Sync(c echo.Context) error {
	workspaceID := workspaceOrDefault(c.QueryParam("workspaceId"))
	since, err := parseSince(c.QueryParam("since"))
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	var events []*storage.Event
	err = s.db.ReadOnly(ctx, func(tx *storage.Tx) error {
		events, err = tx.EventsSince(ctx, workspaceID, since, 1000)
		return err
	})
	if err != nil {
		return apierr.Internal(err, "sync query failed")
	}

	out := syncResponse{Changes: make([]changeDTO, 0, len(events)), ServerTime: nowUTC()}
	for _, ev := range events {
		out.Changes = append(out.Changes, changeDTO{
			Type:    changeTypeFor(ev.EventType),
			ID:      lastSegment(ev.DocID),
			Path:    ev.DocID,
			Version: ev.Version,
			Data:    dataForSync(ev),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// changeTypeFor maps the persisted event verb to the publication type a
// live subscriber would have seen. A Set that resurrects a tombstoned
// document is stored as EventSet like any other overwrite, so this
// reports it as UPDATED rather than CREATED; a client replaying sync
// still converges since it dedupes by version, not by type.
func changeTypeFor(t storage.EventType) eventbus.ChangeType {
	switch t {
	case storage.EventInsert:
		return eventbus.Created
	case storage.EventDelete:
		return eventbus.Deleted
	default:
		return eventbus.Updated
	}
}

func dataForSync(ev *storage.Event) []byte {
	if ev.EventType == storage.EventDelete {
		return nil
	}
	return ev.Payload
}

func parseSince(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apierr.MalformedRequest("since must be an integer version")
	}
	return n, nil
}

// Query backs GET /documents/query, compiling the request's filters
// through queryengine.SQL against the documents table.
func (s *server) Query(c echo.Context) error {
	workspaceID := workspaceOrDefault(c.QueryParam("workspaceId"))
	collection := c.QueryParam("collection")
	if collection == "" {
		collection = c.QueryParam("parentPath")
	}

	q := queryengine.Query{
		WorkspaceID:    workspaceID,
		CollectionPath: collection,
		OrderBy:        c.QueryParam("orderByField"),
		OrderDesc:      c.QueryParam("orderDirection") == "desc",
	}
	if lim := c.QueryParam("limit"); lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil {
			return apierr.MalformedRequest("limit must be an integer")
		}
		q.Limit = n
	}
	filters, err := parseFilters(c.QueryParam("filters"))
	if err != nil {
		return err
	}
	q.Filters = filters

	sqlText, args, err := queryengine.SQL(q)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	var docs []*storage.Document
	err = s.db.ReadOnly(ctx, func(tx *storage.Tx) error {
		docs, err = tx.QueryRows(ctx, sqlText, args)
		return err
	})
	if err != nil {
		return apierr.Internal(err, "query failed")
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

// Reset backs POST /documents/internal/reset, admin-gated in New via
// adminOnly.
func (s *server) Reset(c echo.Context) error {
	workspaceID := workspaceOrDefault(c.QueryParam("workspaceId"))

	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := s.engine.ResetWorkspace(ctx, workspaceID); err != nil {
		return apierr.Internal(err, "reset failed")
	}
	return c.JSON(http.StatusOK, resetResponse{Message: "workspace " + workspaceID + " reset"})
}
