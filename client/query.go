package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aep/docbase/queryengine"
)

// Query is a fluent builder over queryengine.Query, running against
// the REST /documents/query endpoint.
type Query struct {
	c *Client
	q queryengine.Query
}

func (c *Client) Query(collectionPath string) *Query {
	return &Query{c: c, q: queryengine.Query{WorkspaceID: c.cfg.WorkspaceID, CollectionPath: collectionPath}}
}

func (q *Query) Where(field string, op queryengine.Op, value interface{}) *Query {
	q.q.Filters = append(q.q.Filters, queryengine.Filter{Field: field, Op: op, Value: value})
	return q
}

func (q *Query) OrderBy(field string, desc bool) *Query {
	q.q.OrderBy = field
	q.q.OrderDesc = desc
	return q
}

func (q *Query) Limit(n int) *Query {
	q.q.Limit = n
	return q
}

// Run executes the query against the server, falling back to the
// local cache's MatchLocal evaluation on network failure.
func (q *Query) Run(ctx context.Context) ([]Snapshot, error) {
	results, _, err := q.c.runQuery(ctx, q.q)
	return results, err
}

type queryResultDTO struct {
	Path    string          `json:"path"`
	Data    json.RawMessage `json:"data"`
	Version int64           `json:"version"`
}

// runQuery is the shared network-with-cache-fallback query primitive
// used by Query.Run and the collection subscription's initial fetch
// and re-fetches. It returns the max version among results, the
// subscription runtime's dedup watermark.
func (c *Client) runQuery(ctx context.Context, q queryengine.Query) ([]Snapshot, int64, error) {
	filtersJSON, _ := json.Marshal(filtersToTuples(q.Filters))
	url := c.url("/documents/query?workspaceId=%s&collection=%s&filters=%s&orderByField=%s&orderDirection=%s",
		q.WorkspaceID, q.CollectionPath, string(filtersJSON), q.OrderBy, orderDirection(q.OrderDesc))
	if q.Limit > 0 {
		url += "&limit=" + strconv.Itoa(q.Limit)
	}

	var out []queryResultDTO
	_, err := c.doJSON(ctx, http.MethodGet, url, nil, &out)
	if err != nil {
		if _, isHTTP := err.(*Error); isHTTP {
			return nil, 0, err
		}
		return c.runQueryLocal(q), 0, nil
	}

	results := make([]Snapshot, 0, len(out))
	var maxVersion int64
	for _, r := range out {
		results = append(results, Snapshot{Path: r.Path, Data: r.Data, Version: r.Version})
		c.cache.put(&cachedDocument{Path: r.Path, Data: r.Data, Version: r.Version})
		if r.Version > maxVersion {
			maxVersion = r.Version
		}
	}
	return results, maxVersion, nil
}

// runQueryLocal answers q entirely from the cache, used when the
// network call in runQuery fails.
func (c *Client) runQueryLocal(q queryengine.Query) []Snapshot {
	cached := c.cache.listPrefix(q.CollectionPath)
	docs := make([]map[string]interface{}, 0, len(cached))
	byRef := make(map[int]*cachedDocument, len(cached))
	for i, d := range cached {
		var m map[string]interface{}
		if err := json.Unmarshal(d.Data, &m); err != nil {
			continue
		}
		m["__idx"] = i
		docs = append(docs, m)
		byRef[i] = d
	}

	matched := queryengine.MatchLocal(docs, q)
	out := make([]Snapshot, 0, len(matched))
	for _, m := range matched {
		idx, _ := m["__idx"].(int)
		d := byRef[idx]
		out = append(out, Snapshot{
			Path: d.Path, Data: d.Data, Version: d.Version,
			FromCache: true, HasPendingWrites: d.Version == pendingVersion,
		})
	}
	return out
}

func filtersToTuples(filters []queryengine.Filter) [][3]interface{} {
	out := make([][3]interface{}, 0, len(filters))
	for _, f := range filters {
		out = append(out, [3]interface{}{f.Field, string(f.Op), f.Value})
	}
	return out
}

func orderDirection(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}
