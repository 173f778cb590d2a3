package server

import (
	"encoding/json"
	"time"

	"github.com/aep/docbase/apierr"
	"github.com/aep/docbase/queryengine"
)

// nowUTC exists so tests can find every server-generated timestamp
// through one call site.
func nowUTC() time.Time { return time.Now().UTC() }

// parseFilters decodes the query engine's ordered filter triples from
// the filters query parameter, encoded as a JSON array of [field, op,
// value] arrays, e.g. filters=[["status","==","open"]].
func parseFilters(raw string) ([]queryengine.Filter, error) {
	if raw == "" {
		return nil, nil
	}
	var tuples [][3]interface{}
	if err := json.Unmarshal([]byte(raw), &tuples); err != nil {
		return nil, apierr.MalformedRequest("filters must be a JSON array of [field, op, value] triples")
	}
	out := make([]queryengine.Filter, 0, len(tuples))
	for _, t := range tuples {
		field, ok := t[0].(string)
		if !ok {
			return nil, apierr.MalformedRequest("filter field must be a string")
		}
		op, ok := t[1].(string)
		if !ok {
			return nil, apierr.MalformedRequest("filter op must be a string")
		}
		out = append(out, queryengine.Filter{Field: field, Op: queryengine.Op(op), Value: t[2]})
	}
	return out, nil
}
