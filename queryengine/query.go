// Package queryengine compiles ordered filter/order/limit requests into
// parameterized SQL against storage's documents table, using
// json_extract to reach into the stored JSON column. A second, pure-Go
// matcher in this package re-implements the same filter semantics in
// memory for the client SDK's offline query fallback.
package queryengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aep/docbase/apierr"
)

// Op is a comparison operator usable in a query filter.
type Op string

const (
	OpEq            Op = "=="
	OpNeq           Op = "!="
	OpLt            Op = "<"
	OpLte           Op = "<="
	OpGt            Op = ">"
	OpGte           Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
	OpLike          Op = "LIKE"
)

// Filter is one (field, op, value) triple. Filters within a Query are
// ANDed together.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Query is a full request against one collection: WorkspaceID is
// mandatory, Filters are ANDed, OrderBy/Limit are optional and, when
// present on the client's live subscription runtime, force a re-fetch
// instead of local delta application.
type Query struct {
	WorkspaceID    string
	CollectionPath string
	Filters        []Filter
	OrderBy        string
	OrderDesc      bool
	Limit          int
}

// fieldWhitelist matches the dotted field-path grammar accepted in a
// filter or order_by clause. Anything else is silently dropped rather
// than rejected: a caller who mistypes a field name gets an unfiltered
// query, not an error.
var fieldWhitelist = regexp.MustCompile(`^[A-Za-z0-9.]+$`)

const defaultLimit = 100
const maxLimit = 1000

// Compile turns q into a SQL WHERE/ORDER BY/LIMIT fragment plus its
// bound arguments, to run against storage's documents table.
func Compile(q Query) (whereSQL string, orderSQL string, limitSQL string, args []interface{}, err error) {
	if q.WorkspaceID == "" {
		return "", "", "", nil, apierr.MalformedRequest("workspace_id is required")
	}

	var clauses []string
	clauses = append(clauses, "workspace_id = ?", "deleted_at IS NULL")
	args = append(args, q.WorkspaceID)

	for _, f := range q.Filters {
		if !fieldWhitelist.MatchString(f.Field) {
			continue
		}
		clause, fargs, ok := compileFilter(f)
		if !ok {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, fargs...)
	}

	whereSQL = "WHERE " + strings.Join(clauses, " AND ")

	if q.OrderBy != "" && fieldWhitelist.MatchString(q.OrderBy) {
		dir := "ASC"
		if q.OrderDesc {
			dir = "DESC"
		}
		orderSQL = fmt.Sprintf("ORDER BY %s %s", jsonExtract(q.OrderBy), dir)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	limitSQL = "LIMIT ?"
	args = append(args, limit)

	return whereSQL, orderSQL, limitSQL, args, nil
}

// jsonExtract builds the json_extract(data, '$.field') expression for a
// dotted field path. NULL sorts lowest in SQLite's default collation,
// matching invariant that missing fields compare as NULL.
func jsonExtract(field string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

func compileFilter(f Filter) (string, []interface{}, bool) {
	expr := jsonExtract(f.Field)
	switch f.Op {
	case OpEq:
		return expr + " = ?", []interface{}{f.Value}, true
	case OpNeq:
		return fmt.Sprintf("(%s IS NULL OR %s != ?)", expr, expr), []interface{}{f.Value}, true
	case OpLt:
		return expr + " < ?", []interface{}{f.Value}, true
	case OpLte:
		return expr + " <= ?", []interface{}{f.Value}, true
	case OpGt:
		return expr + " > ?", []interface{}{f.Value}, true
	case OpGte:
		return expr + " >= ?", []interface{}{f.Value}, true
	case OpLike:
		s, ok := f.Value.(string)
		if !ok {
			return "", nil, false
		}
		return expr + " LIKE ?", []interface{}{s}, true
	case OpIn:
		values, ok := f.Value.([]interface{})
		if !ok || len(values) == 0 {
			return "1 = 0", nil, true
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		return fmt.Sprintf("%s IN (%s)", expr, placeholders), values, true
	case OpArrayContains:
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(data, '$.%s') WHERE json_each.value = ?)",
			f.Field,
		), []interface{}{f.Value}, true
	default:
		return "", nil, false
	}
}

// SQL assembles the full SELECT for q against the documents table,
// scoped to one collection path at the exact one-level-deeper nesting
// List uses, so Query never transitively descends into subcollections.
func SQL(q Query) (string, []interface{}, error) {
	where, order, limit, args, err := Compile(q)
	if err != nil {
		return "", nil, err
	}

	stmt := fmt.Sprintf(`
		SELECT id, workspace_id, collection_name, path, user_id, data, version, deleted_at, created_at, updated_at
		FROM documents
		%s AND path LIKE ? || '/%%' AND instr(substr(path, length(?) + 2), '/') = 0
		%s
		%s`, where, order, limit)

	// path LIKE and instr() both need collectionPath; splice it in right
	// after the filter args and before the LIMIT arg (which Compile
	// already appended last).
	pathArgs := []interface{}{q.CollectionPath, q.CollectionPath}
	full := append([]interface{}{}, args[:len(args)-1]...)
	full = append(full, pathArgs...)
	full = append(full, args[len(args)-1])

	return stmt, full, nil
}
