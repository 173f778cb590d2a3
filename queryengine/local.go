package queryengine

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// MatchLocal re-implements Filter/OrderBy/Limit in memory against
// already-decoded documents, for the client SDK's offline query
// fallback: when the network is unavailable, a query runs against the
// local cache using the same filter semantics as the server, with
// missing fields sorting last under ascending order.
func MatchLocal(docs []map[string]interface{}, q Query) []map[string]interface{} {
	matched := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		if matchesAll(d, q.Filters) {
			matched = append(matched, d)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			vi, oki := fieldValue(matched[i], q.OrderBy)
			vj, okj := fieldValue(matched[j], q.OrderBy)
			less := compareMissingLast(vi, oki, vj, okj)
			if q.OrderDesc {
				return !less && compareMissingLast(vj, okj, vi, oki)
			}
			return less
		})
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

func matchesAll(d map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		v, ok := fieldValue(d, f.Field)
		if !matchesFilter(v, ok, f) {
			return false
		}
	}
	return true
}

func matchesFilter(v interface{}, ok bool, f Filter) bool {
	switch f.Op {
	case OpEq:
		return ok && equalJSON(v, f.Value)
	case OpNeq:
		return !ok || !equalJSON(v, f.Value)
	case OpLt, OpLte, OpGt, OpGte:
		if !ok {
			return false
		}
		return compareOrdered(v, f.Value, f.Op)
	case OpIn:
		values, isSlice := f.Value.([]interface{})
		if !ok || !isSlice {
			return false
		}
		for _, cand := range values {
			if equalJSON(v, cand) {
				return true
			}
		}
		return false
	case OpArrayContains:
		arr, isSlice := v.([]interface{})
		if !ok || !isSlice {
			return false
		}
		for _, item := range arr {
			if equalJSON(item, f.Value) {
				return true
			}
		}
		return false
	case OpLike:
		s, isStr := v.(string)
		pattern, patOk := f.Value.(string)
		if !ok || !isStr || !patOk {
			return false
		}
		return likeMatch(s, pattern)
	default:
		return false
	}
}

func fieldValue(d map[string]interface{}, dotted string) (interface{}, bool) {
	parts := strings.Split(dotted, ".")
	var cur interface{} = d
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, present := m[p]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func equalJSON(a, b interface{}) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}

func compareOrdered(a, b interface{}, op Op) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return compareNums(af, bf, op)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return compareStrings(as, bs, op)
	}
	return false
}

func compareNums(a, b float64, op Op) bool {
	switch op {
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	}
	return false
}

func compareStrings(a, b string, op Op) bool {
	switch op {
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// compareMissingLast orders a < b, treating a missing value (ok=false)
// as sorting after every present value, ascending.
func compareMissingLast(a interface{}, aok bool, b interface{}, bok bool) bool {
	if !aok && !bok {
		return false
	}
	if !aok {
		return false
	}
	if !bok {
		return true
	}
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return af < bf
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as < bs
	}
	return false
}

func likeMatch(s, pattern string) bool {
	// SQL LIKE: '%' any run of chars, '_' any single char. Translated to
	// a simple glob since the client's offline matcher never sees the
	// backing SQL engine.
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re, err := regexp.Compile("^" + sb.String() + "$")
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
