package rules

import (
	"fmt"
	"strings"
)

// segmentKind distinguishes the four pattern segment shapes: a literal
// segment, a single-segment capture `{name}`, a tail wildcard capture
// `{name=**}`, and a bare tail wildcard `**`; the last two must be the
// final segment.
type segmentKind int

const (
	segLiteral segmentKind = iota
	segCapture
	segTailCapture
	segTailWildcard
)

type segment struct {
	kind    segmentKind
	literal string
	name    string
}

// Pattern is a compiled path-pattern: literal segments, `{name}`
// single-segment captures, and a trailing `**` wildcard.
type Pattern struct {
	raw      string
	segments []segment
}

// ParsePattern compiles a pattern string such as "users/{uid}/posts/{id}"
// or "admin/**" into a Pattern. Parse errors are returned rather than
// panicking so a malformed rule file fails fast at load time.
func ParsePattern(raw string) (*Pattern, error) {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	segs := make([]segment, 0, len(parts))

	for i, part := range parts {
		switch {
		case part == "**":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("rules: %q: '**' must be the final segment", raw)
			}
			segs = append(segs, segment{kind: segTailWildcard})

		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			inner := part[1 : len(part)-1]
			if inner == "" {
				return nil, fmt.Errorf("rules: %q: empty capture name", raw)
			}
			if strings.HasSuffix(inner, "=**") {
				if i != len(parts)-1 {
					return nil, fmt.Errorf("rules: %q: tail capture must be the final segment", raw)
				}
				segs = append(segs, segment{kind: segTailCapture, name: strings.TrimSuffix(inner, "=**")})
			} else {
				segs = append(segs, segment{kind: segCapture, name: inner})
			}

		default:
			segs = append(segs, segment{kind: segLiteral, literal: part})
		}
	}

	return &Pattern{raw: raw, segments: segs}, nil
}

func (p *Pattern) String() string { return p.raw }

// Match attempts to match path against the compiled pattern, returning the
// captured segment bindings on success.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	bindings := make(map[string]string)

	i := 0
	for _, seg := range p.segments {
		switch seg.kind {
		case segLiteral:
			if i >= len(pathParts) || pathParts[i] != seg.literal {
				return nil, false
			}
			i++

		case segCapture:
			if i >= len(pathParts) {
				return nil, false
			}
			bindings[seg.name] = pathParts[i]
			i++

		case segTailCapture:
			bindings[seg.name] = strings.Join(pathParts[i:], "/")
			i = len(pathParts)

		case segTailWildcard:
			// A trailing /** matches any proper-prefix path: there must be
			// at least one more segment after what's already matched.
			if i >= len(pathParts) {
				return nil, false
			}
			i = len(pathParts)
		}
	}

	if i != len(pathParts) {
		return nil, false
	}

	return bindings, true
}
