package server

import (
	"fmt"

	"github.com/aep/docbase/apierr"
)

// validateSegment enforces the character allowlist applied to every
// path segment (collection names and document ids): 1 to 128 bytes of
// letters, digits, '.', '-' and '_'.
func validateSegment(kind, s string) error {
	if len(s) < 1 {
		return apierr.MalformedRequest("%s must not be empty", kind)
	}
	if len(s) > 128 {
		return apierr.MalformedRequest("%s must be at most 128 bytes", kind)
	}
	for _, ch := range s {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '.' || ch == '-' || ch == '_') {
			return apierr.MalformedRequest("%s has invalid character: %c", kind, ch)
		}
	}
	return nil
}

func validateCollectionPath(path string) error {
	segs, err := splitAndValidate(path, "collection")
	_ = segs
	return err
}

func validateID(id string) error {
	return validateSegment("id", id)
}

func splitAndValidate(path, kind string) ([]string, error) {
	if path == "" {
		return nil, apierr.MalformedRequest("%s must not be empty", kind)
	}
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			seg := path[start:i]
			if err := validateSegment(kind+" segment", seg); err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			start = i + 1
		}
	}
	return segs, nil
}
