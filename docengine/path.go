// Package docengine implements the document store operations: Create,
// Set, Update, Delete, Get, List and Batch, layered over storage for
// persistence, rules for authorization and eventbus for change
// propagation.
package docengine

import (
	"strings"

	"github.com/aep/docbase/apierr"
)

// PathKind distinguishes a collection path from a document path by
// segment parity: an odd number of segments names a collection, an
// even number names a document.
type PathKind int

const (
	KindCollection PathKind = iota
	KindDocument
)

// ClassifyPath reports whether path names a collection or a document,
// and rejects empty segments (leading/trailing/doubled slashes).
func ClassifyPath(path string) (PathKind, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return 0, err
	}
	if len(segs)%2 == 1 {
		return KindCollection, nil
	}
	return KindDocument, nil
}

// SplitPath splits a path into its slash-separated segments, rejecting
// the empty segments that leading, trailing or doubled slashes produce.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, apierr.MalformedRequest("path must not be empty")
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, apierr.MalformedRequest("path must not contain empty segments")
		}
	}
	return segs, nil
}

// CollectionOf returns the collection path that directly owns a
// document path, i.e. every segment but the last.
func CollectionOf(docPath string) (string, error) {
	segs, err := SplitPath(docPath)
	if err != nil {
		return "", err
	}
	if len(segs)%2 != 0 {
		return "", apierr.MalformedRequest("not a document path: %s", docPath)
	}
	return strings.Join(segs[:len(segs)-1], "/"), nil
}

// DocumentPath joins a collection path and an id into the document path
// directly beneath it.
func DocumentPath(collectionPath, id string) string {
	if collectionPath == "" {
		return id
	}
	return collectionPath + "/" + id
}

// CollectionName returns the final collection segment of a collection
// path, used as the documents.collection_name denormalized column.
func CollectionName(collectionPath string) (string, error) {
	segs, err := SplitPath(collectionPath)
	if err != nil {
		return "", err
	}
	if len(segs)%2 != 1 {
		return "", apierr.MalformedRequest("not a collection path: %s", collectionPath)
	}
	return segs[len(segs)-1], nil
}
