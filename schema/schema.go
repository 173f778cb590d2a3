// Package schema validates document payloads against an optional
// per-collection JSON Schema, compiled and cached by collection name.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds compiled schemas keyed by collection name. A
// collection with no registered schema is unvalidated, so adopting
// schemas is opt-in per collection.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and associates it with collectionName.
// A later call for the same name replaces the previous schema.
func (r *Registry) Register(collectionName string, schemaJSON []byte) error {
	compiler := jsonschema.NewCompiler()
	url := "mem://" + collectionName
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema: compile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[collectionName] = compiled
	return nil
}

// Unregister removes any schema associated with collectionName.
func (r *Registry) Unregister(collectionName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, collectionName)
}

// Validate checks data against collectionName's registered schema, a
// no-op if none is registered.
func (r *Registry) Validate(collectionName string, data []byte) error {
	r.mu.RLock()
	s, ok := r.schemas[collectionName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("schema: invalid json: %w", err)
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: validation failed for %s: %w", collectionName, err)
	}
	return nil
}
