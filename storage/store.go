// Package storage is the durable relational store: the documents and
// events tables, queried through database/sql with json_extract for
// the query engine's field access.
package storage

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventSet    EventType = "SET"
	EventDelete EventType = "DELETE"
)

// Document is the materialized row backing one live or tombstoned
// document. Data is kept as raw JSON end to end through the storage
// layer; decoding to Go values only happens where a component actually
// needs to inspect fields (rules engine bindings, merge-patch, query
// local fallback).
type Document struct {
	ID             string
	WorkspaceID    string
	Path           string
	CollectionName string
	OwnerID        string
	Data           json.RawMessage
	Version        int64
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (d *Document) Deleted() bool { return d.DeletedAt != nil }

// Event is one append-only row in the event log. Version is assigned by
// SQLite's AUTOINCREMENT rowid and is the authoritative version source
// for the document it belongs to.
type Event struct {
	Version     int64
	ID          string
	DocID       string
	WorkspaceID string
	EventType   EventType
	Payload     json.RawMessage
	CreatedAt   time.Time
}
