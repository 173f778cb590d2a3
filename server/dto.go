package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/aep/docbase/eventbus"
	"github.com/aep/docbase/storage"
)

// The wire shapes below use the camelCase field names the HTTP surface
// exposes; every internal package speaks Go-idiomatic snake/PascalCase,
// so this file is the one seam that bridges them.

type tokenRequest struct {
	UserID string `json:"userId"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type createRequest struct {
	Data        json.RawMessage `json:"data"`
	UserID      string          `json:"userId"`
	WorkspaceID string          `json:"workspaceId"`
	ParentPath  string          `json:"parentPath"`
}

type createResponse struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Version int64  `json:"version"`
}

type setRequest struct {
	Data            json.RawMessage `json:"data"`
	UserID          string          `json:"userId"`
	WorkspaceID     string          `json:"workspaceId"`
	ParentPath      string          `json:"parentPath"`
	ExpectedVersion *int64          `json:"expectedVersion"`
}

type setResponse struct {
	Success bool  `json:"success"`
	Version int64 `json:"version"`
}

type updateRequest struct {
	Data            json.RawMessage `json:"data"`
	UserID          string          `json:"userId"`
	WorkspaceID     string          `json:"workspaceId"`
	ExpectedVersion *int64          `json:"expectedVersion"`
}

type deleteRequest struct {
	UserID          string `json:"userId"`
	WorkspaceID     string `json:"workspaceId"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type documentResponse struct {
	ID        string          `json:"id"`
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toDocumentResponse(d *storage.Document) documentResponse {
	return documentResponse{
		ID:        lastSegment(d.Path),
		Path:      d.Path,
		Data:      d.Data,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

type batchOpRequest struct {
	Type            string          `json:"type"`
	Path            string          `json:"path"`
	Data            json.RawMessage `json:"data,omitempty"`
	ExpectedVersion *int64          `json:"expectedVersion,omitempty"`
}

type batchRequest struct {
	UserID      string           `json:"userId"`
	WorkspaceID string           `json:"workspaceId"`
	Operations  []batchOpRequest `json:"operations"`
}

type batchOpResult struct {
	Path    string `json:"path"`
	Version int64  `json:"version"`
}

type batchResponse struct {
	Success bool            `json:"success"`
	Version int64           `json:"version"`
	Results []batchOpResult `json:"results"`
}

type changeDTO struct {
	Type    eventbus.ChangeType `json:"type"`
	ID      string              `json:"id"`
	Path    string              `json:"path"`
	Version int64               `json:"version"`
	Data    json.RawMessage     `json:"data,omitempty"`
}

type syncResponse struct {
	Changes    []changeDTO `json:"changes"`
	ServerTime time.Time   `json:"serverTime"`
}

type resetResponse struct {
	Message string `json:"message"`
}
