package storage

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// isSQLiteBusy unwraps a go-sqlite3 error and reports whether it is one
// of the write-conflict codes the document engine's retry loop should
// retry rather than surface to the caller.
func isSQLiteBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return true
	}
	return false
}
