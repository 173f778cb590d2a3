package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the relational store. It is the one place the project talks
// database/sql; the document engine and query engine only ever see Tx.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// brings its schema up to date via golang-migrate. A busy_timeout is
// set so the document engine's bounded-retry loop has time to observe
// SQLITE_BUSY rather than failing outright.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite is single-writer; serialize at the pool.

	if err := migrateUp(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sql: sqlDB}, nil
}

func migrateUp(sqlDB *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("storage: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) Ping() error { return d.sql.Ping() }

// Begin starts a transaction with the driver's default (deferred)
// locking: SQLite takes the write lock at the first write statement,
// and a conflicting writer surfaces as SQLITE_BUSY, which IsBusy
// reports as retryable. Within this process the single pooled
// connection already serializes every transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// ReadOnly runs fn in a read-only transaction. WAL mode lets it read
// alongside a writer on another connection; within this process it
// waits for the single pooled connection like any other transaction.
func (d *DB) ReadOnly(ctx context.Context, fn func(*Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(&Tx{tx: tx})
}

// IsBusy reports whether err is SQLite signaling a write conflict the
// caller should retry.
func IsBusy(err error) bool {
	return errors.Is(err, sql.ErrTxDone) || isSQLiteBusy(err)
}

// Tx is one atomic unit of work. A batch commit runs every operation's
// document mutation and event append through the same Tx before
// Commit, which is what makes the batch all-or-nothing.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// GetDocumentByPath fetches a document (live or tombstoned) by its
// workspace-scoped path. Returns (nil, nil) if absent.
func (t *Tx) GetDocumentByPath(ctx context.Context, workspaceID, path string) (*Document, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, workspace_id, collection_name, path, user_id, data, version, deleted_at, created_at, updated_at
		FROM documents WHERE workspace_id = ? AND path = ?`, workspaceID, path)
	return scanDocument(row)
}

// GetDocumentByPathForUpdate is semantically identical to
// GetDocumentByPath: SQLite transactions lock the whole database on
// first write, so there is no separate row-lock step to take here, unlike
// a client/server RDBMS. The distinct name documents intent at call
// sites that rely on the read happening inside the same Tx as the write.
func (t *Tx) GetDocumentByPathForUpdate(ctx context.Context, workspaceID, path string) (*Document, error) {
	return t.GetDocumentByPath(ctx, workspaceID, path)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var deletedAt sql.NullTime
	err := row.Scan(&d.ID, &d.WorkspaceID, &d.CollectionName, &d.Path, &d.OwnerID, &d.Data, &d.Version, &deletedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		d.DeletedAt = &deletedAt.Time
	}
	return &d, nil
}

// AppendEvent inserts an event row and returns its assigned version. The
// event is always appended before the document mutation inside the same
// Tx, so the returned version can be bound into the document write.
func (t *Tx) AppendEvent(ctx context.Context, ev *Event) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (id, doc_id, workspace_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.DocID, ev.WorkspaceID, string(ev.EventType), []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpsertDocument writes the full document row, creating it if absent.
func (t *Tx) UpsertDocument(ctx context.Context, d *Document) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, collection_name, path, user_id, data, version, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, path) DO UPDATE SET
			collection_name = excluded.collection_name,
			user_id = excluded.user_id,
			data = excluded.data,
			version = excluded.version,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at`,
		d.ID, d.WorkspaceID, d.CollectionName, d.Path, d.OwnerID, []byte(d.Data), d.Version, nullTime(d.DeletedAt), d.CreatedAt, d.UpdatedAt)
	return err
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// ListCollection returns the non-deleted documents directly under
// collectionPath, i.e. exactly one nesting level deeper. It does not
// descend into nested collections.
func (t *Tx) ListCollection(ctx context.Context, workspaceID, collectionPath string) ([]*Document, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, workspace_id, collection_name, path, user_id, data, version, deleted_at, created_at, updated_at
		FROM documents
		WHERE workspace_id = ? AND deleted_at IS NULL
		  AND path LIKE ? || '/%'
		  AND instr(substr(path, length(?) + 2), '/') = 0`,
		workspaceID, collectionPath, collectionPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var out []*Document
	for rows.Next() {
		var d Document
		var deletedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.CollectionName, &d.Path, &d.OwnerID, &d.Data, &d.Version, &deletedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			d.DeletedAt = &deletedAt.Time
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// QueryRows runs a pre-compiled, parameterized SELECT built by the query
// engine. storage never builds SQL fragments from unvalidated input
// itself; that whitelisting happens in the queryengine package.
func (t *Tx) QueryRows(ctx context.Context, sqlText string, args []interface{}) ([]*Document, error) {
	rows, err := t.tx.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ResetWorkspace truncates every document and event belonging to
// workspaceID. Backs POST /documents/internal/reset.
func (t *Tx) ResetWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE workspace_id = ?`, workspaceID); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM events WHERE workspace_id = ?`, workspaceID); err != nil {
		return err
	}
	return nil
}

// EnsureWorkspace upserts a workspace row, so first-touch of a workspace
// id doesn't need a separate provisioning step.
func (t *Tx) EnsureWorkspace(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO workspaces (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id)
	return err
}

// EventsSince returns events for workspaceID with version > since, in
// increasing version order, for the incremental sync endpoint (§6
// GET /documents/sync).
func (t *Tx) EventsSince(ctx context.Context, workspaceID string, since int64, limit int) ([]*Event, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT version, id, doc_id, workspace_id, event_type, payload, created_at
		FROM events WHERE workspace_id = ? AND version > ?
		ORDER BY version ASC LIMIT ?`, workspaceID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var et string
		if err := rows.Scan(&e.Version, &e.ID, &e.DocID, &e.WorkspaceID, &et, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = EventType(et)
		out = append(out, &e)
	}
	return out, rows.Err()
}
