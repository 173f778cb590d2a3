package client

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Txn is the handle a Transaction callback reads and writes through.
// Each staged write captures the version the handle last read for
// that path, so the eventual batch commit carries the right
// per-operation expected_version.
type Txn struct {
	c           *Client
	workspaceID string
	reads       map[string]int64
	ops         []batchOpDTO
}

type batchOpDTO struct {
	Type            string          `json:"type"`
	Path            string          `json:"path"`
	Data            json.RawMessage `json:"data,omitempty"`
	ExpectedVersion *int64          `json:"expectedVersion,omitempty"`
}

// Get reads path through the transaction, remembering its version for
// use as the precondition on any later staged write to the same path.
func (tx *Txn) Get(ctx context.Context, path string) (json.RawMessage, error) {
	snap, err := tx.c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	tx.reads[path] = snap.Version
	return snap.Data, nil
}

func (tx *Txn) expectedVersion(path string) *int64 {
	if v, ok := tx.reads[path]; ok {
		return &v
	}
	return nil
}

func (tx *Txn) Set(path string, data json.RawMessage) {
	tx.ops = append(tx.ops, batchOpDTO{Type: "set", Path: path, Data: data, ExpectedVersion: tx.expectedVersion(path)})
}

func (tx *Txn) Update(path string, patch json.RawMessage) {
	tx.ops = append(tx.ops, batchOpDTO{Type: "update", Path: path, Data: patch, ExpectedVersion: tx.expectedVersion(path)})
}

func (tx *Txn) Delete(path string) {
	tx.ops = append(tx.ops, batchOpDTO{Type: "delete", Path: path, ExpectedVersion: tx.expectedVersion(path)})
}

type batchRequestDTO struct {
	UserID      string       `json:"userId"`
	WorkspaceID string       `json:"workspaceId"`
	Operations  []batchOpDTO `json:"operations"`
}

func (tx *Txn) commit(ctx context.Context) error {
	if len(tx.ops) == 0 {
		return nil
	}
	_, err := tx.c.doJSON(ctx, http.MethodPost, tx.c.url("/documents/batch"), batchRequestDTO{
		UserID: tx.c.cfg.UserID, WorkspaceID: tx.workspaceID, Operations: tx.ops,
	}, nil)
	return err
}

// maxTxnRetries bounds the number of times fn is re-invoked with fresh
// reads on a version conflict.
const maxTxnRetries = 10

// fullJitterBackoff implements cenkalti/backoff/v4's BackOff interface
// with a full-jitter schedule: delay = random(0, min(100 x
// 1.5^attempt, 2000)) ms.
type fullJitterBackoff struct {
	attempt int
}

func (b *fullJitterBackoff) NextBackOff() time.Duration {
	ceiling := math.Min(100*math.Pow(1.5, float64(b.attempt)), 2000)
	b.attempt++
	return time.Duration(rand.Float64()*ceiling) * time.Millisecond
}

func (b *fullJitterBackoff) Reset() { b.attempt = 0 }

// Transaction runs fn against a fresh Txn, committing its staged
// writes as one batch with per-operation expected_version. On a
// version conflict it re-invokes fn with fresh reads, retrying up to
// maxTxnRetries times with full-jitter backoff; exhausting the budget
// fails with a TransactionConflict error.
func (c *Client) Transaction(ctx context.Context, fn func(tx *Txn) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(&fullJitterBackoff{}, maxTxnRetries), ctx)

	op := func() error {
		tx := &Txn{c: c, workspaceID: c.cfg.WorkspaceID, reads: make(map[string]int64)}
		if err := fn(tx); err != nil {
			return backoff.Permanent(err)
		}
		err := tx.commit(ctx)
		if err != nil {
			if IsVersionConflict(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(op, bo)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	if IsVersionConflict(err) {
		return &Error{Kind: KindTransactionConflict, Message: "transaction: exceeded retry budget after version conflicts"}
	}
	return err
}
