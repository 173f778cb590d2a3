package client

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// bbolt is an embedded key-value store well suited to exactly this
// shape of durable local state; etcd and Prometheus both embed it for
// the same reason.

var (
	documentsBucket = []byte("documents")
	queueBucket     = []byte("queue")
)

// pendingVersion is the sentinel cached version an optimistic write
// carries until the server confirms it.
const pendingVersion = int64(-1)

// cachedDocument is the documents-table row: value carries data,
// version, and (implicitly, via version == pendingVersion) whether the
// row is an unsynced optimistic write.
type cachedDocument struct {
	Path    string          `json:"path"`
	Data    json.RawMessage `json:"data"`
	Version int64           `json:"version"`
}

// queueOpKind is the verb of one durable outbound-queue entry.
type queueOpKind string

const (
	queueSet    queueOpKind = "set"
	queueUpdate queueOpKind = "update"
	queueDelete queueOpKind = "delete"
)

// queuedOp is one queue-table row: an outbound write the client
// couldn't confirm with the server yet.
type queuedOp struct {
	Seq            uint64          `json:"seq"`
	Kind           queueOpKind     `json:"type"`
	Path           string          `json:"path"`
	CollectionName string          `json:"collectionName"`
	ParentPath     string          `json:"parentPath,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	QueuedAt       time.Time       `json:"queuedAt"`
}

// cache wraps a bbolt database holding the documents and queue tables.
// A nil *cache means persistence is disabled (EnablePersistence
// defaults off): every method on a nil *cache is a harmless no-op, so
// callers never need a separate code path.
type cache struct {
	db *bbolt.DB
}

func openCache(path string) (*cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(documentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(queueBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &cache{db: db}, nil
}

func (c *cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

func (c *cache) get(path string) (*cachedDocument, bool) {
	if c == nil {
		return nil, false
	}
	var doc *cachedDocument
	_ = c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(documentsBucket).Get([]byte(path))
		if raw == nil {
			return nil
		}
		var d cachedDocument
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		doc = &d
		return nil
	})
	return doc, doc != nil
}

// listPrefix returns every cached document whose path starts with
// collectionPath + "/", for the offline query fallback.
func (c *cache) listPrefix(collectionPath string) []*cachedDocument {
	if c == nil {
		return nil
	}
	prefix := []byte(collectionPath + "/")
	var out []*cachedDocument
	_ = c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(documentsBucket).Cursor()
		for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
			var d cachedDocument
			if err := json.Unmarshal(v, &d); err != nil {
				continue
			}
			out = append(out, &d)
		}
		return nil
	})
	return out
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (c *cache) put(doc *cachedDocument) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(doc.Path), raw)
	})
}

func (c *cache) delete(path string) {
	if c == nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Delete([]byte(path))
	})
}

// enqueue appends op to the durable outbound queue, assigning it the
// next sequence number so drain order matches submission order.
func (c *cache) enqueue(op *queuedOp) {
	if c == nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(queueBucket)
		seq, _ := b.NextSequence()
		op.Seq = seq
		raw, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), raw)
	})
}

// queued returns every pending queue entry, in submission order.
func (c *cache) queued() []*queuedOp {
	if c == nil {
		return nil
	}
	var out []*queuedOp
	_ = c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(k, v []byte) error {
			var op queuedOp
			if err := json.Unmarshal(v, &op); err != nil {
				return nil
			}
			out = append(out, &op)
			return nil
		})
	})
	return out
}

func (c *cache) dequeue(seq uint64) {
	if c == nil {
		return
	}
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(queueBucket).Delete(seqKey(seq))
	})
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(seq)
		seq >>= 8
	}
	return b
}
