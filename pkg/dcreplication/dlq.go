package dcreplication

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/aerolithdb/pkg/metrics"
)

var dlqBucket = []byte("dead_letters")

// DeadLetterQueue persistently records replication batches that exhausted
// their retry budget against a remote datacenter (§4.7 Failure handling).
// It follows the teacher's BoltStore pattern (single bucket, byte keys,
// db.Update/View transactions) generalized to dcreplication's Batch type,
// the same adaptation pkg/storage's BoltTier makes for tiered storage.
type DeadLetterQueue struct {
	db      *bolt.DB
	counter map[string]*int64
}

// NewDeadLetterQueue opens (creating if needed) a bbolt database file for
// the dead-letter queue under dataDir.
func NewDeadLetterQueue(dataDir string) (*DeadLetterQueue, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "dcreplication-dlq.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter queue: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dlqBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dead-letter bucket: %w", err)
	}
	return &DeadLetterQueue{db: db, counter: make(map[string]*int64)}, nil
}

// Put records batch as dead-lettered for dc and returns the assigned key,
// an opaque ordinal unique within dc.
func (q *DeadLetterQueue) Put(dc string, batch Batch) (string, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("marshal dead-letter batch: %w", err)
	}

	var key string
	err = q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dlqBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key = fmt.Sprintf("%s\x00%020d", dc, seq)
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("put dead-letter batch: %w", err)
	}
	metrics.DCReplicationDeadLetterTotal.WithLabelValues(dc).Inc()
	q.incr(dc)
	return key, nil
}

func (q *DeadLetterQueue) incr(dc string) {
	c, ok := q.counter[dc]
	if !ok {
		var zero int64
		c = &zero
		q.counter[dc] = c
	}
	atomic.AddInt64(c, 1)
}

// Count returns the number of batches dead-lettered for dc since this queue
// was opened; batches persisted by an earlier process are not counted.
func (q *DeadLetterQueue) Count(dc string) int64 {
	if c, ok := q.counter[dc]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

// List returns every dead-lettered batch for dc, in the order they were
// recorded, for operator inspection or manual replay.
func (q *DeadLetterQueue) List(dc string) ([]Batch, error) {
	var out []Batch
	prefix := []byte(dc + "\x00")
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dlqBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var b Batch
			if err := json.Unmarshal(v, &b); err != nil {
				return fmt.Errorf("unmarshal dead-letter batch %s: %w", k, err)
			}
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Close closes the underlying bbolt database.
func (q *DeadLetterQueue) Close() error {
	return q.db.Close()
}
