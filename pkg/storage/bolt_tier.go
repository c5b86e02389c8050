package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
)

// boltBucket is the single bucket each bolt-backed tier uses; keys are
// "shard\x00id".
var boltBucket = []byte("records")

// BoltTier is a bbolt-backed KVTier, used for the Warm, Cold and Archive
// tiers (they differ only in data directory and, for Archive, in whether
// the engine compresses payloads before Put — see Engine.migrateColdToArchive).
// Generalizes the teacher's BoltStore to an opaque byte-oriented tier
// instead of a typed cluster-state store.
type BoltTier struct {
	tier Tier
	db   *bolt.DB

	mu    sync.Mutex // serializes the per-shard size bookkeeping below
	sizes map[string]int64

	hits, misses int64
}

// NewBoltTier opens (creating if needed) a bbolt database file for this
// tier under dataDir.
func NewBoltTier(tier Tier, dataDir string) (*BoltTier, error) {
	dbPath := filepath.Join(dataDir, tier.String()+".db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s tier database: %w", tier, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s tier bucket: %w", tier, err)
	}

	t := &BoltTier{tier: tier, db: db, sizes: make(map[string]int64)}
	t.primeSizes()
	return t, nil
}

func (t *BoltTier) primeSizes() {
	_ = t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		return b.ForEach(func(k, v []byte) error {
			t.mu.Lock()
			t.sizes[string(k)] = int64(len(v))
			t.mu.Unlock()
			return nil
		})
	})
}

func boltKey(shard, id string) []byte {
	return []byte(shard + "\x00" + id)
}

func (t *BoltTier) Put(shard, id string, data []byte) error {
	key := boltKey(shard, id)
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("%s tier put: %w", t.tier, err)
	}
	t.mu.Lock()
	t.sizes[string(key)] = int64(len(data))
	t.mu.Unlock()
	return nil
}

func (t *BoltTier) Get(shard, id string) ([]byte, bool, error) {
	var data []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(boltKey(shard, id))
		if v == nil {
			return nil
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s tier get: %w", t.tier, err)
	}
	if data == nil {
		atomic.AddInt64(&t.misses, 1)
		return nil, false, nil
	}
	atomic.AddInt64(&t.hits, 1)
	return data, true, nil
}

func (t *BoltTier) Delete(shard, id string) error {
	key := boltKey(shard, id)
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("%s tier delete: %w", t.tier, err)
	}
	t.mu.Lock()
	delete(t.sizes, string(key))
	t.mu.Unlock()
	return nil
}

// List enumerates ids whose raw key starts with prefix (callers normally
// drive listing off the metadata index instead; this exists to satisfy the
// KVTier contract for direct tier inspection and tooling).
func (t *BoltTier) List(prefix string, limit, offset int) ([]string, error) {
	var out []string
	skipped := 0
	err := t.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), string(prefixBytes)); k, _ = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			parts := strings.SplitN(string(k), "\x00", 2)
			if len(parts) == 2 {
				out = append(out, parts[1])
			}
		}
		return nil
	})
	return out, err
}

func (t *BoltTier) Compact() error {
	// bbolt reclaims free pages on its own; an explicit compaction would
	// copy into a fresh file. Left as a no-op until a size threshold
	// justifies the copy cost.
	return nil
}

func (t *BoltTier) Stats() TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var bytes int64
	for _, sz := range t.sizes {
		bytes += sz
	}
	return TierStats{
		Tier:    t.tier,
		Entries: int64(len(t.sizes)),
		Bytes:   bytes,
		Hits:    atomic.LoadInt64(&t.hits),
		Misses:  atomic.LoadInt64(&t.misses),
	}
}

func (t *BoltTier) Close() error {
	return t.db.Close()
}
