package storage

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
)

// HotTier is the in-memory tier. Get, Put and Delete all take a single
// mutex guarding the entry map and the LRU list; Put evicts least recently
// used entries to stay within the byte budget, and Get drops an entry whose
// TTL has expired.
type HotTier struct {
	maxBytes int64
	ttl      time.Duration

	mu        sync.Mutex
	lru       *list.List
	entries   map[string]*list.Element
	usedBytes int64

	hits, misses int64
}

type hotEntry struct {
	key       string
	data      []byte
	storedAt  time.Time
}

// NewHotTier creates a Hot tier bounded by maxBytes (0 = unbounded) and/or
// ttl (0 = no expiry). Evicted entries remain available in Warm per §4.2.
func NewHotTier(maxBytes int64, ttl time.Duration) *HotTier {
	return &HotTier{
		maxBytes: maxBytes,
		ttl:      ttl,
		lru:      list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (h *HotTier) Put(shard, id string, data []byte) error {
	key := shard + "\x00" + id
	h.mu.Lock()
	defer h.mu.Unlock()

	if el, ok := h.entries[key]; ok {
		old := el.Value.(*hotEntry)
		h.usedBytes -= int64(len(old.data))
		old.data = data
		old.storedAt = time.Now()
		h.usedBytes += int64(len(data))
		h.lru.MoveToFront(el)
	} else {
		entry := &hotEntry{key: key, data: data, storedAt: time.Now()}
		el := h.lru.PushFront(entry)
		h.entries[key] = el
		h.usedBytes += int64(len(data))
	}

	h.evictLocked()
	return nil
}

func (h *HotTier) Get(shard, id string) ([]byte, bool, error) {
	key := shard + "\x00" + id
	h.mu.Lock()
	defer h.mu.Unlock()

	el, ok := h.entries[key]
	if !ok {
		atomic.AddInt64(&h.misses, 1)
		return nil, false, nil
	}
	entry := el.Value.(*hotEntry)
	if h.ttl > 0 && time.Since(entry.storedAt) > h.ttl {
		h.removeLocked(el)
		atomic.AddInt64(&h.misses, 1)
		return nil, false, nil
	}
	h.lru.MoveToFront(el)
	atomic.AddInt64(&h.hits, 1)
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, true, nil
}

func (h *HotTier) Delete(shard, id string) error {
	key := shard + "\x00" + id
	h.mu.Lock()
	defer h.mu.Unlock()
	if el, ok := h.entries[key]; ok {
		h.removeLocked(el)
	}
	return nil
}

func (h *HotTier) List(prefix string, limit, offset int) ([]string, error) {
	return nil, aerolitherrors.Internal("hot tier does not support listing; use the metadata index")
}

func (h *HotTier) Compact() error { return nil }

func (h *HotTier) Stats() TierStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return TierStats{
		Tier:    TierHot,
		Entries: int64(len(h.entries)),
		Bytes:   h.usedBytes,
		Hits:    atomic.LoadInt64(&h.hits),
		Misses:  atomic.LoadInt64(&h.misses),
	}
}

// evictLocked evicts least-recently-used entries until under the byte
// budget. Caller must hold h.mu.
func (h *HotTier) evictLocked() {
	if h.maxBytes <= 0 {
		return
	}
	for h.usedBytes > h.maxBytes {
		back := h.lru.Back()
		if back == nil {
			return
		}
		h.removeLocked(back)
	}
}

func (h *HotTier) removeLocked(el *list.Element) {
	entry := el.Value.(*hotEntry)
	h.usedBytes -= int64(len(entry.data))
	delete(h.entries, entry.key)
	h.lru.Remove(el)
}
