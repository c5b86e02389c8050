package storage

import (
	"sort"
	"sync"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
)

// MetadataIndex is the single source of truth list() consults (§4.2); tiers
// themselves are never scanned for enumeration. Durability of the index
// comes from the consensus-committed replicated log that drives Put/Delete,
// not from the index structure itself — see Engine.
type MetadataIndex struct {
	mu      sync.RWMutex
	byKey   map[string]*Metadata            // Key(collection, docID) -> metadata
	byColl  map[string]map[string]struct{}  // collection -> set of doc ids, for ordered listing
}

// NewMetadataIndex returns an empty index.
func NewMetadataIndex() *MetadataIndex {
	return &MetadataIndex{
		byKey:  make(map[string]*Metadata),
		byColl: make(map[string]map[string]struct{}),
	}
}

// Put inserts or overwrites the metadata record for (collection, docID).
func (idx *MetadataIndex) Put(meta Metadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := Key(meta.Collection, meta.DocID)
	idx.byKey[key] = &meta

	ids, ok := idx.byColl[meta.Collection]
	if !ok {
		ids = make(map[string]struct{})
		idx.byColl[meta.Collection] = ids
	}
	ids[meta.DocID] = struct{}{}
}

// Get returns the metadata record for (collection, docID), if present.
func (idx *MetadataIndex) Get(collection, docID string) (Metadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.byKey[Key(collection, docID)]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

// Delete removes the metadata record for (collection, docID). Callers that
// need a tombstone (rather than an erasure) should Put a Metadata with
// Tombstone set instead.
func (idx *MetadataIndex) Delete(collection, docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byKey, Key(collection, docID))
	if ids, ok := idx.byColl[collection]; ok {
		delete(ids, docID)
	}
}

// List enumerates document ids in collection in sorted order, applying
// offset then limit (limit <= 0 means unbounded). This is the only listing
// path the engine exposes; it never touches tier storage (§4.2).
func (idx *MetadataIndex) List(collection string, limit, offset int) ([]string, error) {
	if offset < 0 || limit < 0 {
		return nil, aerolitherrors.Internal("list: limit and offset must be non-negative")
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := idx.byColl[collection]
	out := make([]string, 0, len(ids))
	for id := range ids {
		if m, ok := idx.byKey[Key(collection, id)]; ok && m.Tombstone {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)

	if offset >= len(out) {
		return []string{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of live (non-tombstoned) documents in collection.
func (idx *MetadataIndex) Count(collection string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for id := range idx.byColl[collection] {
		if m, ok := idx.byKey[Key(collection, id)]; ok && !m.Tombstone {
			n++
		}
	}
	return n
}
