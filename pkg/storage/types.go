// Package storage implements the hierarchical multi-tier storage engine
// (§4.2): four tiers behind a uniform key->bytes interface, with
// read-through promotion, age-based demotion, and a metadata index.
package storage

import (
	"time"

	"github.com/cuemby/aerolithdb/pkg/vectorclock"
)

// Tier identifies one of the four latency classes a document may reside in.
type Tier int

const (
	TierHot Tier = iota
	TierWarm
	TierCold
	TierArchive
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// orderedTiers lists tiers in probe order for reads (Hot -> Archive) and
// fanout order for writes.
var orderedTiers = []Tier{TierHot, TierWarm, TierCold, TierArchive}

// KVTier is the uniform key->bytes contract consumed by the storage engine,
// one implementation per tier. Each implementation guarantees durability
// appropriate to its tier class (Hot: none beyond process memory; Warm:
// local fsync'd persistence; Cold/Archive: durable local persistence
// standing in for this peer's share of the cross-peer distributed copy,
// since cross-peer placement itself is the sharding layer's concern).
type KVTier interface {
	Put(shard, id string, data []byte) error
	Get(shard, id string) ([]byte, bool, error)
	Delete(shard, id string) error
	// List enumerates ids whose raw "shard\x00id" key starts with prefix.
	// The storage engine's own list() operation does not call this — per
	// §4.2 it drives listing off the metadata index — but the contract is
	// exposed for tooling and tier-level inspection.
	List(prefix string, limit, offset int) ([]string, error)
	Compact() error
	Stats() TierStats
}

// TierStats is returned by a tier's Stats() for the coordinator's stats()
// surface (per-tier sizes, hit rates).
type TierStats struct {
	Tier      Tier
	Entries   int64
	Bytes     int64
	Hits      int64
	Misses    int64
}

// Metadata is the per-document record the metadata index stores — the
// authoritative description of where a document lives and its identity,
// independent of the bytes themselves: shadow copies in other tiers are
// caches, the index always names the authoritative tier.
type Metadata struct {
	Collection     string
	DocID          string
	Version        uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Checksum       uint64
	AuthoritativeTier Tier
	ShardID        string
	ReplicaSet     []string
	Clock          *vectorclock.Clock
	Tombstone      bool
	// Siblings holds concurrently-written versions not yet resolved by the
	// conflict resolver (§4.4); empty once reconciled.
	Siblings []Metadata
}

// Key returns the (collection, doc_id) composite identity as a single
// string, used as the metadata index's map key.
func Key(collection, docID string) string {
	return collection + "\x00" + docID
}
