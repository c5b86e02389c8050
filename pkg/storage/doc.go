/*
Package storage implements AerolithDB's hierarchical multi-tier storage engine.

Every document is addressable through a single uniform interface regardless of
which tier currently holds its authoritative copy. The engine probes tiers in
latency order on read, promotes hot data upward, and demotes cold data
downward on a schedule, while a metadata index tracks authoritative placement,
version, and vector clock for every (collection, doc_id) pair.

# Architecture

	┌──────────────────────── STORAGE ENGINE ──────────────────────────┐
	│                                                                    │
	│  ┌──────────────────────────────────────────────────┐           │
	│  │                      Engine                        │           │
	│  │  - put/get/delete/list/compact public surface      │           │
	│  │  - per-shard locking, checksum verify + repair     │           │
	│  └───────────────────────┬──────────────────────────┘           │
	│                          │                                        │
	│  ┌───────────────────────▼──────────────────────────┐           │
	│  │                 Metadata Index                     │           │
	│  │  - collection/doc_id -> Metadata (tier, version,   │           │
	│  │    vector clock, replica set, siblings)            │           │
	│  │  - drives list() instead of scanning tiers         │           │
	│  └───────────────────────┬──────────────────────────┘           │
	│                          │                                        │
	│  ┌──────┐  ┌──────┐  ┌──────┐  ┌─────────┐                      │
	│  │ Hot  │->│ Warm │->│ Cold │->│ Archive │   age/access-driven   │
	│  │ LRU  │  │ bolt │  │ bolt │  │  bolt    │   promotion/demotion  │
	│  └──────┘  └──────┘  └──────┘  └─────────┘                      │
	│                                                                    │
	└────────────────────────────────────────────────────────────────┘

# Core Components

KVTier:
  - Uniform Put/Get/Delete/List/Compact/Stats contract, one implementation
    per tier
  - Hot: in-process LRU bounded by byte budget and/or TTL, no durability
  - Warm/Cold/Archive: bbolt-backed, durable local persistence; Archive
    payloads are additionally compressed with the high-ratio codec before
    they reach the tier

Engine:
  - Composes the four tiers behind put/get/delete/list/compact
  - Reads probe Hot -> Warm -> Cold -> Archive and promote on hit
  - Writes land in the Hot tier, which is recorded as authoritative, and
    fan out asynchronously to Warm for durability
  - A background task demotes documents whose last access exceeds the
    configured age threshold for their current tier

Metadata Index:
  - The only structure list() consults; tiers are never scanned for
    enumeration
  - Holds the vector clock and any unresolved sibling versions for a
    document, so the resolver has what it needs without touching tier
    storage

# Usage

Creating an engine:

	eng, err := storage.NewEngine(storage.EngineConfig{
		DataDir:        "/var/lib/aerolithdb/node-1",
		HotMaxBytes:    256 * 1024 * 1024,
		ColdAfter:      24 * time.Hour,
		ArchiveAfter:   30 * 24 * time.Hour,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

Document operations:

	err := eng.Put(ctx, "users", "u1", shardID, replicaSet, clock, data)
	data, meta, err := eng.Get(ctx, "users", "u1")
	err = eng.Delete(ctx, "users", "u1")
	ids, err := eng.List(ctx, "users", 100, 0)

# Performance Characteristics

Read Operations:
  - Hot hit: O(1) map lookup, sub-microsecond
  - Warm/Cold/Archive hit: O(log n) via bbolt B+tree, typically < 1ms
  - Miss cascades through every tier in order before returning not-found

Write Operations:
  - Authoritative write: single tier Put, 1-5ms with fsync on bolt tiers
  - Warm fanout: asynchronous, does not block the caller's write latency

# Troubleshooting

Checksum Mismatch:
  - Symptom: Get returns a corruption error for a previously healthy key
  - Cause: bit rot, truncated write, disk fault
  - Response: engine marks the copy bad, attempts repair from another
    local tier, and fails the read if no clean copy is found

Tier Migration Stalls:
  - Symptom: Cold/Archive entry counts stop growing
  - Cause: migration task not scheduled, or blocked on a full disk
  - Check: tier Stats() entry/byte counts and the migration task's last
    run timestamp in logs

# Monitoring

Key metrics (see pkg/metrics):
  - aerolithdb_storage_tier_entries, aerolithdb_storage_tier_bytes per tier
  - aerolithdb_storage_tier_hits_total, aerolithdb_storage_tier_misses_total
  - aerolithdb_storage_migrations_total, aerolithdb_storage_repairs_total

# Data Integrity

  - Every stored frame carries a checksum independent of its compression,
    verified on every read
  - The metadata index is the single source of truth for which tier holds
    the authoritative copy; other tiers' copies are caches

# See Also

  - pkg/codec for the compressed+checksummed frame format
  - pkg/vectorclock and pkg/resolver for conflict detection and merge
  - pkg/sharding for how documents are assigned to shards and replicas
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
