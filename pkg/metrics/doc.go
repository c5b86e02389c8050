/*
Package metrics provides Prometheus metrics collection and exposition for
AerolithDB.

The metrics package defines and registers every metric using the Prometheus
client library, providing observability into storage tier occupancy,
sharding, Byzantine consensus, partition state, cross-datacenter
replication, and document operation throughput/latency. Metrics are exposed
via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (tier entry count)   │          │
	│  │  Counter: Monotonic increases (operations)  │          │
	│  │  Histogram: Distributions (latency)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Storage: Tier entries/bytes, hits, repairs │          │
	│  │  Sharding: Ring size, rebalanced keys       │          │
	│  │  Consensus: Leader, log index, proposals    │          │
	│  │  Partition: Active split, component size    │          │
	│  │  DC Replication: Lag, queue depth, dead-lets│          │
	│  │  Document: Operations, duration, conflicts  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Storage tier metrics:

aerolithdb_storage_tier_entries{tier}:
  - Type: Gauge
  - Description: Document count per tier (hot/warm/cold/archive)

aerolithdb_storage_tier_bytes{tier}:
  - Type: Gauge
  - Description: Bytes stored per tier

aerolithdb_storage_tier_hits_total{tier} / aerolithdb_storage_tier_misses_total{tier}:
  - Type: Counter
  - Description: Read hits/misses per tier probed during Get

aerolithdb_storage_migrations_total{from_tier,to_tier}:
  - Type: Counter
  - Description: Documents migrated between tiers (warm->cold, cold->archive)

aerolithdb_storage_repairs_total{tier}:
  - Type: Counter
  - Description: Local tier repairs triggered by a checksum mismatch

aerolithdb_storage_operation_duration_seconds{operation}:
  - Type: Histogram
  - Description: Put/Get/Delete/List latency

Sharding metrics:

aerolithdb_sharding_ring_peers:
  - Type: Gauge
  - Description: Physical peers currently in the consistent-hash ring

aerolithdb_sharding_rebalanced_keys_total:
  - Type: Counter
  - Description: Virtual-node reassignments caused by ring membership changes

Consensus metrics:

aerolithdb_consensus_is_leader:
  - Type: Gauge
  - Description: Whether this peer holds raft leadership (1/0); independent
    from BFT coordinator status, see pkg/consensus.Node.IsRaftLeader's doc.

aerolithdb_consensus_log_index / aerolithdb_consensus_applied_index:
  - Type: Gauge
  - Description: Raft's last log index and last applied index

aerolithdb_consensus_peers_total:
  - Type: Gauge
  - Description: Cluster membership size this peer's engine knows about

aerolithdb_consensus_proposals_total{outcome}:
  - Type: Counter
  - Description: Proposals by outcome (proposed/committed/aborted)

aerolithdb_consensus_quarantined_peers:
  - Type: Gauge
  - Description: Peers currently quarantined for Byzantine behavior

aerolithdb_consensus_apply_duration_seconds:
  - Type: Histogram
  - Description: Time to durably commit an approved operation to raft

Partition metrics:

aerolithdb_partition_active:
  - Type: Gauge
  - Description: Whether the connectivity graph is currently split (1/0)

aerolithdb_partition_component_size:
  - Type: Gauge
  - Description: Peer count of this peer's own connected component

aerolithdb_partition_events_total{kind}:
  - Type: Counter
  - Description: Partition detected/healed events

Cross-datacenter replication metrics:

aerolithdb_dcreplication_lag_seconds{datacenter}:
  - Type: Gauge
  - Description: Time since the last acknowledged batch per remote DC

aerolithdb_dcreplication_queue_depth{datacenter}:
  - Type: Gauge
  - Description: Pending requests in a remote DC's async queue

aerolithdb_dcreplication_batches_total{datacenter,outcome}:
  - Type: Counter
  - Description: Batches sent per DC by outcome (acked/failed)

aerolithdb_dcreplication_dead_letter_total{datacenter}:
  - Type: Counter
  - Description: Batches moved to the dead-letter queue after retry exhaustion

Document API metrics:

aerolithdb_document_operations_total{operation,outcome}:
  - Type: Counter
  - Description: put/update/delete/get calls by outcome (ok/error)

aerolithdb_document_operation_duration_seconds{operation}:
  - Type: Histogram
  - Description: Coordinator-level operation latency, end to end including
    consensus quorum wait for writes

aerolithdb_conflicts_resolved_total{strategy}:
  - Type: Counter
  - Description: Sibling conflicts reconciled by the configured resolution
    strategy

# Usage

	import "github.com/cuemby/aerolithdb/pkg/metrics"

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.DocumentOpDuration, "put")

	metrics.DocumentOpsTotal.WithLabelValues("put", "ok").Inc()

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", nil)

# Integration Points

This package integrates with:

  - pkg/storage: tier entries/bytes/hits/misses/migrations/repairs, op duration
  - pkg/sharding: ring size, rebalanced keys
  - pkg/consensus: leader status, log/applied index, proposals, quarantine
  - pkg/partition: active/component-size gauges, heal events
  - pkg/dcreplication: lag, queue depth, batch outcomes, dead-letter count
  - pkg/coordinator: document operation counters/histograms, conflicts resolved
  - Collector: polls pkg/coordinator's Stats() on a fixed interval to refresh
    the pull-based gauges above that have no natural per-event update hook
  - Prometheus: scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so every metric has exactly one defining var block

Label Discipline:
  - Labels are tier/strategy/outcome/datacenter names, never document or
    peer ids - those are unbounded and belong in logs, not metric labels

Timer Pattern:
  - Create a Timer at operation start, ObserveDuration(Vec) when it ends

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
