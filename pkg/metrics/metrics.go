package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage engine metrics
	StorageTierEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_storage_tier_entries",
			Help: "Number of documents resident in each storage tier",
		},
		[]string{"tier"},
	)

	StorageTierBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_storage_tier_bytes",
			Help: "Bytes resident in each storage tier",
		},
		[]string{"tier"},
	)

	StorageTierHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_storage_tier_hits_total",
			Help: "Total reads satisfied by each tier",
		},
		[]string{"tier"},
	)

	StorageTierMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_storage_tier_misses_total",
			Help: "Total reads that missed each tier",
		},
		[]string{"tier"},
	)

	StorageMigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_storage_migrations_total",
			Help: "Total documents migrated between tiers",
		},
		[]string{"from_tier", "to_tier"},
	)

	StorageRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_storage_repairs_total",
			Help: "Total tier-repair operations triggered by checksum mismatch",
		},
		[]string{"tier"},
	)

	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_storage_operation_duration_seconds",
			Help:    "Storage engine operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Sharding metrics
	ShardingRingSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_sharding_ring_peers",
			Help: "Number of live physical peers in the hash ring",
		},
	)

	ShardingRebalancedKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aerolithdb_sharding_rebalanced_keys_total",
			Help: "Total virtual-node reassignments caused by ring membership changes",
		},
	)

	// Consensus metrics
	ConsensusIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_is_leader",
			Help: "Whether this peer currently holds the Raft leadership (1 = leader, 0 = follower)",
		},
	)

	ConsensusLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_log_index",
			Help: "Current replicated log index",
		},
	)

	ConsensusAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_applied_index",
			Help: "Last applied replicated log index",
		},
	)

	ConsensusPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_peers_total",
			Help: "Total number of consensus peers known to this node",
		},
	)

	ConsensusProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_consensus_proposals_total",
			Help: "Total consensus proposals by outcome",
		},
		[]string{"outcome"},
	)

	ConsensusQuarantinedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_consensus_quarantined_peers",
			Help: "Peers currently quarantined for suspected equivocation",
		},
	)

	ConsensusApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_consensus_apply_duration_seconds",
			Help:    "Time taken to apply a committed log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Partition detection metrics
	PartitionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_partition_active",
			Help: "Whether this peer currently believes the cluster is partitioned (1 = yes)",
		},
	)

	PartitionComponentSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_partition_component_size",
			Help: "Size of this peer's connectivity component",
		},
	)

	PartitionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_partition_events_total",
			Help: "Total partition detection/recovery events by kind",
		},
		[]string{"kind"},
	)

	// Cross-datacenter replication metrics
	DCReplicationLagSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_dcreplication_lag_seconds",
			Help: "Replication lag to each remote datacenter",
		},
		[]string{"datacenter"},
	)

	DCReplicationQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aerolithdb_dcreplication_queue_depth",
			Help: "Pending requests queued for each remote datacenter",
		},
		[]string{"datacenter"},
	)

	DCReplicationBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_dcreplication_batches_total",
			Help: "Total replication batches sent by datacenter and outcome",
		},
		[]string{"datacenter", "outcome"},
	)

	DCReplicationDeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_dcreplication_dead_letter_total",
			Help: "Total batches moved to the dead-letter queue after retry exhaustion",
		},
		[]string{"datacenter"},
	)

	// Coordinator / document API metrics
	DocumentOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_document_operations_total",
			Help: "Total document operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	DocumentOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_document_operation_duration_seconds",
			Help:    "Document operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_conflicts_resolved_total",
			Help: "Total sibling conflicts resolved, by strategy",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		StorageTierEntries,
		StorageTierBytes,
		StorageTierHitsTotal,
		StorageTierMissesTotal,
		StorageMigrationsTotal,
		StorageRepairsTotal,
		StorageOpDuration,
		ShardingRingSize,
		ShardingRebalancedKeysTotal,
		ConsensusIsLeader,
		ConsensusLogIndex,
		ConsensusAppliedIndex,
		ConsensusPeers,
		ConsensusProposalsTotal,
		ConsensusQuarantinedPeers,
		ConsensusApplyDuration,
		PartitionActive,
		PartitionComponentSize,
		PartitionEventsTotal,
		DCReplicationLagSeconds,
		DCReplicationQueueDepth,
		DCReplicationBatchesTotal,
		DCReplicationDeadLetterTotal,
		DocumentOpsTotal,
		DocumentOpDuration,
		ConflictsResolvedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
