// Package config loads the single structured configuration object consumed
// by every AerolithDB core subsystem at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ShardingStrategy selects how keys are mapped to shards.
type ShardingStrategy string

const (
	ShardingConsistentHash ShardingStrategy = "consistent_hash"
	ShardingRange          ShardingStrategy = "range"
	ShardingHash           ShardingStrategy = "hash"
)

// ConsensusAlgorithm names the consensus protocol in use.
type ConsensusAlgorithm string

const (
	ConsensusByzantinePBFT ConsensusAlgorithm = "byzantine_pbft"
)

// ReplicationMode selects the cross-datacenter replication mode.
type ReplicationMode string

const (
	ReplicationSync   ReplicationMode = "sync"
	ReplicationAsync  ReplicationMode = "async"
	ReplicationHybrid ReplicationMode = "hybrid"
)

// ConflictStrategy names a vector-clock conflict resolution strategy.
type ConflictStrategy string

const (
	ConflictLastWriterWins  ConflictStrategy = "last_writer_wins"
	ConflictPeerPriority    ConflictStrategy = "peer_priority"
	ConflictCausal          ConflictStrategy = "causal"
	ConflictSemanticMerge   ConflictStrategy = "semantic_merge"
	ConflictDatacenterOrder ConflictStrategy = "datacenter_priority"
)

// NodeConfig identifies this process within the cluster.
type NodeConfig struct {
	NodeID      string `yaml:"node_id"`
	DataDir     string `yaml:"data_dir"`
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// NetworkConfig configures peer transport and cluster membership.
type NetworkConfig struct {
	NetworkID         string        `yaml:"network_id"`
	BootstrapPeers    []string      `yaml:"bootstrap_peers"`
	MaxConnections    int           `yaml:"max_connections"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// CompressionConfig configures the codec's compression policy.
type CompressionConfig struct {
	Algorithm string `yaml:"algorithm"` // "s2" or "zstd"
	Level     int    `yaml:"level"`
	Adaptive  bool   `yaml:"adaptive"`
}

// StorageConfig configures the tiered storage engine and sharding.
type StorageConfig struct {
	ShardingStrategy   ShardingStrategy  `yaml:"sharding_strategy"`
	ReplicationFactor  int               `yaml:"replication_factor"`
	Compression        CompressionConfig `yaml:"compression"`
	EncryptionAtRest   bool              `yaml:"encryption_at_rest"`
	DataDir            string            `yaml:"data_dir"`
	MaxStorageSize     int64             `yaml:"max_storage_size"`
	ColdToArchiveAge   time.Duration     `yaml:"cold_to_archive_age"`
	MigrationInterval  time.Duration     `yaml:"migration_interval"`
	VirtualNodesPerPeer int              `yaml:"virtual_nodes_per_peer"`
	MaxDocumentSize    int64             `yaml:"max_document_size"`
}

// ConsensusConfig configures the Byzantine consensus engine.
type ConsensusConfig struct {
	Algorithm          ConsensusAlgorithm `yaml:"algorithm"`
	ByzantineTolerance float64            `yaml:"byzantine_tolerance"`
	Timeout            time.Duration      `yaml:"timeout"`
	MaxBatchSize       int                `yaml:"max_batch_size"`
	ConflictResolution ConflictStrategy   `yaml:"conflict_resolution"`
	ProposalRetention  time.Duration      `yaml:"proposal_retention"`
}

// RemoteDatacenter describes one remote datacenter to replicate to.
type RemoteDatacenter struct {
	ID       string   `yaml:"id"`
	Priority int      `yaml:"priority"`
	Endpoints []string `yaml:"endpoints"`
}

// DatacenterReplicationConfig configures the cross-DC replication controller.
type DatacenterReplicationConfig struct {
	Enabled             bool               `yaml:"enabled"`
	LocalDatacenterID   string             `yaml:"local_datacenter_id"`
	RemoteDatacenters   []RemoteDatacenter `yaml:"remote_datacenters"`
	DefaultMode         ReplicationMode    `yaml:"default_mode"`
	CriticalSync        bool               `yaml:"critical_sync"`
	AsyncMaxDelay       time.Duration      `yaml:"async_max_delay"`
	SyncAckQuorum       int                `yaml:"sync_ack_quorum"`
	MaxReplicationLag   time.Duration      `yaml:"max_replication_lag"`
	RetryAttempts       int                `yaml:"retry_attempts"`
	BatchSize           int                `yaml:"batch_size"`
	CompressionEnabled  bool               `yaml:"compression_enabled"`
}

// LoggingConfig configures pkg/log's global logger. A config file sets the
// steady-state level an operator wants a peer to run at; the node binary's
// --log-level/--log-json flags (applied before config.Load runs) only cover
// the window before a config path is even known, and are overridden by this
// once the file is read - see cmd/aerolithdb-node/node.go.
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"; empty keeps the CLI flag's level
	JSON  bool   `yaml:"json"`
}

// Config is the single structured configuration object consumed at startup.
type Config struct {
	Node                  NodeConfig                  `yaml:"node"`
	Network               NetworkConfig                `yaml:"network"`
	Storage               StorageConfig                `yaml:"storage"`
	Consensus             ConsensusConfig               `yaml:"consensus"`
	Logging               LoggingConfig                 `yaml:"logging"`
	DatacenterReplication DatacenterReplicationConfig    `yaml:"datacenter_replication"`
}

// Default returns a Config populated with the defaults named throughout the
// core design (heartbeat 5s, consensus timeout 5s, migration every 5 minutes,
// cold->archive age 30 days, batch size 100, retry attempts 3, lag 5s).
func Default() Config {
	return Config{
		Node: NodeConfig{
			BindAddress: "0.0.0.0",
			Port:        7420,
			DataDir:     "./data",
		},
		Network: NetworkConfig{
			MaxConnections:    256,
			HeartbeatInterval: 5 * time.Second,
			ConnectionTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			ShardingStrategy:  ShardingConsistentHash,
			ReplicationFactor: 3,
			Compression: CompressionConfig{
				Algorithm: "s2",
				Level:     3,
				Adaptive:  true,
			},
			ColdToArchiveAge:    30 * 24 * time.Hour,
			MigrationInterval:   5 * time.Minute,
			VirtualNodesPerPeer: 128,
			MaxDocumentSize:     16 * 1024 * 1024,
		},
		Consensus: ConsensusConfig{
			Algorithm:          ConsensusByzantinePBFT,
			ByzantineTolerance: 1.0 / 3.0,
			Timeout:            5 * time.Second,
			MaxBatchSize:       100,
			ConflictResolution: ConflictCausal,
			ProposalRetention:  10 * time.Minute,
		},
		DatacenterReplication: DatacenterReplicationConfig{
			DefaultMode:       ReplicationHybrid,
			AsyncMaxDelay:     500 * time.Millisecond,
			SyncAckQuorum:     1,
			MaxReplicationLag: 5 * time.Second,
			RetryAttempts:     3,
			BatchSize:         100,
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any field
// left at its zero value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks structural invariants on the config that are not
// sensible to leave to zero-value defaulting, e.g. byzantine_tolerance must
// stay within [0, 1/3] for N >= 3f+1 to be satisfiable.
func (c Config) Validate() error {
	if c.Consensus.ByzantineTolerance < 0 || c.Consensus.ByzantineTolerance > 1.0/3.0 {
		return fmt.Errorf("consensus.byzantine_tolerance must be within [0, 1/3], got %f", c.Consensus.ByzantineTolerance)
	}
	if c.Storage.ReplicationFactor < 1 {
		return fmt.Errorf("storage.replication_factor must be >= 1, got %d", c.Storage.ReplicationFactor)
	}
	if c.Node.NodeID == "" {
		return fmt.Errorf("node.node_id is required")
	}
	return nil
}
