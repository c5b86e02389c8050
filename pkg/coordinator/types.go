package coordinator

import (
	"time"

	"github.com/cuemby/aerolithdb/pkg/dcreplication"
	"github.com/cuemby/aerolithdb/pkg/resolver"
	"github.com/cuemby/aerolithdb/pkg/storage"
)

// Config wires a Coordinator's dependencies and tunables. The zero value is
// not usable; build one from config.Config at startup.
type Config struct {
	PeerID        string
	BindAddr      string
	DataDir       string
	Peers         []string // full cluster membership, including PeerID
	FailureDomain string   // rack/AZ this peer belongs to, for replica placement

	// ClusterID identifies the cluster this peer belongs to. It seeds both
	// the peer mTLS certificate authority's root key encryption and, when
	// EncryptionAtRest is set, the AES-256-GCM key documents are encrypted
	// under before they reach a storage tier.
	ClusterID        string
	EncryptionAtRest bool

	ReplicationFactor   int
	VirtualNodesPerPeer int
	MaxDocumentSize     int64

	ConflictStrategy   resolver.Strategy
	ConflictPriorities map[string]int
	Merger             resolver.Merger

	HeartbeatInterval time.Duration
	DampeningWindow   time.Duration

	Storage storage.EngineConfig

	// DCReplication is nil when cross-datacenter replication is disabled.
	DCReplication *dcreplication.Config
}

// Document is the result of a successful read, bundling the payload with
// the bookkeeping metadata a caller may need (version for optimistic
// concurrency, tier for observability).
type Document struct {
	Payload []byte
	Meta    storage.Metadata
}

// Stats aggregates observability state across every subsystem the
// coordinator composes, the backing data for a status/metrics endpoint.
type Stats struct {
	Storage   map[storage.Tier]storage.TierStats
	Consensus map[string]interface{}
	Partition map[string]interface{}
	DCHealth  []dcreplication.Health
}
