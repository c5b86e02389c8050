package consensus

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
)

func opToLogBytes(op Operation) ([]byte, error) {
	return json.Marshal(op)
}

// NodeConfig configures a Node's raft transport and storage paths.
type NodeConfig struct {
	PeerID   string
	BindAddr string
	DataDir  string
	Peers    []string // full cluster membership, including PeerID
}

// Node wires a BFT Engine to a raft-backed FSM: the Engine decides whether
// an operation has cleared Byzantine quorum, and the raft log durably
// orders and replicates whatever the Engine approves. Raft's own leader
// election and majority commit rule are not the source of truth for
// Byzantine safety here — they exist purely to give the approved log a
// durable, crash-tolerant home, same as the teacher's manager.Manager uses
// raft purely as a replicated state machine for cluster metadata.
type Node struct {
	cfg    NodeConfig
	log    zerolog.Logger
	Engine *Engine
	fsm    *FSM
	raft   *raft.Raft
}

// NewNode constructs a Node. Call Bootstrap to form a new single-node
// cluster or Join to attach to an existing one before using Propose.
func NewNode(cfg NodeConfig, signer Signer, applier Applier, broadcaster Broadcaster) *Node {
	fsm := NewFSM(applier)
	engine := NewEngine(Config{
		SelfID:      cfg.PeerID,
		Peers:       cfg.Peers,
		Signer:      signer,
		Applier:     applier,
		Broadcaster: broadcaster,
	})
	return &Node{
		cfg:    cfg,
		log:    log.WithPeerID(cfg.PeerID),
		Engine: engine,
		fsm:    fsm,
	}
}

func (n *Node) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(n.cfg.PeerID)
	// Tuned for LAN/edge deployments rather than raft's WAN-conservative
	// defaults, matching this core's sub-10s failover target.
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (n *Node) buildRaft() (*raft.Raft, *raft.TCPTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", n.cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(n.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(n.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "consensus-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.cfg.DataDir, "consensus-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create stable store: %w", err)
	}
	r, err := raft.NewRaft(n.raftConfig(), n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap forms a brand-new single-peer raft cluster rooted at this node,
// then starts the BFT engine's heartbeat and cleanup loops.
func (n *Node) Bootstrap() error {
	r, transport, err := n.buildRaft()
	if err != nil {
		return err
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(n.cfg.PeerID), Address: transport.LocalAddr()},
		},
	}
	if err := n.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	n.Engine.Start()
	return nil
}

// JoinExisting attaches this node's raft instance to a cluster that another
// peer has already bootstrapped; the actual membership change (AddVoter)
// must be issued by the current leader via AddVoter.
func (n *Node) JoinExisting() error {
	r, _, err := n.buildRaft()
	if err != nil {
		return err
	}
	n.raft = r
	n.Engine.Start()
	return nil
}

// AddVoter adds peerID/address as a full voting member; only the raft
// leader can perform this.
func (n *Node) AddVoter(peerID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	return n.raft.AddVoter(raft.ServerID(peerID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer removes peerID from the raft cluster.
func (n *Node) RemoveServer(peerID string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	return n.raft.RemoveServer(raft.ServerID(peerID), 0, 10*time.Second).Error()
}

// IsRaftLeader reports whether this node currently holds raft leadership.
// Note this is independent from Engine.IsCoordinator: raft leadership picks
// who may append to the durable log, while the BFT view determines who may
// propose an operation for a vote in the first place.
func (n *Node) IsRaftLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// Commit submits a BFT-approved operation to the durable raft log. Call
// this only after Engine has already recorded a proposal as Committed.
func (n *Node) Commit(op Operation) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConsensusApplyDuration)

	data, err := opToLogBytes(op)
	if err != nil {
		return err
	}
	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// Stats reports raft and engine-level observability fields.
func (n *Node) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"view":         n.Engine.view,
		"is_leader":    n.IsRaftLeader(),
		"n":            n.Engine.N(),
		"quorum":       n.Engine.quorum(),
	}
	if n.raft != nil {
		stats["last_log_index"] = n.raft.LastIndex()
		stats["applied_index"] = n.raft.AppliedIndex()
		stats["leader"] = string(n.raft.Leader())
	}
	metrics.ConsensusIsLeader.Set(boolToFloat(n.IsRaftLeader()))
	metrics.ConsensusPeers.Set(float64(n.Engine.N()))
	if n.raft != nil {
		metrics.ConsensusLogIndex.Set(float64(n.raft.LastIndex()))
		metrics.ConsensusAppliedIndex.Set(float64(n.raft.AppliedIndex()))
	}
	return stats
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Shutdown stops the BFT engine's background loops and the raft instance.
func (n *Node) Shutdown() error {
	n.Engine.Stop()
	if n.raft == nil {
		return nil
	}
	return n.raft.Shutdown().Error()
}
