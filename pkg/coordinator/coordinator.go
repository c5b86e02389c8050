package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/dcreplication"
	"github.com/cuemby/aerolithdb/pkg/events"
	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/partition"
	"github.com/cuemby/aerolithdb/pkg/resolver"
	"github.com/cuemby/aerolithdb/pkg/security"
	"github.com/cuemby/aerolithdb/pkg/sharding"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/cuemby/aerolithdb/pkg/transport"
)

// Coordinator is the document-store facade described in doc.go.
type Coordinator struct {
	cfg    Config
	peerID string
	log    zerolog.Logger

	storage *storage.Engine
	ring    *sharding.Ring
	node    *consensus.Node
	bus     *transport.Bus

	detector *partition.Detector
	healer   *partition.Healer
	resolver *resolver.Resolver
	dc       *dcreplication.Controller
	broker   *events.Broker

	signer *consensus.Ed25519Signer
	ca     *security.CertAuthority
	secret *security.SecretsManager // nil unless cfg.EncryptionAtRest

	// proposeMu serializes proposeAndWait end to end: Engine.Propose assigns
	// a round and releases its own lock before BroadcastProposal runs, so
	// without this a second concurrent write can be assigned round N+1 and
	// reach commit before round N's Apply has run. Holding proposeMu for the
	// whole propose-broadcast-await-commit cycle keeps this coordinator's
	// own writes strictly round-ordered into Apply; it does not serialize
	// proposals this peer receives from elsewhere (HandleProposal), which
	// Engine itself already orders by round per proposer (§4.5).
	proposeMu sync.Mutex

	logMu        sync.Mutex
	committedLog []partition.CommittedEntry // append-only, ordered by Round
}

// New constructs a fully-wired Coordinator. The returned Coordinator's
// Signer() public key must be distributed to, and other peers' keys
// registered with RegisterPeerKey, before Bootstrap/Join is called -
// exactly the cross-registration bft_test.go's cluster helper performs for
// the bare consensus.Engine, generalized here to the whole stack.
//
// dcBus may be nil when cfg.DCReplication is nil (cross-DC replication
// disabled).
func New(cfg Config, bus *transport.Bus, dcBus *transport.DatacenterBus) (*Coordinator, error) {
	storageEngine, err := storage.NewEngine(cfg.Storage)
	if err != nil {
		return nil, err
	}

	ring := sharding.NewRing(cfg.VirtualNodesPerPeer)
	for _, p := range cfg.Peers {
		fd := ""
		if p == cfg.PeerID {
			fd = cfg.FailureDomain
		}
		ring.AddPeer(sharding.Peer{ID: p, FailureDomain: fd, Live: true})
	}

	res := resolver.New(cfg.ConflictStrategy, cfg.PeerID, cfg.ConflictPriorities, cfg.Merger)

	broker := events.NewBroker()

	c := &Coordinator{
		cfg:      cfg,
		peerID:   cfg.PeerID,
		log:      log.WithPeerID(cfg.PeerID),
		storage:  storageEngine,
		ring:     ring,
		bus:      bus,
		resolver: res,
		broker:   broker,
	}

	if cfg.DCReplication != nil {
		dcc, err := dcreplication.NewController(*cfg.DCReplication, dcBus)
		if err != nil {
			return nil, err
		}
		c.dc = dcc

		// Register this coordinator as the inbound side of cross-DC
		// replication (§4.7) under its own datacenter id, so a remote DC's
		// Controller.Replicate calls addressed to us land on
		// ReceiveBatch via dcBus.SendBatch.
		if dcBus != nil {
			dcBus.Register(cfg.DCReplication.LocalDatacenterID, c)
		}
	}

	signer, err := consensus.NewEd25519Signer(cfg.PeerID)
	if err != nil {
		return nil, err
	}
	c.signer = signer

	if cfg.ClusterID != "" {
		if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.ClusterID)); err != nil {
			return nil, err
		}
		secTier, err := storage.NewBoltTier(storage.TierWarm, filepath.Join(cfg.DataDir, "security"))
		if err != nil {
			return nil, err
		}
		ca := security.NewCertAuthority(secTier)
		if err := ca.LoadFromStore(); err != nil {
			if err := ca.Initialize(); err != nil {
				return nil, err
			}
			if err := ca.SaveToStore(); err != nil {
				return nil, err
			}
		}
		peerCert, err := ca.IssuePeerCertificate(cfg.PeerID, nil, nil)
		if err != nil {
			return nil, err
		}
		c.ca = ca

		// The BoltTier above is this peer's durable CA store; PEM files
		// under the same data_dir (security.GetCertDir) are the exported
		// form a real gRPC transport's tls.Config would load its
		// Certificates/RootCAs from (see pkg/transport's doc comment on the
		// planned swap-in). Both re-derive from the same in-memory ca, so
		// writing them here on every boot just keeps the on-disk export
		// current with whatever this process last issued for itself.
		certDir := security.GetCertDir(cfg.DataDir, "peer", cfg.PeerID)
		if err := security.SaveCertToFile(peerCert, certDir); err != nil {
			return nil, err
		}
		if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
			return nil, err
		}

		if cfg.EncryptionAtRest {
			sm, err := security.NewSecretsManagerFromPassword(cfg.ClusterID)
			if err != nil {
				return nil, err
			}
			c.secret = sm
		}
	}

	// c is allocated and every field Apply touches (storage, resolver,
	// broker, dc, committedLog) is already set, so it is safe to hand c to
	// NewNode as the Applier before c.node itself exists: Apply never reads
	// c.node. This breaks the Coordinator<->consensus.Node circular
	// dependency without an extra adapter type.
	node := consensus.NewNode(consensus.NodeConfig{
		PeerID:   cfg.PeerID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
		Peers:    cfg.Peers,
	}, signer, c, bus.PeerBroadcaster(cfg.PeerID))
	c.node = node

	bus.Register(cfg.PeerID, node.Engine, c)

	c.healer = partition.NewHealer(cfg.PeerID, bus.HealPeerTransport(), c.replayPayload, res)

	c.detector = partition.NewDetector(partition.Config{
		SelfID:            cfg.PeerID,
		HeartbeatInterval: cfg.HeartbeatInterval,
		DampeningWindow:   cfg.DampeningWindow,
		OnRecover:         c.onPartitionRecovered,
	}, cfg.Peers)

	return c, nil
}

// Signer exposes this peer's Ed25519 signer so the process wiring it up can
// distribute the public key and register peers' keys.
func (c *Coordinator) Signer() *consensus.Ed25519Signer { return c.signer }

// RootCACert returns the cluster's root CA certificate in DER form, for
// distribution to peers bootstrapping their own trust pool. Empty when no
// ClusterID was configured.
func (c *Coordinator) RootCACert() []byte {
	if c.ca == nil {
		return nil
	}
	return c.ca.GetRootCACert()
}

// Bootstrap forms a brand-new cluster rooted at this peer. Call this on
// exactly one founding peer; every other peer calls Join.
func (c *Coordinator) Bootstrap() error {
	c.broker.Start()
	if c.dc != nil {
		c.dc.Start()
	}
	return c.node.Bootstrap()
}

// Join attaches this peer to a cluster another peer has already
// bootstrapped. The current raft leader must still add this peer as a
// voter via node membership change before its proposals are durable.
func (c *Coordinator) Join() error {
	c.broker.Start()
	if c.dc != nil {
		c.dc.Start()
	}
	return c.node.JoinExisting()
}

// Shutdown stops every background loop and closes the storage engine.
func (c *Coordinator) Shutdown() error {
	c.bus.Unregister(c.peerID)
	if c.dc != nil {
		if err := c.dc.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("dc replication controller stop")
		}
	}
	c.broker.Stop()
	if err := c.node.Shutdown(); err != nil {
		c.log.Warn().Err(err).Msg("consensus node shutdown")
	}
	return c.storage.Close()
}

// Events returns the coordinator's event broker, for callers that want to
// subscribe to document/consensus/partition/storage lifecycle events.
func (c *Coordinator) Events() *events.Broker { return c.broker }

// ReportLink forwards a transport-observed link status to the partition
// detector and, on every report, re-evaluates connectivity.
func (c *Coordinator) ReportLink(observer string, status partition.LinkStatus) {
	c.detector.ReportLink(observer, status)
	snap := c.detector.Evaluate()
	if snap.Partitioned {
		c.broker.Publish(&events.Event{
			Type:    events.EventPartitionDetected,
			Message: "cluster connectivity graph split into multiple components",
		})
	}
}

// writable reports whether this peer's current partition component may
// accept writes, per the detector's last evaluation.
func (c *Coordinator) writable() bool {
	snap := c.detector.Last()
	if !snap.Partitioned {
		return true
	}
	for _, p := range snap.Partitions {
		for _, peer := range p.Peers {
			if peer == c.peerID {
				return p.Writable
			}
		}
	}
	return true
}

// onPartitionRecovered runs the GracefulMerge heal protocol against every
// peer in the now-merged component once the detector reports connectivity
// restored.
func (c *Coordinator) onPartitionRecovered(snap partition.Snapshot) {
	var peers []string
	for _, p := range snap.Partitions {
		for _, peer := range p.Peers {
			if peer == c.peerID {
				peers = p.Peers
			}
		}
	}
	if len(peers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.healer.Heal(ctx, c.LastCommittedRound(), peers); err != nil {
		log.Err(c.log, err).Msg("partition heal failed")
		return
	}
	c.broker.Publish(&events.Event{Type: events.EventPartitionHealed, Message: "partition healed, replayed missed rounds"})
	metrics.PartitionEventsTotal.WithLabelValues("healed").Inc()
}

// Stats aggregates storage, consensus, partition and cross-DC health for an
// observability surface.
func (c *Coordinator) Stats() Stats {
	var dcHealth []dcreplication.Health
	if c.dc != nil {
		dcHealth = c.dc.Health()
	}
	return Stats{
		Storage:   c.storage.Stats(),
		Consensus: c.node.Stats(),
		Partition: map[string]interface{}{"writable": c.writable(), "snapshot": c.detector.Last()},
		DCHealth:  dcHealth,
	}
}
