// Package transport implements the peer transport contract (§6) consumed by
// pkg/consensus, pkg/partition and pkg/dcreplication: a bidirectional
// message channel carrying Propose/Vote/Commit/Abort/Heartbeat/ViewChange
// between cluster peers, and ReplicationBatch/ReplicationAck between
// datacenters.
//
// The wire-level implementation the full design calls for is a gRPC bidi
// stream service (the generalization of the teacher's grpc.NewServer wiring
// in pkg/manager.Manager). This package instead provides an in-process bus:
// every peer in a single process registers its consensus.Engine, and
// messages are delivered by direct, synchronous method calls rather than
// over a socket. This is sufficient to exercise the full consensus,
// partition-heal and cross-DC replication protocols end to end (multi-peer
// integration tests, a single-process multi-node dev cluster) without
// depending on generated protobuf stubs this workspace does not have — the
// teacher's own proto-backed client/server pair (pkg/api, pkg/client)
// references an api/proto package that was never part of the retrieved
// teacher source, so it cannot be regenerated or safely imitated by hand.
// See DESIGN.md for the full justification. A production deployment swaps
// this package's Bus for a real gRPC client/server pair implementing the
// same Broadcaster/HealPeer/RemoteDC interfaces; nothing above this layer
// would need to change.
package transport

import (
	"context"
	"sync"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/dcreplication"
	"github.com/cuemby/aerolithdb/pkg/partition"
)

// ConsensusEndpoint is the subset of consensus.Engine the bus delivers
// messages to. consensus.Engine satisfies it directly.
type ConsensusEndpoint interface {
	HandleProposal(p consensus.Proposal) error
	HandleVote(v consensus.Vote) error
	HandleCommit(proposalID string) error
	HandleAbort(proposalID string)
	HandleHeartbeat(h consensus.Heartbeat)
	HandleViewChange(vc consensus.ViewChange)
}

// Bus is an in-process registry of cluster peers, used as the concrete
// consensus.Broadcaster and partition.HealPeer for every peer registered on
// it. A Bus is shared by every Node/Detector instance in one simulated
// cluster (typically one per test process or one per dev deployment).
type Bus struct {
	mu    sync.RWMutex
	peers map[string]*peerEndpoints
}

type peerEndpoints struct {
	consensus ConsensusEndpoint
	heal      healEndpoint
}

// healEndpoint is what the bus needs from a registered peer to answer
// partition.HealPeer queries on its behalf.
type healEndpoint interface {
	LastCommittedRound() uint64
	EntriesSince(round uint64) []partition.CommittedEntry
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{peers: make(map[string]*peerEndpoints)}
}

// Register attaches peerID's consensus engine and heal-log accessor to the
// bus. Call this once per peer before Bootstrap/JoinExisting.
func (b *Bus) Register(peerID string, engine ConsensusEndpoint, heal healEndpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[peerID] = &peerEndpoints{consensus: engine, heal: heal}
}

// Unregister detaches a peer, e.g. on graceful shutdown.
func (b *Bus) Unregister(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, peerID)
}

func (b *Bus) snapshot() map[string]*peerEndpoints {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*peerEndpoints, len(b.peers))
	for k, v := range b.peers {
		out[k] = v
	}
	return out
}

// PeerBroadcaster returns a consensus.Broadcaster bound to selfID: every
// Broadcast* call fans out to every other peer registered on b, skipping
// selfID (the caller already applied its own vote/commit/abort locally, per
// the Engine's own bookkeeping in Propose/commitLocked).
func (b *Bus) PeerBroadcaster(selfID string) consensus.Broadcaster {
	return &broadcaster{bus: b, self: selfID}
}

type broadcaster struct {
	bus  *Bus
	self string
}

func (p *broadcaster) BroadcastVote(v consensus.Vote) {
	for id, ep := range p.bus.snapshot() {
		if id == p.self {
			continue
		}
		_ = ep.consensus.HandleVote(v)
	}
}

func (p *broadcaster) BroadcastCommit(proposalID string) {
	for id, ep := range p.bus.snapshot() {
		if id == p.self {
			continue
		}
		_ = ep.consensus.HandleCommit(proposalID)
	}
}

func (p *broadcaster) BroadcastAbort(proposalID string) {
	for id, ep := range p.bus.snapshot() {
		if id == p.self {
			continue
		}
		ep.consensus.HandleAbort(proposalID)
	}
}

func (p *broadcaster) BroadcastHeartbeat(h consensus.Heartbeat) {
	for id, ep := range p.bus.snapshot() {
		if id == p.self {
			continue
		}
		ep.consensus.HandleHeartbeat(h)
	}
}

func (p *broadcaster) BroadcastViewChange(vc consensus.ViewChange) {
	for id, ep := range p.bus.snapshot() {
		if id == p.self {
			continue
		}
		ep.consensus.HandleViewChange(vc)
	}
}

// SendProposal delivers a proposal to a specific peer.
func (b *Bus) SendProposal(peerID string, p consensus.Proposal) error {
	b.mu.RLock()
	ep, ok := b.peers[peerID]
	b.mu.RUnlock()
	if !ok {
		return aerolitherrors.Unavailable("peer %s is not reachable on this bus", peerID)
	}
	return ep.consensus.HandleProposal(p)
}

// BroadcastProposal fans p out to every peer except selfID. The consensus
// Engine's own Propose only broadcasts the proposer's vote (see
// consensus.Engine.Propose); dissemination of the proposal itself to every
// other peer so they can vote on it is the coordinator's job, via this call,
// mirroring how the coordinator also drives Node.Commit once the engine
// reaches quorum.
func (b *Bus) BroadcastProposal(selfID string, p consensus.Proposal) {
	for id, ep := range b.snapshot() {
		if id == selfID {
			continue
		}
		_ = ep.consensus.HandleProposal(p)
	}
}

// Peers returns every peer id currently registered, excluding self.
func (b *Bus) Peers(selfID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.peers))
	for id := range b.peers {
		if id != selfID {
			out = append(out, id)
		}
	}
	return out
}

// HealPeerTransport returns a partition.HealPeer bound to this bus, used by
// a partition.Healer to query other peers' committed rounds and pull
// entries they hold beyond the caller's own last committed round.
func (b *Bus) HealPeerTransport() partition.HealPeer {
	return &healTransport{bus: b}
}

type healTransport struct {
	bus *Bus
}

func (h *healTransport) LastCommitted(ctx context.Context, peerID string) (partition.HealRequest, error) {
	h.bus.mu.RLock()
	ep, ok := h.bus.peers[peerID]
	h.bus.mu.RUnlock()
	if !ok {
		return partition.HealRequest{}, aerolitherrors.Unavailable("peer %s is not reachable on this bus", peerID)
	}
	return partition.HealRequest{Peer: peerID, LastCommittedRound: ep.heal.LastCommittedRound()}, nil
}

func (h *healTransport) EntriesSince(ctx context.Context, peerID string, round uint64) ([]partition.CommittedEntry, error) {
	h.bus.mu.RLock()
	ep, ok := h.bus.peers[peerID]
	h.bus.mu.RUnlock()
	if !ok {
		return nil, aerolitherrors.Unavailable("peer %s is not reachable on this bus", peerID)
	}
	return ep.heal.EntriesSince(round), nil
}

// DatacenterBus is an in-process registry of remote datacenter endpoints,
// the dcreplication.RemoteDC implementation used for single-process
// multi-datacenter simulation the same way Bus simulates a multi-peer
// cluster.
type DatacenterBus struct {
	mu   sync.RWMutex
	dcs  map[string]DatacenterSink
}

// DatacenterSink receives a replication batch on behalf of one remote
// datacenter, typically the coordinator running "in" that datacenter.
type DatacenterSink interface {
	ReceiveBatch(ctx context.Context, batch dcreplication.Batch) error
}

// NewDatacenterBus constructs an empty DatacenterBus.
func NewDatacenterBus() *DatacenterBus {
	return &DatacenterBus{dcs: make(map[string]DatacenterSink)}
}

// Register attaches a datacenter's sink to the bus.
func (d *DatacenterBus) Register(dc string, sink DatacenterSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dcs[dc] = sink
}

// Unregister detaches a datacenter.
func (d *DatacenterBus) Unregister(dc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dcs, dc)
}

// SendBatch implements dcreplication.RemoteDC.
func (d *DatacenterBus) SendBatch(ctx context.Context, dc string, batch dcreplication.Batch) error {
	d.mu.RLock()
	sink, ok := d.dcs[dc]
	d.mu.RUnlock()
	if !ok {
		return aerolitherrors.Unavailable("datacenter %s is not reachable on this bus", dc)
	}
	return sink.ReceiveBatch(ctx, batch)
}
