package partition

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
)

// Config configures a Detector.
type Config struct {
	SelfID            string
	HeartbeatInterval time.Duration // used to derive the default dampening window
	DampeningWindow   time.Duration // 0 -> 2*HeartbeatInterval
	OnRecover         func(Snapshot)
}

type linkObservation struct {
	state      LinkState
	since      time.Time
	lastSeen   time.Time
	declared   LinkState // state used for graph-building, sticky across brief flaps
	declaredAt time.Time
}

// Detector builds a connectivity graph from reported pairwise link
// observations and computes connected components, applying a dampening
// window so a momentary anomaly does not trigger a partition declaration.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	log     zerolog.Logger
	nodes   map[string]struct{}
	edges   map[string]map[string]*linkObservation // edges[observer][peer]
	last    Snapshot
}

// NewDetector constructs a Detector. peers should list the full known
// cluster membership at construction time; new peers can join the graph
// later via ReportLink.
func NewDetector(cfg Config, peers []string) *Detector {
	if cfg.DampeningWindow == 0 {
		if cfg.HeartbeatInterval == 0 {
			cfg.HeartbeatInterval = 2 * time.Second
		}
		cfg.DampeningWindow = 2 * cfg.HeartbeatInterval
	}
	d := &Detector{
		cfg:   cfg,
		log:   log.WithComponent("partition").With().Str("peer_id", cfg.SelfID).Logger(),
		nodes: make(map[string]struct{}),
		edges: make(map[string]map[string]*linkObservation),
	}
	d.nodes[cfg.SelfID] = struct{}{}
	for _, p := range peers {
		d.nodes[p] = struct{}{}
	}
	return d
}

// ReportLink records an observed link status from observer's point of view
// (observer is usually cfg.SelfID, but forwarded third-party reports from
// the transport layer are accepted too so the detector can reconstruct a
// cluster-wide graph, not just its own star of links).
func (d *Detector) ReportLink(observer string, status LinkStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nodes[observer] = struct{}{}
	d.nodes[status.Peer] = struct{}{}

	peers, ok := d.edges[observer]
	if !ok {
		peers = make(map[string]*linkObservation)
		d.edges[observer] = peers
	}

	obs, ok := peers[status.Peer]
	now := status.LastSeen
	if now.IsZero() {
		now = time.Now()
	}
	if !ok {
		obs = &linkObservation{state: status.State, since: now, declared: status.State, declaredAt: now}
		peers[status.Peer] = obs
		return
	}

	if obs.state != status.State {
		obs.state = status.State
		obs.since = now
	}
	obs.lastSeen = now

	if obs.declared != obs.state && now.Sub(obs.since) >= d.cfg.DampeningWindow {
		obs.declared = obs.state
		obs.declaredAt = now
	}
}

// Evaluate recomputes connected components from the currently-declared link
// states and returns the resulting Snapshot. Two nodes are in the same
// component when either direction's declared state is LinkConnected.
func (d *Detector) Evaluate() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	adjacency := make(map[string]map[string]bool, len(d.nodes))
	for n := range d.nodes {
		adjacency[n] = make(map[string]bool)
	}
	link := func(a, b string) {
		if adjacency[a] == nil {
			adjacency[a] = make(map[string]bool)
		}
		if adjacency[b] == nil {
			adjacency[b] = make(map[string]bool)
		}
		adjacency[a][b] = true
		adjacency[b][a] = true
	}
	for observer, peers := range d.edges {
		for peer, obs := range peers {
			if obs.declared == LinkConnected {
				link(observer, peer)
			}
		}
	}

	visited := make(map[string]bool, len(d.nodes))
	var components [][]string
	for n := range d.nodes {
		if visited[n] {
			continue
		}
		var comp []string
		queue := []string{n}
		visited[n] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for neighbor, connected := range adjacency[cur] {
				if connected && !visited[neighbor] {
					visited[neighbor] = true
					queue = append(queue, neighbor)
				}
			}
		}
		components = append(components, comp)
	}

	n := len(d.nodes)
	snap := Snapshot{DetectedAt: time.Now()}
	for _, comp := range components {
		snap.Partitions = append(snap.Partitions, Partition{
			Peers:    comp,
			Majority: len(comp)*2 > n,
			Quorum:   len(comp) >= quorum(n),
		})
	}
	snap.Partitioned = len(components) > 1

	applyStrategy(&snap, n)
	d.emitMetrics(snap)
	d.last = snap
	return snap
}

// quorum mirrors the BFT engine's supermajority threshold, ceil(2N/3)+1.
func quorum(n int) int {
	return (2*n+2)/3 + 1
}

// applyStrategy picks, for the whole partition episode, the first
// applicable automatic recovery strategy and marks every component's
// Writable/Strategy fields accordingly. GracefulMerge is not decided here:
// it runs once the graph returns to a single component, see Heal.
func applyStrategy(snap *Snapshot, n int) {
	if !snap.Partitioned {
		for i := range snap.Partitions {
			snap.Partitions[i].Writable = true
		}
		return
	}

	majorityIdx := -1
	for i, p := range snap.Partitions {
		if p.Majority {
			majorityIdx = i
			break
		}
	}
	if majorityIdx >= 0 {
		for i := range snap.Partitions {
			snap.Partitions[i].Strategy = StrategyMajorityPartitionOnly
			snap.Partitions[i].Writable = i == majorityIdx
		}
		return
	}

	quorumIdx := -1
	for i, p := range snap.Partitions {
		if p.Quorum {
			quorumIdx = i
			break
		}
	}
	if quorumIdx >= 0 {
		for i := range snap.Partitions {
			snap.Partitions[i].Strategy = StrategyQuorumBasedRecovery
			snap.Partitions[i].Writable = i == quorumIdx
		}
		return
	}

	for i := range snap.Partitions {
		snap.Partitions[i].Strategy = StrategyManualIntervention
		snap.Partitions[i].Writable = false
	}
}

func (d *Detector) emitMetrics(snap Snapshot) {
	if snap.Partitioned {
		metrics.PartitionActive.Set(1)
	} else {
		metrics.PartitionActive.Set(0)
	}
	for _, p := range snap.Partitions {
		for _, peer := range p.Peers {
			if peer == d.cfg.SelfID {
				metrics.PartitionComponentSize.Set(float64(len(p.Peers)))
			}
		}
	}
	if snap.Partitioned && (d.last.Partitioned != snap.Partitioned) {
		metrics.PartitionEventsTotal.WithLabelValues("detected").Inc()
		d.log.Warn().Int("components", len(snap.Partitions)).Msg("partition detected")
	}
	if !snap.Partitioned && d.last.Partitioned {
		metrics.PartitionEventsTotal.WithLabelValues("healed").Inc()
		d.log.Info().Msg("partition healed, graph returned to one component")
		if d.cfg.OnRecover != nil {
			d.cfg.OnRecover(snap)
		}
	}
}

// ComponentOf returns the peer set of the component that peerID currently
// belongs to, per the last Evaluate call.
func (d *Detector) ComponentOf(peerID string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.last.Partitions {
		for _, peer := range p.Peers {
			if peer == peerID {
				return p.Peers, true
			}
		}
	}
	return nil, false
}

// Last returns the most recently computed Snapshot.
func (d *Detector) Last() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
