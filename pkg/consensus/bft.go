package consensus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
)

// ProposalTimeout is the default time a proposal may sit in Proposed/Voting
// before the engine marks it TimedOut (§4.5).
const ProposalTimeout = 5 * time.Second

// HeartbeatInterval is how often the engine broadcasts liveness.
const HeartbeatInterval = 5 * time.Second

// CleanupInterval is how often committed/aborted/timed-out proposals older
// than CleanupAge are purged from memory.
const CleanupInterval = 10 * time.Minute
const CleanupAge = 10 * time.Minute

// UnresponsiveRatio is the fraction of peers that must independently declare
// the current coordinator unresponsive to trigger a view change.
const UnresponsiveRatio = 3 // peers/3 + 1, matching the spec's N/3+1 rule

// Engine runs the Byzantine proposal/vote/commit protocol among a fixed set
// of peers. It validates and counts votes, detects equivocation, and drives
// deterministic view-change; once a proposal reaches supermajority Accept it
// hands the Operation to Applier and, if wired with a raft-backed FSM,
// relies on that FSM's own Apply to persist it durably.
type Engine struct {
	mu sync.Mutex

	selfID string
	peers  []string // sorted, stable membership list

	signer      Signer
	applier     Applier
	broadcaster Broadcaster
	log         zerolog.Logger

	view     uint64
	round    uint64
	proposals map[string]*proposalEntry

	lastCommittedRound map[string]uint64 // peer -> round, from heartbeats
	lastAcceptedRound  map[string]uint64 // proposer -> highest round validateProposal has accepted
	lastSeen           map[string]time.Time
	unresponsiveVotes  map[uint64]map[string]struct{} // view -> declaring peers
	quarantined        map[string]bool

	equivocations map[string]map[uint64]string // peer -> round -> first-seen proposal id

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config wires an Engine's dependencies.
type Config struct {
	SelfID      string
	Peers       []string // includes SelfID
	Signer      Signer
	Applier     Applier
	Broadcaster Broadcaster
}

// NewEngine constructs an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	peers := append([]string(nil), cfg.Peers...)
	sort.Strings(peers)

	e := &Engine{
		selfID:             cfg.SelfID,
		peers:              peers,
		signer:             cfg.Signer,
		applier:            cfg.Applier,
		broadcaster:        cfg.Broadcaster,
		log:                log.WithComponent("consensus").With().Str("peer", cfg.SelfID).Logger(),
		proposals:          make(map[string]*proposalEntry),
		lastCommittedRound: make(map[string]uint64),
		lastAcceptedRound:  make(map[string]uint64),
		lastSeen:           make(map[string]time.Time),
		unresponsiveVotes:  make(map[uint64]map[string]struct{}),
		quarantined:        make(map[string]bool),
		equivocations:      make(map[string]map[uint64]string),
		stopCh:             make(chan struct{}),
	}
	return e
}

// N returns cluster size.
func (e *Engine) N() int { return len(e.peers) }

// Quorum returns the number of Accept votes required to commit: ⌈2N/3⌉+1.
func Quorum(n int) int {
	return (2*n+2)/3 + 1
}

// MaxFaults returns the largest f such that n >= 3f+1.
func MaxFaults(n int) int {
	return (n - 1) / 3
}

func (e *Engine) quorum() int { return Quorum(e.N()) }

// currentCoordinator returns the deterministic leader for the current view:
// peers sorted by id, indexed by view mod N.
func (e *Engine) currentCoordinator() string {
	if len(e.peers) == 0 {
		return ""
	}
	return e.peers[e.view%uint64(len(e.peers))]
}

// IsCoordinator reports whether this peer is the current view's leader.
func (e *Engine) IsCoordinator() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentCoordinator() == e.selfID
}

// Propose creates, signs, and broadcasts a new Proposal for op. Only the
// current coordinator should call this in normal operation; validation on
// receive (§4.5) rejects proposals from a non-coordinator peer.
func (e *Engine) Propose(op Operation) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.quarantined[e.selfID] {
		return Proposal{}, aerolitherrors.New(aerolitherrors.KindUnavailable, "this peer is quarantined")
	}

	e.round++
	p := Proposal{
		ID:        uuid.NewString(),
		Round:     e.round,
		Proposer:  e.selfID,
		Operation: op,
		Timestamp: time.Now().UnixNano(),
	}
	p.Signature = e.signer.Sign(p.signingBytes())

	e.proposals[p.ID] = &proposalEntry{
		proposal: p,
		state:    StateProposed,
		votes:    make(map[string]Vote),
		created:  time.Now(),
	}

	ownVote := e.castVote(p, Accept)
	e.proposals[p.ID].state = StateVoting
	e.proposals[p.ID].votes[e.selfID] = ownVote

	metrics.ConsensusProposalsTotal.WithLabelValues("proposed").Inc()
	if e.broadcaster != nil {
		e.broadcaster.BroadcastVote(ownVote)
	}
	return p, nil
}

func (e *Engine) castVote(p Proposal, decision VoteDecision) Vote {
	v := Vote{
		ProposalID: p.ID,
		Voter:      e.selfID,
		Decision:   decision,
		Timestamp:  time.Now().UnixNano(),
	}
	v.Signature = e.signer.Sign(v.signingBytes())
	return v
}

// validateProposal applies the spec's validation-on-receive rules:
// signature verifies, proposer is the current view's coordinator, round is
// monotonically increasing for that proposer, and the proposer is not
// quarantined.
func (e *Engine) validateProposal(p Proposal) error {
	if e.quarantined[p.Proposer] {
		return fmt.Errorf("proposer %s is quarantined", p.Proposer)
	}
	if p.Proposer != e.currentCoordinator() {
		return fmt.Errorf("proposer %s is not the current coordinator", p.Proposer)
	}
	if !e.signer.Verify(p.Proposer, p.signingBytes(), p.Signature) {
		return fmt.Errorf("signature verification failed for proposal %s", p.ID)
	}
	if seenID, ok := e.equivocations[p.Proposer][p.Round]; ok && seenID != p.ID {
		e.quarantinePeerLocked(p.Proposer)
		return fmt.Errorf("equivocation detected from %s at round %d", p.Proposer, p.Round)
	}
	if p.Round <= e.lastAcceptedRound[p.Proposer] {
		return fmt.Errorf("stale round %d from %s, already accepted round %d", p.Round, p.Proposer, e.lastAcceptedRound[p.Proposer])
	}
	return nil
}

// HandleProposal processes a Proposal received from a peer, voting Accept
// or Reject and broadcasting the vote.
func (e *Engine) HandleProposal(p Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.proposals[p.ID]; exists {
		return nil // already seen
	}

	if m, ok := e.equivocations[p.Proposer]; ok {
		if _, seen := m[p.Round]; !seen {
			m[p.Round] = p.ID
		}
	} else {
		e.equivocations[p.Proposer] = map[uint64]string{p.Round: p.ID}
	}

	decision := Accept
	if err := e.validateProposal(p); err != nil {
		e.log.Warn().Err(err).Str("proposal", p.ID).Msg("rejecting proposal")
		decision = Reject
	} else {
		e.lastAcceptedRound[p.Proposer] = p.Round
	}

	e.proposals[p.ID] = &proposalEntry{
		proposal: p,
		state:    StateVoting,
		votes:    make(map[string]Vote),
		created:  time.Now(),
	}

	v := e.castVote(p, decision)
	e.proposals[p.ID].votes[e.selfID] = v
	if e.broadcaster != nil {
		e.broadcaster.BroadcastVote(v)
	}
	return nil
}

// HandleVote records a vote from a peer and, once quorum is reached,
// commits or aborts the proposal.
func (e *Engine) HandleVote(v Vote) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.proposals[v.ProposalID]
	if !ok {
		return fmt.Errorf("vote for unknown proposal %s", v.ProposalID)
	}
	if entry.state != StateProposed && entry.state != StateVoting {
		return nil // already decided
	}
	if !e.signer.Verify(v.Voter, v.signingBytes(), v.Signature) {
		return fmt.Errorf("signature verification failed for vote from %s", v.Voter)
	}
	if existing, dup := entry.votes[v.Voter]; dup && existing.Decision != v.Decision {
		e.quarantinePeerLocked(v.Voter)
		return fmt.Errorf("equivocating vote from %s on proposal %s", v.Voter, v.ProposalID)
	}

	entry.votes[v.Voter] = v

	accepts, rejects := 0, 0
	for _, cv := range entry.votes {
		switch cv.Decision {
		case Accept:
			accepts++
		case Reject:
			rejects++
		}
	}

	q := e.quorum()
	switch {
	case accepts >= q:
		return e.commitLocked(entry)
	case rejects >= q:
		entry.state = StateAborted
		metrics.ConsensusProposalsTotal.WithLabelValues("aborted").Inc()
		if e.broadcaster != nil {
			e.broadcaster.BroadcastAbort(entry.proposal.ID)
		}
	}
	return nil
}

func (e *Engine) commitLocked(entry *proposalEntry) error {
	entry.state = StateCommitted
	e.lastCommittedRound[e.selfID] = entry.proposal.Round
	metrics.ConsensusProposalsTotal.WithLabelValues("committed").Inc()
	if e.broadcaster != nil {
		e.broadcaster.BroadcastCommit(entry.proposal.ID)
	}
	if e.applier == nil {
		return nil
	}
	op := entry.proposal.Operation
	op.Round = entry.proposal.Round
	op.Proposer = entry.proposal.Proposer
	return e.applier.Apply(op)
}

// HandleCommit applies a proposal this peer voted on once told to commit by
// another peer's broadcast (covers the case where this peer's own quorum
// tally lagged behind, e.g. after reconnecting from a partition).
func (e *Engine) HandleCommit(proposalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.proposals[proposalID]
	if !ok || entry.state == StateCommitted {
		return nil
	}
	return e.commitLocked(entry)
}

// HandleAbort marks a proposal aborted on instruction from a peer.
func (e *Engine) HandleAbort(proposalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.proposals[proposalID]; ok && entry.state != StateCommitted {
		entry.state = StateAborted
	}
}

// HandleHeartbeat records a peer's liveness and last committed round. A
// peer whose last committed round trails the cluster significantly is a
// candidate for catch-up, handled by the coordinator layer.
func (e *Engine) HandleHeartbeat(h Heartbeat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen[h.Peer] = time.Now()
	e.lastCommittedRound[h.Peer] = h.LastCommittedRound
}

// quarantinePeerLocked marks a peer as Byzantine-suspect; its proposals and
// votes are rejected until an operator or membership change clears it.
func (e *Engine) quarantinePeerLocked(peerID string) {
	if e.quarantined[peerID] {
		return
	}
	e.quarantined[peerID] = true
	e.log.Warn().Str("peer", peerID).Msg("quarantining peer for byzantine behavior")
	metrics.ConsensusQuarantinedPeers.Inc()
}

// DeclareUnresponsive records this peer's vote that the current
// coordinator is unresponsive. Once ⌊N/3⌋+1 distinct peers declare the same
// view unresponsive, the engine advances to the next view.
func (e *Engine) DeclareUnresponsive(declarer string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	view := e.view
	if e.unresponsiveVotes[view] == nil {
		e.unresponsiveVotes[view] = make(map[string]struct{})
	}
	e.unresponsiveVotes[view][declarer] = struct{}{}

	threshold := e.N()/3 + 1
	if len(e.unresponsiveVotes[view]) >= threshold {
		e.advanceViewLocked()
	}
}

func (e *Engine) advanceViewLocked() {
	e.view++
	e.log.Info().Uint64("view", e.view).Str("coordinator", e.currentCoordinator()).Msg("view change")
	if e.broadcaster != nil {
		e.broadcaster.BroadcastViewChange(ViewChange{NewView: e.view})
	}
}

// HandleViewChange accepts an externally-driven view advance, used when a
// majority of peers have independently moved on.
func (e *Engine) HandleViewChange(vc ViewChange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vc.NewView > e.view {
		e.view = vc.NewView
	}
}

// Start launches the heartbeat and cleanup background loops.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.heartbeatLoop()
	go e.cleanupLoop()
}

// Stop halts the background loops.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			h := Heartbeat{
				Peer:               e.selfID,
				LastCommittedRound: e.lastCommittedRound[e.selfID],
				Timestamp:          time.Now().UnixNano(),
			}
			broadcaster := e.broadcaster
			e.mu.Unlock()
			if broadcaster != nil {
				broadcaster.BroadcastHeartbeat(h)
			}
			e.timeoutStaleProposals()
		}
	}
}

func (e *Engine) timeoutStaleProposals() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.proposals {
		if (entry.state == StateProposed || entry.state == StateVoting) &&
			time.Since(entry.created) > ProposalTimeout {
			entry.state = StateTimedOut
		}
	}
}

func (e *Engine) cleanupLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			for id, entry := range e.proposals {
				terminal := entry.state == StateCommitted || entry.state == StateAborted || entry.state == StateTimedOut
				if terminal && time.Since(entry.created) > CleanupAge {
					delete(e.proposals, id)
				}
			}
			e.mu.Unlock()
		}
	}
}

// ProposalStateOf reports the current state of a proposal, for inspection
// and tests.
func (e *Engine) ProposalStateOf(id string) (ProposalState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.proposals[id]
	if !ok {
		return "", false
	}
	return entry.state, true
}

// IsQuarantined reports whether peerID is currently quarantined.
func (e *Engine) IsQuarantined(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quarantined[peerID]
}
