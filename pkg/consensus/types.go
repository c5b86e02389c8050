// Package consensus implements the Byzantine fault-tolerant proposal/vote/
// commit engine (§4.5): a bespoke BFT admission protocol layered over
// hashicorp/raft's crash-fault-tolerant replicated log. Raft alone tolerates
// only non-malicious crash failures among a simple majority; the layer here
// adds the supermajority (⌈2N/3⌉+1) voting quorum, equivocation detection,
// and deterministic view-change that Byzantine tolerance requires, then
// hands a BFT-approved operation to raft.Apply for durable, ordered
// persistence.
package consensus

import (
	"encoding/json"
	"time"
)

// OperationKind names the mutation a committed proposal performs.
type OperationKind string

const (
	OpInsert           OperationKind = "insert"
	OpUpdate           OperationKind = "update"
	OpDelete           OperationKind = "delete"
	OpCreateCollection OperationKind = "create_collection"
	OpDropCollection   OperationKind = "drop_collection"
)

// Operation is the payload a Proposal carries (§4.5 Operation variants).
type Operation struct {
	Kind       OperationKind   `json:"kind"`
	Collection string          `json:"collection"`
	DocID      string          `json:"doc_id,omitempty"`
	Payload    []byte          `json:"payload,omitempty"`
	Version    uint64          `json:"version,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	// Round is the proposal round this operation was committed at, stamped
	// by the engine just before handing the operation to Applier. Callers
	// that need a replayable, round-indexed log (the partition heal
	// protocol) key off this field rather than Version, which is a
	// per-document optimistic-concurrency counter.
	Round uint64 `json:"round,omitempty"`
	// Proposer is the peer that authored this operation, stamped by the
	// engine alongside Round. The conflict resolver (§4.4) uses this to
	// attribute sibling versions to a peer for PeerPriority/LastWriterWins
	// tie-breaking.
	Proposer string `json:"proposer,omitempty"`
}

// Proposal is a peer's proposed next log entry.
type Proposal struct {
	ID        string    `json:"id"`
	Round     uint64    `json:"round"`
	Proposer  string    `json:"proposer"`
	Operation Operation `json:"operation"`
	Timestamp int64     `json:"timestamp"` // unix nanos
	Signature []byte    `json:"signature"`
}

// signingBytes returns the deterministic byte representation signed and
// verified for a Proposal; the signature field itself is excluded.
func (p Proposal) signingBytes() []byte {
	cp := p
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// VoteDecision is a peer's judgment on a Proposal.
type VoteDecision string

const (
	Accept  VoteDecision = "accept"
	Reject  VoteDecision = "reject"
	Abstain VoteDecision = "abstain"
)

// Vote is a peer's signed decision on a Proposal.
type Vote struct {
	ProposalID string       `json:"proposal_id"`
	Voter      string       `json:"voter"`
	Decision   VoteDecision `json:"decision"`
	Timestamp  int64        `json:"timestamp"`
	Signature  []byte       `json:"signature"`
}

func (v Vote) signingBytes() []byte {
	cp := v
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// ProposalState tracks a Proposal through its state machine:
// Proposed -> Voting -> (Committed | Aborted | TimedOut).
type ProposalState string

const (
	StateProposed ProposalState = "proposed"
	StateVoting   ProposalState = "voting"
	StateCommitted ProposalState = "committed"
	StateAborted  ProposalState = "aborted"
	StateTimedOut ProposalState = "timed_out"
)

// Heartbeat announces a peer's identity and last committed round, used both
// for liveness tracking and the catch-up trigger (§4.5).
type Heartbeat struct {
	Peer              string `json:"peer"`
	LastCommittedRound uint64 `json:"last_committed_round"`
	Timestamp         int64  `json:"timestamp"`
}

// ViewChange announces a new coordinator view.
type ViewChange struct {
	NewView uint64 `json:"new_view"`
}

// Signer signs and verifies the wire messages exchanged between peers.
// §9 leaves the signature scheme unspecified; this core uses per-peer
// Ed25519 keys (see signer.go) since message signing needs no certificate
// chain, only a verifiable peer identity.
type Signer interface {
	Sign(payload []byte) []byte
	Verify(peerID string, payload, signature []byte) bool
}

// Applier executes a committed Operation against the storage layer. The
// coordinator supplies the concrete implementation so this package never
// imports pkg/storage directly.
type Applier interface {
	Apply(op Operation) error
}

// Broadcaster sends a message to every other known peer. The concrete
// implementation lives in pkg/transport; this package only depends on the
// interface so it stays transport-agnostic.
type Broadcaster interface {
	BroadcastVote(v Vote)
	BroadcastCommit(proposalID string)
	BroadcastAbort(proposalID string)
	BroadcastHeartbeat(h Heartbeat)
	BroadcastViewChange(vc ViewChange)
}

// proposalEntry is the engine's bookkeeping record for an in-flight
// proposal.
type proposalEntry struct {
	proposal Proposal
	state    ProposalState
	votes    map[string]Vote
	created  time.Time
}
