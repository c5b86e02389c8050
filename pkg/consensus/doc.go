// Package consensus coordinates document mutations across an AerolithDB
// cluster so that every non-quarantined peer applies the same operations
// in the same order, even when a minority of peers actively lie.
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                          consensus.Node                          │
//	│                                                                   │
//	│   Propose(op) ──> Engine.Propose ──> sign ──> broadcast Vote      │
//	│                        │                                          │
//	│        HandleProposal──┤ validate: coordinator? signature?        │
//	│        HandleVote──────┤ tally Accept/Reject, quorum=⌈2N/3⌉+1     │
//	│                        │                                          │
//	│                   Committed ──> Node.Commit(op) ──> raft.Apply    │
//	│                                        │                          │
//	│                                   FSM.Apply ──> Applier (storage) │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Two layers, two jobs
//
// hashicorp/raft gives this package a durable, crash-tolerant replicated
// log: once an operation is handed to raft.Apply, every peer's FSM applies
// it in the same order, and a restarted peer replays it from a snapshot or
// the log itself. Raft's own leader election and majority-quorum commit
// rule are not trusted for Byzantine safety — a minority of malicious
// peers could still get raft to order an operation no honest majority
// actually agreed to if that were the only check.
//
// The Engine in this package is the actual trust boundary. It runs its own
// Propose/Vote/Commit protocol requiring a ⌈2N/3⌉+1 supermajority of Accept
// votes (tolerating up to f Byzantine peers when N ≥ 3f+1), detects
// equivocating proposers and voters and quarantines them, and advances
// through a deterministic view-change (peers sorted by id, indexed by
// view mod N) whenever enough peers declare the current coordinator
// unresponsive. Only once the Engine reports an operation Committed does
// the coordinator hand it to Node.Commit, which is where raft's durability
// guarantee takes over.
//
// # Message flow
//
// A coordinator calls Engine.Propose, which signs and broadcasts the
// resulting Proposal's first vote. Every other peer receives it through
// HandleProposal, validates it (coordinator identity, signature, no
// equivocation at this round), and broadcasts its own Vote from inside
// HandleProposal; peers tally incoming votes in HandleVote. Once any peer
// observes quorum it calls the registered Applier and broadcasts the
// commit. Node.Commit is not called by the Engine: the coordinator that
// proposed the operation calls it once it sees the proposal Committed.
//
// # Signatures
//
// Proposals and votes are signed with per-peer Ed25519 keys (signer.go)
// rather than the teacher's RSA/x509 certificate authority, which exists
// to authenticate TLS connections, not to sign individual protocol
// messages.
package consensus
