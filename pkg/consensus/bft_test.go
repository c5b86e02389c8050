package consensus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeApplier records every operation it is asked to apply.
type fakeApplier struct {
	mu  sync.Mutex
	ops []Operation
}

func (a *fakeApplier) Apply(op Operation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, op)
	return nil
}

func (a *fakeApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ops)
}

// fakeBroadcaster fans a message out to every other registered engine
// directly, in-process, simulating a lossless network for protocol tests.
type fakeBroadcaster struct {
	self   string
	engines map[string]*Engine
}

func (b *fakeBroadcaster) BroadcastVote(v Vote) {
	for id, e := range b.engines {
		if id != b.self {
			e.HandleVote(v)
		}
	}
}
func (b *fakeBroadcaster) BroadcastCommit(id string) {
	for peer, e := range b.engines {
		if peer != b.self {
			e.HandleCommit(id)
		}
	}
}
func (b *fakeBroadcaster) BroadcastAbort(id string) {
	for peer, e := range b.engines {
		if peer != b.self {
			e.HandleAbort(id)
		}
	}
}
func (b *fakeBroadcaster) BroadcastHeartbeat(h Heartbeat) {
	for peer, e := range b.engines {
		if peer != b.self {
			e.HandleHeartbeat(h)
		}
	}
}
func (b *fakeBroadcaster) BroadcastViewChange(vc ViewChange) {
	for peer, e := range b.engines {
		if peer != b.self {
			e.HandleViewChange(vc)
		}
	}
}

// cluster builds n engines sharing a signer keyring, wired to broadcast
// among each other directly.
func cluster(t *testing.T, n int) ([]*Engine, []*fakeApplier) {
	t.Helper()
	peerIDs := make([]string, n)
	for i := range peerIDs {
		peerIDs[i] = string(rune('A' + i))
	}

	signers := make(map[string]*Ed25519Signer, n)
	for _, id := range peerIDs {
		s, err := NewEd25519Signer(id)
		require.NoError(t, err)
		signers[id] = s
	}
	// cross-register public keys so every signer can verify every peer
	for _, from := range signers {
		for id, other := range signers {
			from.RegisterPeerKey(id, other.PublicKey())
		}
	}

	engines := make([]*Engine, n)
	appliers := make([]*fakeApplier, n)
	broadcasters := make(map[string]*Engine, n)

	for i, id := range peerIDs {
		applier := &fakeApplier{}
		appliers[i] = applier
		b := &fakeBroadcaster{self: id, engines: broadcasters}
		e := NewEngine(Config{
			SelfID:      id,
			Peers:       peerIDs,
			Signer:      signers[id],
			Applier:     applier,
			Broadcaster: b,
		})
		engines[i] = e
		broadcasters[id] = e
	}
	return engines, appliers
}

func TestQuorumMatchesFormula(t *testing.T) {
	cases := map[int]int{
		3:  3,
		4:  4,
		6:  5,
		7:  6,
		10: 8,
	}
	for n, want := range cases {
		got := Quorum(n)
		assert.Equal(t, want, got, "n=%d", n)
	}
}

func TestMaxFaultsRequiresThreeFPlusOne(t *testing.T) {
	assert.Equal(t, 0, MaxFaults(3))
	assert.Equal(t, 1, MaxFaults(4))
	assert.Equal(t, 2, MaxFaults(7))
}

func TestProposalCommitsWithUnanimousHonestCluster(t *testing.T) {
	engines, appliers := cluster(t, 4)
	coordinator := engines[0]
	require.True(t, coordinator.IsCoordinator())

	op := Operation{Kind: OpInsert, Collection: "users", DocID: "u1", Payload: []byte("hi")}
	p, err := coordinator.Propose(op)
	require.NoError(t, err)

	for _, e := range engines {
		state, ok := e.ProposalStateOf(p.ID)
		require.True(t, ok)
		assert.Equal(t, StateCommitted, state)
	}
	for _, a := range appliers {
		assert.Equal(t, 1, a.count())
	}
}

func TestNonCoordinatorProposalIsRejected(t *testing.T) {
	engines, _ := cluster(t, 4)
	impostor := engines[1] // view 0's coordinator is engines[0]

	p := Proposal{
		ID:        "bad-proposal",
		Round:     1,
		Proposer:  impostor.selfID,
		Operation: Operation{Kind: OpInsert, Collection: "users", DocID: "u1"},
		Timestamp: 1,
	}
	p.Signature = impostor.signer.Sign(p.signingBytes())

	require.NoError(t, engines[0].HandleProposal(p))
	state, ok := engines[0].ProposalStateOf(p.ID)
	require.True(t, ok)
	assert.Equal(t, StateVoting, state, "a single reject vote from the coordinator itself doesn't reach quorum")

	votes := engines[0].proposals[p.ID].votes
	assert.Equal(t, Reject, votes[engines[0].selfID].Decision)
}

func TestEquivocatingProposerIsQuarantined(t *testing.T) {
	engines, _ := cluster(t, 4)
	coordinator := engines[0]
	observer := engines[1]

	op1 := Operation{Kind: OpInsert, Collection: "users", DocID: "u1"}
	op2 := Operation{Kind: OpInsert, Collection: "users", DocID: "u2"}

	p1 := Proposal{ID: "p1", Round: 1, Proposer: coordinator.selfID, Operation: op1, Timestamp: 1}
	p1.Signature = coordinator.signer.Sign(p1.signingBytes())
	p2 := Proposal{ID: "p2", Round: 1, Proposer: coordinator.selfID, Operation: op2, Timestamp: 2}
	p2.Signature = coordinator.signer.Sign(p2.signingBytes())

	require.NoError(t, observer.HandleProposal(p1))
	require.NoError(t, observer.HandleProposal(p2))

	assert.True(t, observer.IsQuarantined(coordinator.selfID))
}

func TestEquivocatingVoterIsQuarantined(t *testing.T) {
	engines, _ := cluster(t, 4)
	coordinator := engines[0]
	voter := engines[1]

	op := Operation{Kind: OpInsert, Collection: "users", DocID: "u1"}
	p, err := coordinator.Propose(op)
	require.NoError(t, err)

	firstVote := Vote{ProposalID: p.ID, Voter: voter.selfID, Decision: Accept, Timestamp: 1}
	firstVote.Signature = voter.signer.Sign(firstVote.signingBytes())
	require.NoError(t, coordinator.HandleVote(firstVote))

	conflicting := Vote{ProposalID: p.ID, Voter: voter.selfID, Decision: Reject, Timestamp: 2}
	conflicting.Signature = voter.signer.Sign(conflicting.signingBytes())

	err = coordinator.HandleVote(conflicting)
	require.Error(t, err)
	assert.True(t, coordinator.IsQuarantined(voter.selfID))
}

func TestDeclareUnresponsiveTriggersViewChange(t *testing.T) {
	engines, _ := cluster(t, 4)
	initialView := engines[0].view

	engines[0].DeclareUnresponsive("B")
	engines[0].DeclareUnresponsive("C")

	assert.Greater(t, engines[0].view, initialView)
}

func TestCurrentCoordinatorIsDeterministicByView(t *testing.T) {
	engines, _ := cluster(t, 3)
	e := engines[0]
	assert.Equal(t, e.peers[0], e.currentCoordinator())

	e.mu.Lock()
	e.view = 1
	e.mu.Unlock()
	assert.Equal(t, e.peers[1], e.currentCoordinator())
}
