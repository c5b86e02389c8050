// Package resolver implements the conflict resolution strategies selectable
// per collection or per datacenter mode (§4.4): LastWriterWins, PeerPriority,
// Causal (vector clock), and SemanticMerge.
package resolver

import (
	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/vectorclock"
)

// Strategy names a conflict resolution strategy.
type Strategy string

const (
	LastWriterWins Strategy = "last_writer_wins"
	PeerPriority   Strategy = "peer_priority"
	Causal         Strategy = "causal"
	SemanticMerge  Strategy = "semantic_merge"
)

// Sibling is one of several concurrently-written versions of a document
// awaiting resolution.
type Sibling struct {
	PeerID    string
	Priority  int
	Timestamp int64 // unix nanos
	Payload   []byte
	Clock     *vectorclock.Clock
}

// Merger is the single-method interface an application supplies when
// SemanticMerge is configured (§9 open question: the source does not define
// this signature, so we require exactly this one).
type Merger interface {
	Merge(a, b []byte) ([]byte, error)
}

// Resolved is the outcome of resolving a set of siblings into one version.
type Resolved struct {
	Payload []byte
	Clock   *vectorclock.Clock
	// WinnerPeerID is the peer whose write was chosen (for LWW/PeerPriority)
	// or the resolving peer that performed the merge (Causal/SemanticMerge).
	WinnerPeerID string
}

// Resolver resolves concurrent writes per a configured strategy.
type Resolver struct {
	strategy     Strategy
	priorities   map[string]int // peer_id -> priority, used by PeerPriority
	merger       Merger         // used by SemanticMerge
	resolvingPeer string
}

// New constructs a Resolver for strategy. priorities may be nil unless
// strategy is PeerPriority or a PeerPriority fallback is needed. merger may
// be nil unless strategy is SemanticMerge (resolving it then falls back to
// PeerPriority per §4.4).
func New(strategy Strategy, resolvingPeer string, priorities map[string]int, merger Merger) *Resolver {
	return &Resolver{
		strategy:      strategy,
		priorities:    priorities,
		merger:        merger,
		resolvingPeer: resolvingPeer,
	}
}

// Resolve picks a winner (or merges) among causally-concurrent siblings and
// returns a single resolved version whose clock is the pointwise max of the
// siblings plus an increment for the resolving peer.
func (r *Resolver) Resolve(siblings []Sibling) (Resolved, error) {
	if len(siblings) == 0 {
		return Resolved{}, aerolitherrors.Internal("resolve called with no siblings")
	}
	if len(siblings) == 1 {
		return Resolved{
			Payload:      siblings[0].Payload,
			Clock:        siblings[0].Clock.Clone(),
			WinnerPeerID: siblings[0].PeerID,
		}, nil
	}

	merged := mergedClock(siblings, r.resolvingPeer)

	switch r.strategy {
	case LastWriterWins:
		winner := lastWriterWins(siblings)
		return Resolved{Payload: winner.Payload, Clock: merged, WinnerPeerID: winner.PeerID}, nil

	case PeerPriority:
		winner := peerPriority(siblings, r.priorities)
		return Resolved{Payload: winner.Payload, Clock: merged, WinnerPeerID: winner.PeerID}, nil

	case Causal:
		// Only truly concurrent siblings reach the resolver (the caller
		// filters out the causally-dominated ones before calling Resolve),
		// so a remaining tie still needs a deterministic pick: fall back to
		// PeerPriority, falling back again to LWW if no priorities given.
		if len(r.priorities) > 0 {
			winner := peerPriority(siblings, r.priorities)
			return Resolved{Payload: winner.Payload, Clock: merged, WinnerPeerID: winner.PeerID}, nil
		}
		winner := lastWriterWins(siblings)
		return Resolved{Payload: winner.Payload, Clock: merged, WinnerPeerID: winner.PeerID}, nil

	case SemanticMerge:
		if r.merger == nil {
			winner := peerPriority(siblings, r.priorities)
			return Resolved{Payload: winner.Payload, Clock: merged, WinnerPeerID: winner.PeerID}, nil
		}
		payload := siblings[0].Payload
		for _, s := range siblings[1:] {
			merged2, err := r.merger.Merge(payload, s.Payload)
			if err != nil {
				return Resolved{}, aerolitherrors.Wrap(aerolitherrors.KindInternal, "semantic merge failed", err)
			}
			payload = merged2
		}
		return Resolved{Payload: payload, Clock: merged, WinnerPeerID: r.resolvingPeer}, nil

	default:
		return Resolved{}, aerolitherrors.Internal("unknown conflict resolution strategy %q", r.strategy)
	}
}

func mergedClock(siblings []Sibling, resolvingPeer string) *vectorclock.Clock {
	merged := vectorclock.New()
	for _, s := range siblings {
		merged.Merge(s.Clock)
	}
	if resolvingPeer != "" {
		merged.Increment(resolvingPeer)
	}
	return merged
}

// lastWriterWins picks by (timestamp, peer_id) tiebreak: highest timestamp
// wins; ties broken by the lexicographically greatest peer id.
func lastWriterWins(siblings []Sibling) Sibling {
	winner := siblings[0]
	for _, s := range siblings[1:] {
		if s.Timestamp > winner.Timestamp ||
			(s.Timestamp == winner.Timestamp && s.PeerID > winner.PeerID) {
			winner = s
		}
	}
	return winner
}

// peerPriority picks the sibling from the highest-priority peer, falling
// back to LastWriterWins on ties.
func peerPriority(siblings []Sibling, priorities map[string]int) Sibling {
	winner := siblings[0]
	winnerPriority := priorities[winner.PeerID]
	for _, s := range siblings[1:] {
		p := priorities[s.PeerID]
		switch {
		case p > winnerPriority:
			winner, winnerPriority = s, p
		case p == winnerPriority:
			if s.Timestamp > winner.Timestamp ||
				(s.Timestamp == winner.Timestamp && s.PeerID > winner.PeerID) {
				winner = s
			}
		}
	}
	return winner
}
