package partition

import (
	"context"

	"github.com/cuemby/aerolithdb/pkg/resolver"
)

// CommittedEntry is one committed operation a peer can replay to another
// peer during a heal, keyed by the round it was committed at.
type CommittedEntry struct {
	Round   uint64
	Payload []byte
}

// HealPeer is the subset of the gRPC peer transport the heal protocol needs:
// ask a peer what it last committed, and pull the entries it has beyond a
// given round.
type HealPeer interface {
	LastCommitted(ctx context.Context, peerID string) (HealRequest, error)
	EntriesSince(ctx context.Context, peerID string, round uint64) ([]CommittedEntry, error)
}

// Healer implements the GracefulMerge recovery strategy: once Detector
// reports the connectivity graph back to one component, each former
// minority peer pulls whatever the majority side committed while split,
// replays it through Applier, and any resulting sibling conflicts are
// handed to a resolver.Resolver the same way a normal concurrent write
// would be.
type Healer struct {
	selfID   string
	transport HealPeer
	apply    func(payload []byte) error
	resolve  *resolver.Resolver
}

// NewHealer constructs a Healer. apply replays one committed entry's
// payload against local storage (the same Applier the consensus FSM uses).
func NewHealer(selfID string, transport HealPeer, apply func(payload []byte) error, resolve *resolver.Resolver) *Healer {
	return &Healer{selfID: selfID, transport: transport, apply: apply, resolve: resolve}
}

// Heal runs the partition-heal protocol against every peer that is now
// reachable again: each side learns the other's last committed round, the
// side that is behind pulls the missing entries and replays them in order.
func (h *Healer) Heal(ctx context.Context, selfLastRound uint64, peers []string) error {
	for _, peerID := range peers {
		if peerID == h.selfID {
			continue
		}
		remote, err := h.transport.LastCommitted(ctx, peerID)
		if err != nil {
			return err
		}
		if remote.LastCommittedRound <= selfLastRound {
			continue // this peer is behind us, or caught up; nothing to pull
		}

		entries, err := h.transport.EntriesSince(ctx, peerID, selfLastRound)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := h.apply(entry.Payload); err != nil {
				return err
			}
		}
	}
	return nil
}
