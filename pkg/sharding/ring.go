// Package sharding implements consistent-hash shard assignment with virtual
// nodes and replica placement across physical peers (§4.3).
package sharding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
)

// Strategy selects how keys map to shards. ConsistentHash is the default;
// Range is exposed for callers that need ordered scans over a key range.
type Strategy string

const (
	ConsistentHash Strategy = "consistent_hash"
	Range          Strategy = "range"
)

// Peer is a physical peer eligible to hold shard replicas.
type Peer struct {
	ID            string
	FailureDomain string // e.g. rack or availability zone; "" if unknown
	Live          bool
}

// Ring is a consistent-hash ring with virtual nodes. It is safe for
// concurrent use; AddPeer/RemovePeer rebalance by moving only the virtual
// nodes owned by the affected peer.
type Ring struct {
	mu               sync.RWMutex
	virtualNodesEach int
	tokens           []uint64          // sorted virtual-node tokens
	tokenOwner       map[uint64]string // token -> peer id
	peers            map[string]*Peer
}

// NewRing creates a ring with virtualNodesEach virtual nodes per physical
// peer (default should be >= 128 per the core design).
func NewRing(virtualNodesEach int) *Ring {
	if virtualNodesEach <= 0 {
		virtualNodesEach = 128
	}
	return &Ring{
		virtualNodesEach: virtualNodesEach,
		tokenOwner:       make(map[uint64]string),
		peers:            make(map[string]*Peer),
	}
}

// AddPeer inserts peer's virtual nodes into the ring. Rebalances only the
// minimum set of virtual nodes (the newly inserted ones); existing token
// ownership is untouched.
func (r *Ring) AddPeer(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[p.ID] = &p
	for i := 0; i < r.virtualNodesEach; i++ {
		tok := virtualNodeToken(p.ID, i)
		if _, exists := r.tokenOwner[tok]; exists {
			continue // astronomically unlikely collision; keep first owner
		}
		r.tokenOwner[tok] = p.ID
		r.tokens = insertSorted(r.tokens, tok)
	}
}

// RemovePeer deletes peer's virtual nodes from the ring, moving their key
// ranges to the next clockwise owner.
func (r *Ring) RemovePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.peers, peerID)
	for i := 0; i < r.virtualNodesEach; i++ {
		tok := virtualNodeToken(peerID, i)
		if owner, ok := r.tokenOwner[tok]; ok && owner == peerID {
			delete(r.tokenOwner, tok)
			r.tokens = removeSorted(r.tokens, tok)
		}
	}
}

// SetLive updates a peer's liveness without touching ring placement;
// replica selection skips dead peers but placement itself stays
// deterministic given the ring state (§4.3).
func (r *Ring) SetLive(peerID string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[peerID]; ok {
		p.Live = live
	}
}

// ShardID returns the deterministic shard identifier for key = (collection,
// docID) under ConsistentHash strategy: the id of the physical peer owning
// the virtual node token immediately clockwise of hash(collection, docID).
func (r *Ring) ShardID(collection, docID string) string {
	tok := keyToken(collection, docID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownerForToken(tok)
}

// ownerForToken returns the physical peer id owning the virtual node clockwise of
// tok. Caller must hold at least a read lock.
func (r *Ring) ownerForToken(tok uint64) string {
	if len(r.tokens) == 0 {
		return ""
	}
	idx := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i] >= tok })
	if idx == len(r.tokens) {
		idx = 0 // wrap around
	}
	return r.tokenOwner[r.tokens[idx]]
}

// ReplicaSet returns the replicationFactor distinct physical peers
// responsible for key = (collection, docID): the next replicationFactor
// distinct peers walking clockwise from the key's token, skipping peers in
// an already-used failure domain when an alternative exists, and preferring
// live peers.
func (r *Ring) ReplicaSet(collection, docID string, replicationFactor int) ([]string, error) {
	tok := keyToken(collection, docID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tokens) == 0 {
		return nil, aerolitherrors.Unavailable("shard ring has no peers")
	}

	start := sort.Search(len(r.tokens), func(i int) bool { return r.tokens[i] >= tok })

	seenPeer := make(map[string]bool)
	seenDomain := make(map[string]bool)
	var primary, fallback []string

	for i := 0; i < len(r.tokens); i++ {
		idx := (start + i) % len(r.tokens)
		peerID := r.tokenOwner[r.tokens[idx]]
		if seenPeer[peerID] {
			continue
		}
		p := r.peers[peerID]
		if p == nil || !p.Live {
			continue
		}
		seenPeer[peerID] = true

		if p.FailureDomain != "" && seenDomain[p.FailureDomain] {
			fallback = append(fallback, peerID) // same domain as an already-chosen replica
			continue
		}
		if p.FailureDomain != "" {
			seenDomain[p.FailureDomain] = true
		}
		primary = append(primary, peerID)
		if len(primary) == replicationFactor {
			return primary, nil
		}
	}

	// Not enough distinct failure domains available; fill out with
	// same-domain fallbacks to still satisfy the replica count when possible.
	for _, peerID := range fallback {
		if len(primary) == replicationFactor {
			break
		}
		primary = append(primary, peerID)
	}

	if len(primary) < replicationFactor {
		return primary, aerolitherrors.Unavailable(
			"only %d of %d replicas available (live peers exhausted)", len(primary), replicationFactor)
	}
	return primary, nil
}

// Size returns the number of physical peers currently in the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func virtualNodeToken(peerID string, index int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s#%d", peerID, index))
}

func keyToken(collection, docID string) uint64 {
	return xxhash.Sum64String(collection + "\x00" + docID)
}

func insertSorted(tokens []uint64, tok uint64) []uint64 {
	idx := sort.Search(len(tokens), func(i int) bool { return tokens[i] >= tok })
	tokens = append(tokens, 0)
	copy(tokens[idx+1:], tokens[idx:])
	tokens[idx] = tok
	return tokens
}

func removeSorted(tokens []uint64, tok uint64) []uint64 {
	idx := sort.Search(len(tokens), func(i int) bool { return tokens[i] >= tok })
	if idx < len(tokens) && tokens[idx] == tok {
		tokens = append(tokens[:idx], tokens[idx+1:]...)
	}
	return tokens
}
