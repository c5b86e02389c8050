package sharding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(peerIDs ...string) *Ring {
	r := NewRing(32)
	for _, id := range peerIDs {
		r.AddPeer(Peer{ID: id, Live: true})
	}
	return r
}

func TestShardIDDeterministic(t *testing.T) {
	r := newTestRing("p1", "p2", "p3")
	first := r.ShardID("users", "u1")
	second := r.ShardID("users", "u1")
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestReplicaSetReturnsDistinctPeers(t *testing.T) {
	r := newTestRing("p1", "p2", "p3", "p4")
	replicas, err := r.ReplicaSet("users", "u1", 3)
	require.NoError(t, err)
	assert.Len(t, replicas, 3)

	seen := map[string]bool{}
	for _, p := range replicas {
		assert.False(t, seen[p], "duplicate replica %s", p)
		seen[p] = true
	}
}

func TestReplicaSetSkipsDeadPeers(t *testing.T) {
	r := newTestRing("p1", "p2", "p3", "p4")
	r.SetLive("p2", false)

	replicas, err := r.ReplicaSet("users", "u1", 3)
	require.NoError(t, err)
	for _, p := range replicas {
		assert.NotEqual(t, "p2", p)
	}
}

func TestReplicaSetUnavailableWhenNotEnoughLivePeers(t *testing.T) {
	r := newTestRing("p1", "p2")
	r.SetLive("p2", false)

	_, err := r.ReplicaSet("users", "u1", 3)
	require.Error(t, err)
}

func TestReplicaSetPrefersDistinctFailureDomains(t *testing.T) {
	r := NewRing(64)
	r.AddPeer(Peer{ID: "p1", FailureDomain: "rack-a", Live: true})
	r.AddPeer(Peer{ID: "p2", FailureDomain: "rack-a", Live: true})
	r.AddPeer(Peer{ID: "p3", FailureDomain: "rack-b", Live: true})
	r.AddPeer(Peer{ID: "p4", FailureDomain: "rack-c", Live: true})

	replicas, err := r.ReplicaSet("docs", "d1", 3)
	require.NoError(t, err)

	domains := map[string]bool{}
	peerDomain := map[string]string{"p1": "rack-a", "p2": "rack-a", "p3": "rack-b", "p4": "rack-c"}
	distinctCount := 0
	for _, p := range replicas {
		d := peerDomain[p]
		if !domains[d] {
			distinctCount++
			domains[d] = true
		}
	}
	assert.GreaterOrEqual(t, distinctCount, 2)
}

func TestAddPeerRebalancesMinimumVirtualNodes(t *testing.T) {
	r := newTestRing("p1", "p2", "p3")
	before := map[string]string{}
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5"} {
		before[k] = r.ShardID("col", k)
	}

	r.AddPeer(Peer{ID: "p4", Live: true})

	moved := 0
	for k, owner := range before {
		if r.ShardID("col", k) != owner {
			moved++
		}
	}
	// Not every key should move when one peer joins a 3-peer ring.
	assert.Less(t, moved, 5)
}

func TestRangeRingShardID(t *testing.T) {
	r := NewRangeRing([]string{"m", "z"}, []string{"p1", "p2"})
	assert.Equal(t, "p1", r.ShardID("alice"))
	assert.Equal(t, "p2", r.ShardID("victor"))
}
