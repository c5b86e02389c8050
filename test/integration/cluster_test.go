// Package integration holds black-box, multi-peer scenario tests against
// pkg/coordinator's public API only (§8). Unlike pkg/coordinator's own
// white-box *_test.go, nothing here reaches into an unexported field -
// every fixture is built from Config, Signer().RegisterPeerKey, and the
// five public document operations, the same surface any real caller has.
package integration

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/coordinator"
	"github.com/cuemby/aerolithdb/pkg/partition"
	"github.com/cuemby/aerolithdb/pkg/resolver"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/cuemby/aerolithdb/pkg/transport"
)

// freeTCPAddr binds a loopback listener long enough to learn an unused
// port, then releases it for raft's own TCPTransport to bind.
func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// newCluster wires n Coordinators sharing one in-process transport.Bus, the
// same fixture shape as pkg/coordinator/coordinator_test.go's newTestCluster,
// rebuilt here against the exported surface only.
func newCluster(t *testing.T, n int) ([]*coordinator.Coordinator, *transport.Bus) {
	t.Helper()
	peerIDs := make([]string, n)
	for i := range peerIDs {
		peerIDs[i] = fmt.Sprintf("peer-%c", rune('A'+i))
	}

	bus := transport.NewBus()
	coordinators := make([]*coordinator.Coordinator, n)

	for i, id := range peerIDs {
		cfg := coordinator.Config{
			PeerID:              id,
			BindAddr:            freeTCPAddr(t),
			DataDir:             t.TempDir(),
			Peers:               peerIDs,
			ReplicationFactor:   2,
			VirtualNodesPerPeer: 16,
			MaxDocumentSize:     1 << 20,
			ConflictStrategy:    resolver.Causal,
			HeartbeatInterval:   5 * time.Second,
			DampeningWindow:     10 * time.Second,
			Storage: storage.EngineConfig{
				PeerID:            id,
				DataDir:           t.TempDir(),
				ColdAfter:         24 * time.Hour,
				ArchiveAfter:      30 * 24 * time.Hour,
				MigrationInterval: time.Hour,
			},
		}
		c, err := coordinator.New(cfg, bus, nil)
		require.NoError(t, err)
		coordinators[i] = c
	}

	for _, c := range coordinators {
		for j, other := range coordinators {
			c.Signer().RegisterPeerKey(peerIDs[j], other.Signer().PublicKey())
		}
	}

	for _, c := range coordinators {
		require.NoError(t, c.Bootstrap())
	}

	t.Cleanup(func() {
		for _, c := range coordinators {
			_ = c.Shutdown()
		}
	})

	return coordinators, bus
}

// TestConcurrentWriterConflictResolution matches spec §8 scenario 3 at
// single-coordinator granularity (only the view coordinator may propose, so
// two *different* peers racing a write is not representable here - see
// pkg/coordinator.TestNonCoordinatorPeerDeclinesWrites for that half). Two
// callers race an UpdateDocument against the same view coordinator with the
// same stale expectedVersion: the second one to actually commit finds the
// document has already moved past the version it expected and is routed
// through the conflict resolver (applyWrite) instead of being rejected or
// silently dropped.
func TestConcurrentWriterConflictResolution(t *testing.T) {
	coordinators, _ := newCluster(t, 3)
	c := coordinators[0]
	ctx := context.Background()

	base, err := c.PutDocument(ctx, "users", "u1", []byte(`{"v":0}`))
	require.NoError(t, err)
	require.Equal(t, uint64(1), base.Version)

	type result struct {
		meta storage.Metadata
		err  error
	}
	results := make(chan result, 2)
	go func() {
		meta, err := c.UpdateDocument(ctx, "users", "u1", []byte(`{"v":1}`), base.Version)
		results <- result{meta, err}
	}()
	go func() {
		meta, err := c.UpdateDocument(ctx, "users", "u1", []byte(`{"v":2}`), base.Version)
		results <- result{meta, err}
	}()

	var versions []uint64
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err, "a racing update must be reconciled, not rejected")
		versions = append(versions, r.meta.Version)
	}
	// Every committed write still bumps the stored version (I2): neither
	// racing update vanishes, even though one of them was concurrent with
	// respect to its own expectedVersion.
	assert.ElementsMatch(t, []uint64{2, 3}, versions)

	doc, err := c.GetDocument(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, []string{`{"v":1}`, `{"v":2}`}, string(doc.Payload))
	assert.Equal(t, uint64(3), doc.Meta.Version)

	for _, peer := range coordinators {
		got, err := peer.GetDocument(ctx, "users", "u1")
		require.NoError(t, err)
		assert.Equal(t, doc.Payload, got.Payload, "every peer converges to the same reconciled payload")
	}
}

// TestPartitionDetectAndHeal matches spec §8 scenario 4 end to end: the
// minority side of a disconnect goes read-only (P9), the majority side keeps
// committing, and once connectivity is restored the minority peer's stale
// state converges with the majority's (P6) before writes succeed there
// again. pkg/coordinator.TestReadOnlyDuringMinorityPartition already covers
// the disconnect half in isolation; this extends it through a reconnect.
func TestPartitionDetectAndHeal(t *testing.T) {
	coordinators, _ := newCluster(t, 3)
	a, b, cc := coordinators[0], coordinators[1], coordinators[2] // peer-A is the initial view coordinator
	ctx := context.Background()

	_, err := a.PutDocument(ctx, "k", "doc", []byte("hello"))
	require.NoError(t, err)

	// Sever peer-A from {peer-B, peer-C}; peer-A learns peer-B and peer-C
	// still see each other, so {peer-B, peer-C} is the majority component.
	a.ReportLink("peer-A", partition.LinkStatus{Peer: "peer-B", State: partition.LinkDisconnected, LastSeen: time.Now()})
	a.ReportLink("peer-A", partition.LinkStatus{Peer: "peer-C", State: partition.LinkDisconnected, LastSeen: time.Now()})
	a.ReportLink("peer-B", partition.LinkStatus{Peer: "peer-C", State: partition.LinkConnected, LastSeen: time.Now()})

	require.Eventually(t, func() bool {
		_, err := a.PutDocument(ctx, "k", "minority-attempt", []byte("nope"))
		return err != nil && aerolitherrors.KindOf(err) == aerolitherrors.KindPartitionReadOnly
	}, time.Second, 5*time.Millisecond, "peer-A's component must become read-only under MajorityPartitionOnly")

	// The majority component keeps serving writes. peer-B is not the view
	// coordinator, so it cannot propose directly (see
	// pkg/coordinator.TestNonCoordinatorPeerDeclinesWrites) - this fixture's
	// single BFT view never elected a new coordinator out of peer-A, so the
	// "majority keeps committing" half of scenario 4 is exercised by reads
	// on b/cc of state peer-A already committed before the split, which must
	// still be visible once the minority heals rather than having been lost.
	doc, err := b.GetDocument(ctx, "k", "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), doc.Payload)

	// Heal: restore full connectivity. The detector's dampening window only
	// starts counting from the moment a link's reported state *changes*
	// (DampeningWindow=10s in this fixture), so reconnection must be
	// reported repeatedly with an advancing timestamp - a single report
	// records the state change but never crosses the window on its own.
	reportHealed := func() {
		now := time.Now()
		a.ReportLink("peer-A", partition.LinkStatus{Peer: "peer-B", State: partition.LinkConnected, LastSeen: now})
		a.ReportLink("peer-A", partition.LinkStatus{Peer: "peer-C", State: partition.LinkConnected, LastSeen: now})
		b.ReportLink("peer-B", partition.LinkStatus{Peer: "peer-A", State: partition.LinkConnected, LastSeen: now})
		b.ReportLink("peer-B", partition.LinkStatus{Peer: "peer-C", State: partition.LinkConnected, LastSeen: now})
		cc.ReportLink("peer-C", partition.LinkStatus{Peer: "peer-A", State: partition.LinkConnected, LastSeen: now})
		cc.ReportLink("peer-C", partition.LinkStatus{Peer: "peer-B", State: partition.LinkConnected, LastSeen: now})
	}
	reportHealed()

	require.Eventually(t, func() bool {
		reportHealed()
		_, err := a.PutDocument(ctx, "k", "doc2", []byte("world"))
		return err == nil
	}, 15*time.Second, 50*time.Millisecond, "peer-A must become writable again once the graph heals past the dampening window")

	require.Eventually(t, func() bool {
		for _, peer := range coordinators {
			got, err := peer.GetDocument(ctx, "k", "doc2")
			if err != nil || string(got.Payload) != "world" {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond, "all peers converge on doc2 after heal")
}
