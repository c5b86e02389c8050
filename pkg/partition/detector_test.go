package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorNoPartitionWhenAllConnected(t *testing.T) {
	d := NewDetector(Config{SelfID: "a", HeartbeatInterval: 10 * time.Millisecond}, []string{"b", "c"})

	now := time.Now()
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkConnected, LastSeen: now})
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkConnected, LastSeen: now})
	d.ReportLink("b", LinkStatus{Peer: "c", State: LinkConnected, LastSeen: now})

	snap := d.Evaluate()
	assert.False(t, snap.Partitioned)
	require.Len(t, snap.Partitions, 1)
	assert.True(t, snap.Partitions[0].Writable)
}

func TestDetectorDeclaresPartitionAfterDampeningWindow(t *testing.T) {
	window := 20 * time.Millisecond
	d := NewDetector(Config{SelfID: "a", DampeningWindow: window}, []string{"b", "c"})

	t0 := time.Now()
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkConnected, LastSeen: t0})
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkDisconnected, LastSeen: t0})

	// LinkDisconnected is the first observation of a->c, so it is declared
	// immediately and c is already split off. The flap below exercises the
	// dampening window.
	snap := d.Evaluate()
	assert.True(t, snap.Partitioned)

	// c reconnects immediately, well inside the window: should not flip
	// back to declared-connected yet.
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkConnected, LastSeen: t0.Add(5 * time.Millisecond)})
	snap = d.Evaluate()
	assert.True(t, snap.Partitioned, "brief flap within dampening window should not heal the partition")

	// Now past the window, still connected: should declare healed.
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkConnected, LastSeen: t0.Add(30 * time.Millisecond)})
	snap = d.Evaluate()
	assert.False(t, snap.Partitioned)
}

func TestDetectorMajorityPartitionOnly(t *testing.T) {
	d := NewDetector(Config{SelfID: "a", DampeningWindow: time.Millisecond}, []string{"b", "c", "d", "e"})
	now := time.Now().Add(-time.Second)

	// a,b,c form a majority (3 of 5); d,e are isolated together.
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkConnected, LastSeen: now})
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkConnected, LastSeen: now})
	d.ReportLink("b", LinkStatus{Peer: "c", State: LinkConnected, LastSeen: now})
	d.ReportLink("d", LinkStatus{Peer: "e", State: LinkConnected, LastSeen: now})
	d.ReportLink("a", LinkStatus{Peer: "d", State: LinkDisconnected, LastSeen: now})

	snap := d.Evaluate()
	require.True(t, snap.Partitioned)
	require.Len(t, snap.Partitions, 2)

	for _, p := range snap.Partitions {
		if len(p.Peers) == 3 {
			assert.True(t, p.Majority)
			assert.True(t, p.Writable)
			assert.Equal(t, StrategyMajorityPartitionOnly, p.Strategy)
		} else {
			assert.False(t, p.Writable)
			assert.Equal(t, StrategyMajorityPartitionOnly, p.Strategy)
		}
	}
}

func TestDetectorManualInterventionWhenNoQuorum(t *testing.T) {
	// Three equal singleton components out of 3 nodes: nobody has a
	// majority or quorum, so every component is read-only.
	d := NewDetector(Config{SelfID: "a", DampeningWindow: time.Millisecond}, []string{"b", "c"})
	now := time.Now().Add(-time.Second)
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkDisconnected, LastSeen: now})
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkDisconnected, LastSeen: now})
	d.ReportLink("b", LinkStatus{Peer: "c", State: LinkDisconnected, LastSeen: now})

	snap := d.Evaluate()
	require.True(t, snap.Partitioned)
	require.Len(t, snap.Partitions, 3)
	for _, p := range snap.Partitions {
		assert.False(t, p.Writable)
		assert.Equal(t, StrategyManualIntervention, p.Strategy)
	}
}

func TestDetectorOnRecoverCallback(t *testing.T) {
	var healed bool
	d := NewDetector(Config{
		SelfID:          "a",
		DampeningWindow: time.Millisecond,
		OnRecover:       func(Snapshot) { healed = true },
	}, []string{"b"})

	now := time.Now().Add(-time.Second)
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkDisconnected, LastSeen: now})
	d.Evaluate()
	assert.False(t, healed)

	// The reconnect must persist past the dampening window to be declared.
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkConnected, LastSeen: now})
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkConnected, LastSeen: time.Now()})
	d.Evaluate()
	assert.True(t, healed)
}

func TestComponentOf(t *testing.T) {
	d := NewDetector(Config{SelfID: "a", DampeningWindow: time.Millisecond}, []string{"b", "c"})
	now := time.Now().Add(-time.Second)
	d.ReportLink("a", LinkStatus{Peer: "b", State: LinkConnected, LastSeen: now})
	d.ReportLink("a", LinkStatus{Peer: "c", State: LinkDisconnected, LastSeen: now})
	d.Evaluate()

	comp, ok := d.ComponentOf("b")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, comp)

	comp, ok = d.ComponentOf("c")
	require.True(t, ok)
	assert.Equal(t, []string{"c"}, comp)
}
