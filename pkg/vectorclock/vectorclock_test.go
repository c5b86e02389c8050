package vectorclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncrementAndGet(t *testing.T) {
	c := New()
	assert.Equal(t, uint64(1), c.Increment("A"))
	assert.Equal(t, uint64(2), c.Increment("A"))
	assert.Equal(t, uint64(2), c.Get("A"))
	assert.Equal(t, uint64(0), c.Get("B"))
}

func TestCompareBeforeAfterEqual(t *testing.T) {
	a := FromMap(map[string]uint64{"A": 1})
	b := FromMap(map[string]uint64{"A": 2})

	assert.Equal(t, Before, a.Compare(b))
	assert.Equal(t, After, b.Compare(a))
	assert.Equal(t, Equal, a.Compare(a.Clone()))
}

func TestCompareConcurrent(t *testing.T) {
	a := FromMap(map[string]uint64{"A": 1, "B": 0})
	b := FromMap(map[string]uint64{"A": 0, "B": 1})

	assert.Equal(t, Concurrent, a.Compare(b))
	assert.Equal(t, Concurrent, b.Compare(a))
}

func TestMergeIsPointwiseMax(t *testing.T) {
	a := FromMap(map[string]uint64{"A": 1, "B": 5})
	b := FromMap(map[string]uint64{"A": 3, "C": 2})

	a.Merge(b)

	snap := a.Snapshot()
	assert.Equal(t, uint64(3), snap["A"])
	assert.Equal(t, uint64(5), snap["B"])
	assert.Equal(t, uint64(2), snap["C"])
}

func TestDominates(t *testing.T) {
	a := FromMap(map[string]uint64{"A": 2})
	b := FromMap(map[string]uint64{"A": 1})

	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
	assert.True(t, a.Dominates(a.Clone()))
}

func TestStringIsDeterministic(t *testing.T) {
	c := FromMap(map[string]uint64{"B": 2, "A": 1})
	assert.Equal(t, "{A:1,B:2}", c.String())
}

// TestVectorClockCausalityMatchesCommitOrder checks that for two writes
// committed by the same peer, the later write's clock strictly dominates
// the earlier one's.
func TestVectorClockCausalityMatchesCommitOrder(t *testing.T) {
	c := New()
	c.Increment("A") // round 1
	vc1 := c.Clone()
	c.Increment("A") // round 2
	vc2 := c.Clone()

	assert.Equal(t, Before, vc1.Compare(vc2))
}
