package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltTier(t *testing.T) *BoltTier {
	t.Helper()
	tier, err := NewBoltTier(TierWarm, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { tier.Close() })
	return tier
}

func TestBoltTierPutGetRoundTrip(t *testing.T) {
	tier := newTestBoltTier(t)
	require.NoError(t, tier.Put("shard1", "doc1", []byte("hello")))

	data, found, err := tier.Get("shard1", "doc1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)
}

func TestBoltTierGetMissing(t *testing.T) {
	tier := newTestBoltTier(t)
	_, found, err := tier.Get("shard1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltTierDelete(t *testing.T) {
	tier := newTestBoltTier(t)
	require.NoError(t, tier.Put("shard1", "doc1", []byte("hello")))
	require.NoError(t, tier.Delete("shard1", "doc1"))

	_, found, err := tier.Get("shard1", "doc1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltTierListByPrefix(t *testing.T) {
	tier := newTestBoltTier(t)
	require.NoError(t, tier.Put("shardA", "doc1", []byte("a")))
	require.NoError(t, tier.Put("shardA", "doc2", []byte("b")))
	require.NoError(t, tier.Put("shardB", "doc1", []byte("c")))

	ids, err := tier.List("shardA\x00", 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, ids)
}

func TestBoltTierListRespectsLimitAndOffset(t *testing.T) {
	tier := newTestBoltTier(t)
	for _, id := range []string{"doc1", "doc2", "doc3"} {
		require.NoError(t, tier.Put("shardA", id, []byte("x")))
	}

	ids, err := tier.List("shardA\x00", 1, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestBoltTierStatsReflectsPuts(t *testing.T) {
	tier := newTestBoltTier(t)
	require.NoError(t, tier.Put("shardA", "doc1", []byte("12345")))

	stats := tier.Stats()
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(5), stats.Bytes)
}

func TestBoltTierPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	tier, err := NewBoltTier(TierWarm, dir)
	require.NoError(t, err)
	require.NoError(t, tier.Put("shardA", "doc1", []byte("persisted")))
	require.NoError(t, tier.Close())

	reopened, err := NewBoltTier(TierWarm, dir)
	require.NoError(t, err)
	defer reopened.Close()

	data, found, err := reopened.Get("shardA", "doc1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("persisted"), data)
}
