package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotTierPutGetRoundTrip(t *testing.T) {
	h := NewHotTier(0, 0)
	require.NoError(t, h.Put("shard1", "doc1", []byte("hello")))

	data, found, err := h.Get("shard1", "doc1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), data)
}

func TestHotTierMissReturnsNotFound(t *testing.T) {
	h := NewHotTier(0, 0)
	_, found, err := h.Get("shard1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHotTierEvictsUnderByteBudget(t *testing.T) {
	h := NewHotTier(10, 0)
	require.NoError(t, h.Put("s", "a", []byte("12345")))
	require.NoError(t, h.Put("s", "b", []byte("12345")))
	require.NoError(t, h.Put("s", "c", []byte("12345")))

	stats := h.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(10))

	_, found, _ := h.Get("s", "a")
	assert.False(t, found, "oldest entry should have been evicted")
}

func TestHotTierExpiresAfterTTL(t *testing.T) {
	h := NewHotTier(0, 10*time.Millisecond)
	require.NoError(t, h.Put("s", "a", []byte("v")))
	time.Sleep(25 * time.Millisecond)

	_, found, err := h.Get("s", "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHotTierDelete(t *testing.T) {
	h := NewHotTier(0, 0)
	require.NoError(t, h.Put("s", "a", []byte("v")))
	require.NoError(t, h.Delete("s", "a"))

	_, found, _ := h.Get("s", "a")
	assert.False(t, found)
}

func TestHotTierListUnsupported(t *testing.T) {
	h := NewHotTier(0, 0)
	_, err := h.List("s", 10, 0)
	require.Error(t, err)
}
