package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataIndexPutGet(t *testing.T) {
	idx := NewMetadataIndex()
	idx.Put(Metadata{Collection: "users", DocID: "u1", Version: 1, UpdatedAt: time.Now()})

	meta, ok := idx.Get("users", "u1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), meta.Version)
}

func TestMetadataIndexListIsSortedAndPaginated(t *testing.T) {
	idx := NewMetadataIndex()
	for _, id := range []string{"c", "a", "b"} {
		idx.Put(Metadata{Collection: "users", DocID: id})
	}

	ids, err := idx.List("users", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	page, err := idx.List("users", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, page)
}

func TestMetadataIndexListExcludesTombstones(t *testing.T) {
	idx := NewMetadataIndex()
	idx.Put(Metadata{Collection: "users", DocID: "u1"})
	idx.Put(Metadata{Collection: "users", DocID: "u2", Tombstone: true})

	ids, err := idx.List("users", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestMetadataIndexDeleteRemovesEntry(t *testing.T) {
	idx := NewMetadataIndex()
	idx.Put(Metadata{Collection: "users", DocID: "u1"})
	idx.Delete("users", "u1")

	_, ok := idx.Get("users", "u1")
	assert.False(t, ok)
}

func TestMetadataIndexCountExcludesTombstones(t *testing.T) {
	idx := NewMetadataIndex()
	idx.Put(Metadata{Collection: "users", DocID: "u1"})
	idx.Put(Metadata{Collection: "users", DocID: "u2", Tombstone: true})

	assert.Equal(t, 1, idx.Count("users"))
}
