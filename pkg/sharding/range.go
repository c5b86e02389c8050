package sharding

import "sort"

// RangeRing implements the Range sharding strategy: the key space is split
// into ordered, contiguous ranges, each owned by one physical peer. Unlike
// ConsistentHash, adjacent keys land in the same shard, which favors
// ordered scans over even distribution.
type RangeRing struct {
	boundaries []string // sorted upper-bound keys, exclusive of the next range
	owners     []string // owners[i] owns keys <= boundaries[i] above the previous boundary; keys past the last boundary map to the last owner
}

// NewRangeRing builds a RangeRing from sorted (boundary, owner) pairs.
// The last boundary should be the maximum possible key so every key maps
// to some shard.
func NewRangeRing(boundaries []string, owners []string) *RangeRing {
	return &RangeRing{boundaries: boundaries, owners: owners}
}

// ShardID returns the owner peer id of the range containing key.
func (r *RangeRing) ShardID(key string) string {
	idx := sort.SearchStrings(r.boundaries, key)
	if idx >= len(r.owners) {
		idx = len(r.owners) - 1
	}
	if idx < 0 {
		return ""
	}
	return r.owners[idx]
}
