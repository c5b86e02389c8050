// Package coordinator implements the document-store facade (§4.8): the
// single entry point client requests go through, composing the storage
// engine, the sharding ring, the BFT consensus node, partition detection
// and healing, cross-datacenter replication, and conflict resolution into
// the five document operations (Put/Get/Update/Delete/List) plus Stats.
//
// A write request is shard-resolved, proposed to the local BFT engine,
// disseminated to the rest of the cluster over the transport bus, and -
// once the engine reaches supermajority quorum - applied to local storage
// and durably committed to the raft log. The same Apply path backs the
// consensus engine's direct quorum commit, raft's own FSM replay, and the
// partition healer's replay of entries pulled from a peer that outran a
// minority side; all three call the identical idempotent bridge so a given
// operation is never applied to storage more than once regardless of which
// path delivers it first.
package coordinator
