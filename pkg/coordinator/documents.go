package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/codec"
	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/dcreplication"
	"github.com/cuemby/aerolithdb/pkg/events"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/partition"
	"github.com/cuemby/aerolithdb/pkg/resolver"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/cuemby/aerolithdb/pkg/vectorclock"
)

// PutDocument inserts a new document, proposing it through the BFT engine
// and waiting for cluster-wide commit before returning.
func (c *Coordinator) PutDocument(ctx context.Context, collection, docID string, payload []byte) (storage.Metadata, error) {
	return c.write(ctx, consensus.OpInsert, collection, docID, payload, 0)
}

// UpdateDocument replaces an existing document's payload, proposing the
// change under an expected version for optimistic concurrency. A
// concurrent writer racing this one is not an error: the two writes are
// reconciled by the conflict resolver (§4.4) once both commit.
func (c *Coordinator) UpdateDocument(ctx context.Context, collection, docID string, payload []byte, expectedVersion uint64) (storage.Metadata, error) {
	return c.write(ctx, consensus.OpUpdate, collection, docID, payload, expectedVersion)
}

func (c *Coordinator) write(ctx context.Context, kind consensus.OperationKind, collection, docID string, payload []byte, version uint64) (storage.Metadata, error) {
	if !c.writable() {
		return storage.Metadata{}, aerolitherrors.PartitionReadOnly("this peer's partition component is not writable")
	}
	if c.cfg.MaxDocumentSize > 0 && int64(len(payload)) > c.cfg.MaxDocumentSize {
		return storage.Metadata{}, aerolitherrors.TooLarge("document %d bytes exceeds max_document_size %d", len(payload), c.cfg.MaxDocumentSize)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DocumentOpDuration, string(kind))

	op := consensus.Operation{Kind: kind, Collection: collection, DocID: docID, Payload: payload, Version: version}
	if _, err := c.proposeAndWait(ctx, op); err != nil {
		metrics.DocumentOpsTotal.WithLabelValues(string(kind), "error").Inc()
		return storage.Metadata{}, err
	}
	metrics.DocumentOpsTotal.WithLabelValues(string(kind), "ok").Inc()

	_, meta, err := c.storage.Get(ctx, collection, docID)
	return meta, err
}

// GetDocument reads a document's current payload and metadata directly from
// local storage; reads are never proposed through consensus (§4.8).
func (c *Coordinator) GetDocument(ctx context.Context, collection, docID string) (Document, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DocumentOpDuration, "get")

	payload, meta, err := c.storage.Get(ctx, collection, docID)
	if err != nil {
		metrics.DocumentOpsTotal.WithLabelValues("get", "error").Inc()
		return Document{}, err
	}
	if c.secret != nil {
		payload, err = c.secret.DecryptSecret(payload)
		if err != nil {
			metrics.DocumentOpsTotal.WithLabelValues("get", "error").Inc()
			return Document{}, aerolitherrors.Corruption("decrypt %s/%s: %v", collection, docID, err)
		}
	}
	metrics.DocumentOpsTotal.WithLabelValues("get", "ok").Inc()
	return Document{Payload: payload, Meta: meta}, nil
}

// DeleteDocument tombstones a document, proposing the deletion through the
// BFT engine the same way a write is proposed.
func (c *Coordinator) DeleteDocument(ctx context.Context, collection, docID string) error {
	if !c.writable() {
		return aerolitherrors.PartitionReadOnly("this peer's partition component is not writable")
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DocumentOpDuration, "delete")

	op := consensus.Operation{Kind: consensus.OpDelete, Collection: collection, DocID: docID}
	if _, err := c.proposeAndWait(ctx, op); err != nil {
		metrics.DocumentOpsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.DocumentOpsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// ListDocuments enumerates up to limit document ids in collection, starting
// at offset, straight from the metadata index.
func (c *Coordinator) ListDocuments(ctx context.Context, collection string, limit, offset int) ([]string, error) {
	return c.storage.List(ctx, collection, limit, offset)
}

// proposeAndWait submits op to the local BFT engine, disseminates it to the
// rest of the cluster, and blocks until the proposal reaches a terminal
// state or ProposalTimeout elapses. Only the current view's coordinator may
// propose (§4.5 validation-on-receive); a non-coordinator peer is told to
// retry rather than silently failing.
func (c *Coordinator) proposeAndWait(ctx context.Context, op consensus.Operation) (consensus.Proposal, error) {
	// Held for the entire propose-through-commit cycle below so that two
	// concurrently issued writes on this coordinator can never have their
	// rounds reach Apply out of order (see proposeMu's doc comment).
	c.proposeMu.Lock()
	defer c.proposeMu.Unlock()

	engine := c.node.Engine
	if !engine.IsCoordinator() {
		return consensus.Proposal{}, aerolitherrors.Unavailable("this peer is not the current view coordinator; retry the request")
	}

	p, err := engine.Propose(op)
	if err != nil {
		return p, err
	}
	c.bus.BroadcastProposal(c.peerID, p)

	ctx, cancel := context.WithTimeout(ctx, consensus.ProposalTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		state, ok := engine.ProposalStateOf(p.ID)
		if ok {
			switch state {
			case consensus.StateCommitted:
				op.Round = p.Round
				op.Proposer = p.Proposer
				if err := c.node.Commit(op); err != nil {
					c.log.Warn().Err(err).Str("proposal", p.ID).Msg("raft durability commit failed; consensus quorum already applied locally")
				}
				return p, nil
			case consensus.StateAborted:
				return p, aerolitherrors.Conflict("proposal %s was aborted by quorum vote", p.ID)
			case consensus.StateTimedOut:
				return p, aerolitherrors.Timeout("proposal %s timed out waiting for quorum", p.ID)
			}
		}

		select {
		case <-ctx.Done():
			return p, aerolitherrors.Timeout("proposal %s did not reach quorum before the deadline", p.ID)
		case <-ticker.C:
		}
	}
}

// Apply executes a committed Operation against local storage. It implements
// consensus.Applier and is the single idempotent bridge every commit path -
// the BFT engine's own quorum commit, raft's FSM replay, and the partition
// healer's replay of pulled entries - funnels through (doc.go). Operations
// are keyed by Round, which is globally monotonic because only the current
// view's coordinator may propose.
func (c *Coordinator) Apply(op consensus.Operation) error {
	c.logMu.Lock()
	if op.Round != 0 && len(c.committedLog) > 0 && op.Round <= c.committedLog[len(c.committedLog)-1].Round {
		c.logMu.Unlock()
		return nil // already applied via a different path
	}
	c.logMu.Unlock()

	ctx := context.Background()
	var err error
	switch op.Kind {
	case consensus.OpInsert, consensus.OpUpdate:
		err = c.applyWrite(ctx, op)
	case consensus.OpDelete:
		err = c.applyDelete(ctx, op)
	case consensus.OpCreateCollection, consensus.OpDropCollection:
		// Collections are implicit in this document store: a collection
		// exists the moment its first document is written and disappears
		// once its last document is gone, so these kinds need no storage
		// action. They still advance the committed log, as any other op.
	default:
		err = aerolitherrors.Internal("unknown operation kind %q", op.Kind)
	}
	if err != nil {
		return err
	}

	payload, merr := json.Marshal(op)
	if merr != nil {
		return merr
	}
	c.logMu.Lock()
	c.committedLog = append(c.committedLog, partition.CommittedEntry{Round: op.Round, Payload: payload})
	c.logMu.Unlock()
	return nil
}

// applyWrite detects concurrent siblings against the document's current
// version and, when the incoming write is not a direct successor of the
// version it was proposed against, resolves the conflict (§4.4) instead of
// blindly overwriting.
func (c *Coordinator) applyWrite(ctx context.Context, op consensus.Operation) error {
	shardID := c.ring.ShardID(op.Collection, op.DocID)
	replicaSet, rerr := c.ring.ReplicaSet(op.Collection, op.DocID, c.cfg.ReplicationFactor)
	if rerr != nil {
		c.log.Warn().Err(rerr).Str("collection", op.Collection).Str("doc", op.DocID).Msg("replica set under-provisioned")
	}

	existingPayload, existingMeta, getErr := c.storage.Get(ctx, op.Collection, op.DocID)
	hadExisting := getErr == nil
	if hadExisting && c.secret != nil {
		decrypted, err := c.secret.DecryptSecret(existingPayload)
		if err != nil {
			return aerolitherrors.Corruption("decrypt existing %s/%s: %v", op.Collection, op.DocID, err)
		}
		existingPayload = decrypted
	}

	payload := op.Payload
	clock := vectorclock.New()
	if hadExisting {
		clock = existingMeta.Clock.Clone()
	}
	concurrent := op.Kind == consensus.OpUpdate && hadExisting && op.Version != 0 && op.Version != existingMeta.Version

	if concurrent {
		siblings := []resolver.Sibling{
			{PeerID: c.peerID, Priority: c.cfg.ConflictPriorities[c.peerID], Timestamp: existingMeta.UpdatedAt.UnixNano(), Payload: existingPayload, Clock: existingMeta.Clock},
			{PeerID: op.Proposer, Priority: c.cfg.ConflictPriorities[op.Proposer], Timestamp: time.Now().UnixNano(), Payload: op.Payload, Clock: existingMeta.Clock},
		}
		resolved, err := c.resolver.Resolve(siblings)
		if err != nil {
			return err
		}
		payload = resolved.Payload
		clock = resolved.Clock

		c.broker.Publish(&events.Event{
			Type:    events.EventConflictResolved,
			Message: "concurrent writers reconciled",
			Metadata: map[string]string{
				"collection": op.Collection,
				"doc_id":     op.DocID,
				"winner":     resolved.WinnerPeerID,
			},
		})
		metrics.ConflictsResolvedTotal.WithLabelValues(string(c.cfg.ConflictStrategy)).Inc()
	}

	stored := payload
	if c.secret != nil {
		encrypted, err := c.secret.EncryptSecret(payload)
		if err != nil {
			return aerolitherrors.Internal("encrypt %s/%s: %v", op.Collection, op.DocID, err)
		}
		stored = encrypted
	}
	if err := c.storage.Put(ctx, op.Collection, op.DocID, shardID, replicaSet, clock, stored); err != nil {
		return err
	}

	eventType := events.EventDocumentUpdated
	if op.Kind == consensus.OpInsert && !hadExisting {
		eventType = events.EventDocumentInserted
	}
	c.broker.Publish(&events.Event{
		Type:    eventType,
		Message: "document committed",
		Metadata: map[string]string{"collection": op.Collection, "doc_id": op.DocID},
	})

	c.replicateAcrossDatacenters(ctx, op, payload, clock)
	return nil
}

// applyDelete tombstones a document. A delete for a document already
// deleted (or never seen, on a peer replaying a heal log out of order) is
// not an error: deletion is idempotent by nature.
func (c *Coordinator) applyDelete(ctx context.Context, op consensus.Operation) error {
	if err := c.storage.Delete(ctx, op.Collection, op.DocID); err != nil && aerolitherrors.KindOf(err) != aerolitherrors.KindNotFound {
		return err
	}
	c.broker.Publish(&events.Event{
		Type:    events.EventDocumentDeleted,
		Message: "document tombstoned",
		Metadata: map[string]string{"collection": op.Collection, "doc_id": op.DocID},
	})
	c.replicateAcrossDatacenters(ctx, op, nil, nil)
	return nil
}

// replicateAcrossDatacenters fans a locally-applied op out to every
// configured remote datacenter (§4.7). This runs best-effort and after the
// local apply already succeeded: cross-DC replication health never blocks a
// local write, only the observability surface reflects degraded lag. clock
// is the document's post-commit vector clock (nil for a delete), carried in
// the replication request so the receiving datacenter can merge causal
// history instead of treating every remote write as concurrent.
func (c *Coordinator) replicateAcrossDatacenters(ctx context.Context, op consensus.Operation, payload []byte, clock *vectorclock.Clock) {
	if c.dc == nil {
		return
	}
	var opType dcreplication.OpType
	switch op.Kind {
	case consensus.OpInsert:
		opType = dcreplication.OpInsert
	case consensus.OpUpdate:
		opType = dcreplication.OpUpdate
	case consensus.OpDelete:
		opType = dcreplication.OpDelete
	default:
		return
	}

	var vc map[string]uint64
	if clock != nil {
		vc = clock.Snapshot()
	}

	req := dcreplication.Request{
		SourceDC:   c.cfg.DCReplication.LocalDatacenterID,
		Collection: op.Collection,
		DocID:      op.DocID,
		Bytes:      payload,
		Metadata: dcreplication.RequestMetadata{
			Timestamp:   time.Now().UnixNano(),
			Version:     op.Version,
			VectorClock: vc,
			OpType:      opType,
			Checksum:    codec.Checksum(payload),
		},
	}
	if err := c.dc.Replicate(ctx, req, false); err != nil {
		c.log.Warn().Err(err).Str("collection", op.Collection).Str("doc", op.DocID).Msg("cross-datacenter replication did not complete")
		c.broker.Publish(&events.Event{Type: events.EventReplicationDegraded, Message: "cross-datacenter replication lagging or failed"})
	}
}

// replayPayload decodes and applies one committed entry pulled from a peer
// during a partition heal (partition.Healer's apply callback). It shares
// Apply's idempotent Round check, so replaying an entry this peer already
// has is a no-op.
func (c *Coordinator) replayPayload(payload []byte) error {
	var op consensus.Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return err
	}
	return c.Apply(op)
}

// LastCommittedRound reports the highest Round this peer has applied,
// implementing the healEndpoint and HealPeer-facing surface the transport
// bus needs to answer a peer's catch-up query.
func (c *Coordinator) LastCommittedRound() uint64 {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.committedLog) == 0 {
		return 0
	}
	return c.committedLog[len(c.committedLog)-1].Round
}

// EntriesSince returns every committed entry with Round > round, in commit
// order, for a peer pulling catch-up state during a heal.
func (c *Coordinator) EntriesSince(round uint64) []partition.CommittedEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	var out []partition.CommittedEntry
	for _, e := range c.committedLog {
		if e.Round > round {
			out = append(out, e)
		}
	}
	return out
}
