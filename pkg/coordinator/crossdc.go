package coordinator

import (
	"context"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/dcreplication"
	"github.com/cuemby/aerolithdb/pkg/events"
	"github.com/cuemby/aerolithdb/pkg/resolver"
	"github.com/cuemby/aerolithdb/pkg/vectorclock"
)

// ReceiveBatch implements transport.DatacenterSink: the receiving half of
// §4.7 cross-datacenter replication the sending Controller.Replicate only
// pushes a batch into. It verifies the batch's collective checksum, then
// applies every request in order - per-datacenter FIFO queues on the
// sending side already guarantee causal order within one source DC, so
// in-order application here is sufficient without re-deriving a global
// order across sources.
func (c *Coordinator) ReceiveBatch(ctx context.Context, batch dcreplication.Batch) error {
	if !dcreplication.VerifyBatch(batch) {
		return aerolitherrors.Corruption("replication batch for %s failed checksum verification", batch.TargetDC)
	}
	for _, req := range batch.Requests {
		if err := c.applyReplicatedRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// applyReplicatedRequest merges one cross-datacenter replicated write into
// local storage. Unlike applyWrite's intra-cluster path - where only the
// view coordinator ever proposes, so Round gives a total order - a remote
// datacenter's writes arrive with no relationship to this datacenter's own
// commit order, so the document's vector clock, not a version number, is
// what decides whether the incoming write supersedes, is superseded by, or
// conflicts with the local copy (§4.4, §4.7).
func (c *Coordinator) applyReplicatedRequest(ctx context.Context, req dcreplication.Request) error {
	if req.Metadata.OpType == dcreplication.OpDelete {
		if err := c.storage.Delete(ctx, req.Collection, req.DocID); err != nil && aerolitherrors.KindOf(err) != aerolitherrors.KindNotFound {
			return err
		}
		c.broker.Publish(&events.Event{
			Type:    events.EventDocumentDeleted,
			Message: "document tombstoned via cross-datacenter replication",
			Metadata: map[string]string{"collection": req.Collection, "doc_id": req.DocID, "source_dc": req.SourceDC},
		})
		return nil
	}

	shardID := c.ring.ShardID(req.Collection, req.DocID)
	replicaSet, rerr := c.ring.ReplicaSet(req.Collection, req.DocID, c.cfg.ReplicationFactor)
	if rerr != nil {
		c.log.Warn().Err(rerr).Str("collection", req.Collection).Str("doc", req.DocID).Msg("replica set under-provisioned")
	}

	incoming := vectorclock.FromMap(req.Metadata.VectorClock)

	existingPayload, existingMeta, getErr := c.storage.Get(ctx, req.Collection, req.DocID)
	hadExisting := getErr == nil
	if hadExisting && c.secret != nil {
		decrypted, err := c.secret.DecryptSecret(existingPayload)
		if err != nil {
			return aerolitherrors.Corruption("decrypt existing %s/%s: %v", req.Collection, req.DocID, err)
		}
		existingPayload = decrypted
	}

	payload := req.Bytes
	clock := incoming
	winner := req.SourceDC

	if hadExisting {
		switch existingMeta.Clock.Compare(incoming) {
		case vectorclock.After, vectorclock.Equal:
			// The local copy already causally dominates (or matches) the
			// incoming write; nothing to apply. This is the normal outcome
			// of a replayed or duplicate batch delivery.
			return nil
		case vectorclock.Before:
			clock = existingMeta.Clock.Clone()
			clock.Merge(incoming)
		default: // Concurrent: genuinely conflicting writes from two datacenters.
			siblings := []resolver.Sibling{
				{PeerID: c.cfg.DCReplication.LocalDatacenterID, Timestamp: existingMeta.UpdatedAt.UnixNano(), Payload: existingPayload, Clock: existingMeta.Clock},
				{PeerID: req.SourceDC, Timestamp: req.Metadata.Timestamp, Payload: req.Bytes, Clock: incoming},
			}
			resolved, err := c.dc.ResolveConflict(req.Mode, siblings, c.cfg.Merger)
			if err != nil {
				return err
			}
			payload = resolved.Payload
			clock = resolved.Clock
			winner = resolved.WinnerPeerID

			c.broker.Publish(&events.Event{
				Type:    events.EventConflictResolved,
				Message: "cross-datacenter conflict reconciled",
				Metadata: map[string]string{"collection": req.Collection, "doc_id": req.DocID, "winner": winner},
			})
		}
	}

	stored := payload
	if c.secret != nil {
		encrypted, err := c.secret.EncryptSecret(payload)
		if err != nil {
			return aerolitherrors.Internal("encrypt %s/%s: %v", req.Collection, req.DocID, err)
		}
		stored = encrypted
	}
	if err := c.storage.Put(ctx, req.Collection, req.DocID, shardID, replicaSet, clock, stored); err != nil {
		return err
	}

	c.broker.Publish(&events.Event{
		Type:    events.EventDocumentUpdated,
		Message: "document applied via cross-datacenter replication",
		Metadata: map[string]string{"collection": req.Collection, "doc_id": req.DocID, "source_dc": req.SourceDC},
	})
	return nil
}
