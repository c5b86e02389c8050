/*
Package events provides an in-memory event broker for AerolithDB's audit
and observability pub/sub messaging.

The events package implements a lightweight event bus for broadcasting core
events — document mutations, conflict resolutions, partition transitions,
consensus byzantine evidence, tier migrations — to interested subscribers.
It supports fan-out delivery with asynchronous, non-blocking publish,
keeping the core's observability surface decoupled from the core itself:
the coordinator publishes to the broker without knowing who, if anyone, is
listening.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│                    Coordinator                             │
	│                         │                                  │
	│                         │ Publish (non-blocking)            │
	│                         ▼                                  │
	│               Event Channel (buffer: 100)                  │
	│                         │                                  │
	│                 Broadcast Loop                             │
	│                         │                                  │
	│         ┌───────────────┼───────────────┐                  │
	│         ▼               ▼               ▼                  │
	│   Subscriber 1     Subscriber 2     Subscriber N            │
	│   (buffer: 50)     (buffer: 50)     (buffer: 50)            │
	└────────────────────────────────────────────────────────────┘

# Event Types Catalog

Document events:
  - EventDocumentInserted / EventDocumentUpdated / EventDocumentDeleted:
    published by the coordinator once an operation commits, metadata
    includes collection and doc_id, plus source_dc for writes applied via
    cross-datacenter replication.
  - EventConflictResolved: published by the coordinator once concurrent
    siblings are reconciled (intra-cluster or cross-datacenter); metadata
    includes collection, doc_id and the winning peer/datacenter id
    ("winner").

Consensus events:
  - EventPeerQuarantined: a peer was quarantined for suspected equivocation
    (§4.5 Byzantine defenses).
  - EventViewChanged: the BFT engine advanced to a new coordinator view.

Partition events:
  - EventPartitionDetected / EventPartitionHealed: a connectivity split was
    declared or healed.

Storage events:
  - EventTierMigrated: a document moved tiers (Warm->Cold, Cold->Archive).
  - EventTierCorruption: a checksum mismatch triggered tier repair.

The consensus, partition and storage event types above are defined here,
but no package in this module publishes them.

Cross-datacenter events:
  - EventReplicationDegraded: published by the coordinator when
    Controller.Replicate returns an error for a committed write.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventConflictResolved:
				log.Info().Str("winner", event.Metadata["winner"]).Msg("conflict resolved")
			case events.EventPartitionDetected:
				alertOperator(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventDocumentInserted,
		Message: "users/u1 inserted at version 1",
		Metadata: map[string]string{"collection": "users", "doc_id": "u1", "version": "1"},
	})

# Delivery semantics

Publish is non-blocking and delivery is best-effort: a full subscriber
buffer skips that subscriber rather than applying backpressure to the
publisher, the same trade-off the teacher's event bus makes (throughput
over guaranteed delivery). This is acceptable here because durability
for the events this core actually depends on — the committed log, the
metadata index, the dead-letter queue — comes from their own dedicated
stores, not from this bus; this broker only carries observability signal.

# See Also

  - pkg/coordinator for the document operations that publish these events
  - pkg/partition for partition detection/heal events
  - pkg/dcreplication for cross-datacenter degradation events
*/
package events
