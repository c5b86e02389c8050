// Package dcreplication implements the cross-datacenter replication
// controller (§4.7): per-datacenter FIFO queues, Synchronous/Asynchronous/
// Hybrid propagation modes, cross-DC conflict resolution, lag monitoring,
// and a dead-letter queue for exhausted retries.
package dcreplication

import (
	"context"
	"time"

	"github.com/cuemby/aerolithdb/pkg/vectorclock"
)

// Mode selects how a write is propagated to remote datacenters.
type Mode string

const (
	// Sync acknowledges the local caller only after at least K remote DCs
	// acknowledge the batch carrying the write.
	Sync Mode = "sync"
	// Async enqueues the write and flushes at a batch boundary or when
	// MaxDelay elapses, whichever comes first.
	Async Mode = "async"
	// Hybrid is Async for ordinary writes with a per-operation override
	// that promotes a single write to Sync.
	Hybrid Mode = "hybrid"
)

// OpType names the kind of mutation a replication request carries, mirrors
// consensus.OperationKind without this package importing consensus (the
// controller sits downstream of the committed log, not inside it).
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// RequestMetadata is the bookkeeping envelope carried alongside every
// replicated document's bytes (§4.7 replication request payload).
type RequestMetadata struct {
	Timestamp   int64
	Version     uint64
	VectorClock map[string]uint64
	OpType      OpType
	Checksum    uint64
}

// Request is one document's replication payload bound for a single remote
// datacenter.
type Request struct {
	SourceDC   string
	TargetDC   string
	Collection string
	DocID      string
	Bytes      []byte
	Metadata   RequestMetadata
	Mode       Mode
}

func (r Request) clock() *vectorclock.Clock {
	return vectorclock.FromMap(r.Metadata.VectorClock)
}

// Batch is a collective unit of replication: up to BatchSize requests sent
// to one datacenter together, verified as a unit by the receiver.
type Batch struct {
	TargetDC string
	Requests []Request
	Checksum uint64
}

// RemoteDC is the transport this controller uses to ship a batch to a
// remote datacenter and learn whether it was durably applied there. The
// concrete implementation (gRPC, or an in-process bus for tests) lives
// outside this package, matching the core's network-layer-as-interface
// design (§1).
type RemoteDC interface {
	SendBatch(ctx context.Context, dc string, batch Batch) error
}

// ConflictStrategy names a cross-DC conflict resolution strategy (§4.7).
type ConflictStrategy string

const (
	StrategyLastWriterWins    ConflictStrategy = "last_writer_wins"
	StrategyDatacenterPriority ConflictStrategy = "datacenter_priority"
	StrategyVectorClock       ConflictStrategy = "vector_clock"
	StrategyCustom            ConflictStrategy = "custom"
)

// defaultStrategyFor returns the mode-appropriate default strategy per
// §4.7: vector-clock for Synchronous, LWW for Asynchronous, datacenter
// priority for Hybrid.
func defaultStrategyFor(mode Mode) ConflictStrategy {
	switch mode {
	case Sync:
		return StrategyVectorClock
	case Async:
		return StrategyLastWriterWins
	default:
		return StrategyDatacenterPriority
	}
}

// Health is the lag/availability state of one remote datacenter connection.
type Health struct {
	Datacenter   string
	LastAck      time.Time
	Lag          time.Duration
	Healthy      bool
	Degraded     bool
	QueueDepth   int
	DeadLettered int64
}
