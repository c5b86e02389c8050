package dcreplication

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/aerolithdb/pkg/metrics"
)

// dcQueue is one remote datacenter's FIFO outbound queue. Requests
// accumulate until either BatchSize is reached or MaxDelay elapses since
// the oldest pending request, whichever comes first, then are flushed as a
// single Batch (§4.7 Queue & batching).
type dcQueue struct {
	mu       sync.Mutex
	dc       string
	batchSize int
	maxDelay time.Duration

	pending   []Request
	oldestAt  time.Time
	notify    chan struct{}
}

func newDCQueue(dc string, batchSize int, maxDelay time.Duration) *dcQueue {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &dcQueue{
		dc:        dc,
		batchSize: batchSize,
		maxDelay:  maxDelay,
		notify:    make(chan struct{}, 1),
	}
}

// enqueue appends req to the tail of the queue, records the MaxDelay start
// time if this is the queue's first pending request, and signals the
// flusher once the batch reaches BatchSize.
func (q *dcQueue) enqueue(req Request) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.oldestAt = time.Now()
	}
	q.pending = append(q.pending, req)
	ready := len(q.pending) >= q.batchSize
	q.mu.Unlock()

	metrics.DCReplicationQueueDepth.WithLabelValues(q.dc).Set(float64(q.depth()))

	if ready {
		q.signal()
	}
}

func (q *dcQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *dcQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// drain removes and returns up to BatchSize pending requests, building
// their collective checksum, or nil if the queue is empty.
func (q *dcQueue) drain() *Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	n := len(q.pending)
	if n > q.batchSize {
		n = q.batchSize
	}
	reqs := q.pending[:n]
	q.pending = append([]Request(nil), q.pending[n:]...)
	if len(q.pending) > 0 {
		q.oldestAt = time.Now()
	}

	batch := &Batch{TargetDC: q.dc, Requests: reqs, Checksum: batchChecksum(reqs)}
	metrics.DCReplicationQueueDepth.WithLabelValues(q.dc).Set(float64(len(q.pending)))
	return batch
}

// dueForFlush reports whether MaxDelay has elapsed since the oldest
// currently-pending request was enqueued (Async mode's bounded-staleness
// trigger).
func (q *dcQueue) dueForFlush() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return false
	}
	return q.maxDelay > 0 && time.Since(q.oldestAt) >= q.maxDelay
}

// batchChecksum folds every request's per-document checksum into one
// collective tag the receiving DC verifies before applying the batch.
func batchChecksum(reqs []Request) uint64 {
	h := xxhash.New()
	for _, r := range reqs {
		var b [8]byte
		put64(b[:], r.Metadata.Checksum)
		h.Write(b[:])
	}
	return h.Sum64()
}

func put64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// VerifyBatch recomputes a batch's collective checksum and reports whether
// it matches, the check a receiving DC performs before applying (§4.7).
func VerifyBatch(b Batch) bool {
	return batchChecksum(b.Requests) == b.Checksum
}
