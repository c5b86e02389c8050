package dcreplication

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/cuemby/aerolithdb/pkg/aerolitherrors"
	"github.com/cuemby/aerolithdb/pkg/log"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/resolver"
)

// RemoteDatacenter names one configured replication target and its
// tie-break priority for the DatacenterPriority conflict strategy.
type RemoteDatacenter struct {
	ID       string
	Priority int
}

// Config configures a Controller.
type Config struct {
	LocalDatacenterID string
	Remotes           []RemoteDatacenter
	DefaultMode       Mode
	ConflictStrategy  ConflictStrategy // "" picks the mode-appropriate default per §4.7
	MaxReplicationLag time.Duration
	RetryAttempts     int
	BatchSize         int
	AsyncMaxDelay     time.Duration
	SyncAckQuorum     int
	DataDir           string
	FlushInterval     time.Duration // cadence the async flusher checks MaxDelay due-ness
}

func (c *Config) setDefaults() {
	if c.MaxReplicationLag <= 0 {
		c.MaxReplicationLag = 5 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.AsyncMaxDelay <= 0 {
		c.AsyncMaxDelay = 500 * time.Millisecond
	}
	if c.SyncAckQuorum <= 0 {
		c.SyncAckQuorum = 1
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
}

// Controller implements the cross-datacenter replication controller
// (§4.7): after a local commit, the coordinator calls Replicate, which
// fans the write out to every configured remote datacenter per the
// configured mode, tracks lag, and dead-letters batches that exhaust their
// retry budget.
type Controller struct {
	cfg       Config
	transport RemoteDC
	log       zerolog.Logger

	queues map[string]*dcQueue
	dlq    *DeadLetterQueue

	mu     sync.Mutex
	health map[string]*Health

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewController constructs a Controller. transport ships batches to remote
// datacenters; its concrete implementation (gRPC client, or an in-process
// bus in tests) lives outside this package.
func NewController(cfg Config, transport RemoteDC) (*Controller, error) {
	cfg.setDefaults()

	dlq, err := NewDeadLetterQueue(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:       cfg,
		transport: transport,
		log:       log.WithComponent("dcreplication").With().Str("local_dc", cfg.LocalDatacenterID).Logger(),
		queues:    make(map[string]*dcQueue),
		dlq:       dlq,
		health:    make(map[string]*Health),
		stopCh:    make(chan struct{}),
	}
	for _, r := range cfg.Remotes {
		c.queues[r.ID] = newDCQueue(r.ID, cfg.BatchSize, cfg.AsyncMaxDelay)
		c.health[r.ID] = &Health{Datacenter: r.ID, LastAck: time.Now(), Healthy: true}
	}
	return c, nil
}

// Start launches the per-DC async flusher and the lag-monitoring loop.
func (c *Controller) Start() {
	c.wg.Add(2)
	go c.flushLoop()
	go c.lagMonitorLoop()
}

// Stop halts background loops and closes the dead-letter store.
func (c *Controller) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.dlq.Close()
}

// Replicate propagates req to every configured remote datacenter according
// to cfg.DefaultMode (or Sync, if critical overrides it for this one
// operation per the Hybrid mode's per-operation promotion). Synchronous
// replication blocks until every remote DC has either acknowledged or
// exhausted its per-DC retry budget, and fails if fewer than SyncAckQuorum
// acknowledged; Asynchronous/Hybrid
// enqueue and return immediately, the per-DC queues flush on their own
// schedule.
func (c *Controller) Replicate(ctx context.Context, req Request, critical bool) error {
	mode := c.cfg.DefaultMode
	if mode == "" {
		mode = Hybrid
	}
	req.Mode = mode

	synchronous := mode == Sync || (mode == Hybrid && critical)
	if synchronous {
		return c.replicateSync(ctx, req)
	}

	for _, dc := range c.cfg.Remotes {
		c.queues[dc.ID].enqueue(req)
	}
	return nil
}

// replicateSync sends req directly (bypassing the async queue) to every
// remote DC concurrently, each retried independently with exponential
// backoff up to RetryAttempts, waits for every send to finish, and returns
// an error if fewer than SyncAckQuorum acknowledged.
func (c *Controller) replicateSync(ctx context.Context, req Request) error {
	if len(c.cfg.Remotes) == 0 {
		return nil
	}

	type outcome struct {
		dc  string
		err error
	}
	results := make(chan outcome, len(c.cfg.Remotes))

	p := pool.New().WithMaxGoroutines(len(c.cfg.Remotes))
	for _, dc := range c.cfg.Remotes {
		dc := dc
		p.Go(func() {
			batch := Batch{TargetDC: dc.ID, Requests: []Request{req}, Checksum: batchChecksum([]Request{req})}
			err := c.sendWithRetry(ctx, dc.ID, batch)
			results <- outcome{dc: dc.ID, err: err}
		})
	}
	p.Wait()
	close(results)

	acked := 0
	var lastErr error
	for r := range results {
		if r.err == nil {
			acked++
		} else {
			lastErr = r.err
		}
	}

	if acked < c.cfg.SyncAckQuorum {
		return aerolitherrors.Wrap(aerolitherrors.KindUnavailable,
			"synchronous cross-datacenter replication did not reach ack quorum", lastErr)
	}
	return nil
}

// sendWithRetry ships batch to dc with exponential backoff up to
// RetryAttempts; after exhaustion the batch is dead-lettered and dc is
// marked degraded (§4.7 Failure handling).
func (c *Controller) sendWithRetry(ctx context.Context, dc string, batch Batch) error {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if err := c.transport.SendBatch(ctx, dc, batch); err == nil {
			metrics.DCReplicationBatchesTotal.WithLabelValues(dc, "acked").Inc()
			c.recordAck(dc)
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	metrics.DCReplicationBatchesTotal.WithLabelValues(dc, "failed").Inc()
	if _, err := c.dlq.Put(dc, batch); err != nil {
		c.log.Error().Err(err).Str("dc", dc).Msg("failed to persist dead-lettered batch")
	}
	c.markDegraded(dc)
	return aerolitherrors.Wrap(aerolitherrors.KindTimeout, "replication to datacenter exhausted retries", lastErr)
}

func (c *Controller) recordAck(dc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.health[dc]
	if !ok {
		h = &Health{Datacenter: dc}
		c.health[dc] = h
	}
	h.LastAck = time.Now()
	h.Lag = 0
	h.Healthy = true
	h.Degraded = false
	metrics.DCReplicationLagSeconds.WithLabelValues(dc).Set(0)
}

func (c *Controller) markDegraded(dc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.health[dc]
	if !ok {
		h = &Health{Datacenter: dc}
		c.health[dc] = h
	}
	h.Degraded = true
	h.DeadLettered = c.dlq.Count(dc)
}

// flushLoop drains every remote DC's queue whenever it is full or its
// oldest pending request has waited MaxDelay (Async/Hybrid's bounded
// staleness), sending the resulting batch with retry and dead-lettering.
func (c *Controller) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			for dc, q := range c.queues {
				if q.depth() == 0 {
					continue
				}
				if q.depth() < q.batchSize && !q.dueForFlush() {
					continue
				}
				if batch := q.drain(); batch != nil {
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					_ = c.sendWithRetry(ctx, dc, *batch)
					cancel()
				}
			}
		}
	}
}

// lagMonitorLoop periodically recomputes per-DC lag (now - last successful
// ack) and marks a DC unhealthy once lag exceeds MaxReplicationLag (§4.7
// Lag monitoring). Writes continue regardless — local quorum is unaffected
// by remote DC health — only the observability surface changes.
func (c *Controller) lagMonitorLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			for dc, h := range c.health {
				h.Lag = time.Since(h.LastAck)
				wasHealthy := h.Healthy
				h.Healthy = h.Lag <= c.cfg.MaxReplicationLag
				metrics.DCReplicationLagSeconds.WithLabelValues(dc).Set(h.Lag.Seconds())
				if wasHealthy && !h.Healthy {
					c.log.Warn().Str("dc", dc).Dur("lag", h.Lag).Msg("remote datacenter exceeded max replication lag")
				}
			}
			c.mu.Unlock()
		}
	}
}

// Health returns a snapshot of every configured remote datacenter's
// lag/availability state.
func (c *Controller) Health() []Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Health, 0, len(c.health))
	for _, h := range c.health {
		out = append(out, *h)
	}
	return out
}

// ResolveConflict resolves concurrently-replicated siblings from different
// datacenters using the strategy configured for mode (or the explicit
// override in cfg.ConflictStrategy), keying pkg/resolver's PeerPriority
// mechanism by datacenter id rather than peer id — cross-DC conflict
// resolution is the same pointwise-max-plus-pick problem local conflict
// resolution solves, just at datacenter rather than peer granularity.
func (c *Controller) ResolveConflict(mode Mode, siblings []resolver.Sibling, merger resolver.Merger) (resolver.Resolved, error) {
	strategy := c.cfg.ConflictStrategy
	if strategy == "" {
		strategy = defaultStrategyFor(mode)
	}

	priorities := make(map[string]int, len(c.cfg.Remotes)+1)
	for _, r := range c.cfg.Remotes {
		priorities[r.ID] = r.Priority
	}

	var rs resolver.Strategy
	switch strategy {
	case StrategyLastWriterWins:
		rs = resolver.LastWriterWins
	case StrategyDatacenterPriority:
		rs = resolver.PeerPriority
	case StrategyVectorClock:
		rs = resolver.Causal
	default:
		rs = resolver.SemanticMerge
	}

	res := resolver.New(rs, c.cfg.LocalDatacenterID, priorities, merger)
	return res.Resolve(siblings)
}
