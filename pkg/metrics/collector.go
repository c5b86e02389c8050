package metrics

import "time"

// Collector periodically invokes a refresh callback that pulls gauge-shaped
// state with no natural "update on every event" hook - consensus
// leadership, raft log/applied index, per-tier storage occupancy - and
// updates the corresponding Prometheus gauges as a side effect. Counters
// and histograms (document operations, tier hits, conflicts resolved) are
// updated inline by the packages that produce them and need no polling;
// this collector exists only for the pull-based gauges.
//
// refresh is typically (*coordinator.Coordinator).Stats: pkg/coordinator
// already imports pkg/metrics to update counters inline, so this package
// cannot import pkg/coordinator back without a cycle, hence the callback
// rather than a typed dependency.
type Collector struct {
	refresh func()
	stopCh  chan struct{}
}

// NewCollector constructs a Collector that calls refresh on every tick.
func NewCollector(refresh func()) *Collector {
	return &Collector{
		refresh: refresh,
		stopCh:  make(chan struct{}),
	}
}

// Start begins polling at a fixed interval, refreshing immediately first.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.refresh != nil {
		c.refresh()
	}
}
