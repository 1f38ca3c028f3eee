package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/stackup/pkg/types"
)

// StateSource reports the current number of nodes in each lifecycle state
type StateSource interface {
	StateCounts() map[types.NodeState]int
}

var allStates = []types.NodeState{
	types.StatePending,
	types.StateSeeding,
	types.StateStarting,
	types.StateAwaitingReady,
	types.StateTrustBootstrap,
	types.StateRestarting,
	types.StateAwaitingReadyAfterTrust,
	types.StateReady,
	types.StateFailed,
}

// Collector periodically samples a StateSource into the NodesByState gauge
// and mirrors per-node health into the component registry
type Collector struct {
	source   StateSource
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				// Final sample so the gauge reflects the terminal states
				c.Collect()
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the last sample
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

// Collect takes one sample
func (c *Collector) Collect() {
	counts := c.source.StateCounts()
	for _, state := range allStates {
		NodesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
