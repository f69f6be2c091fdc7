package metrics

import (
	"time"

	"github.com/cortexops/cortex/pkg/types"
)

// FleetSource supplies registry snapshots for the collector
type FleetSource interface {
	ListModules() []*types.Module
	ListWorkers() []*types.Worker
	SystemHealth() float64
}

// ClockSource supplies clock readings for the collector
type ClockSource interface {
	Cycle() uint64
	DelayedTicks() uint64
}

// Collector periodically snapshots fleet state into the gauges
type Collector struct {
	fleet  FleetSource
	clock  ClockSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(fleet FleetSource, clock ClockSource) *Collector {
	return &Collector{
		fleet:  fleet,
		clock:  clock,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectModuleMetrics()
	c.collectWorkerMetrics()
	c.collectClockMetrics()
}

func (c *Collector) collectModuleMetrics() {
	moduleCounts := map[types.ModuleState]int{
		types.ModuleStateHealthy:    0,
		types.ModuleStateDegraded:   0,
		types.ModuleStateIsolated:   0,
		types.ModuleStateRecovering: 0,
	}
	for _, m := range c.fleet.ListModules() {
		moduleCounts[m.State]++
	}
	for state, count := range moduleCounts {
		ModulesTotal.WithLabelValues(string(state)).Set(float64(count))
	}

	SystemHealth.Set(c.fleet.SystemHealth())
}

func (c *Collector) collectWorkerMetrics() {
	workerCounts := map[types.LifecycleState]int{
		types.LifecycleActive:        0,
		types.LifecycleDrifting:      0,
		types.LifecycleSunsetPending: 0,
		types.LifecycleRetired:       0,
	}
	for _, w := range c.fleet.ListWorkers() {
		workerCounts[w.LifecycleState]++
	}
	for state, count := range workerCounts {
		WorkersTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectClockMetrics() {
	if c.clock == nil {
		return
	}
	CycleCurrent.Set(float64(c.clock.Cycle()))
	TicksDelayed.Set(float64(c.clock.DelayedTicks()))
}
