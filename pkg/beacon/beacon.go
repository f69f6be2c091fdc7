package beacon

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/types"
)

// PulseDispatcher delivers a sync pulse to one module. Implementations
// must honor the context deadline; a failed or timed-out dispatch is
// reported through the returned error and treated as a missed delivery.
type PulseDispatcher interface {
	DispatchPulse(ctx context.Context, module *types.Module, cycle uint64, emittedAt time.Time) error
}

// DriftSink receives missed-sync and stale-ack evidence from the beacon
type DriftSink interface {
	OnMissedSync(moduleID string, cycle uint64)
	OnStaleAck(moduleID string, ackCycle, openCycle uint64)
}

// Beacon broadcasts the current cycle to all registered modules and
// tracks per-module acknowledgements. Exactly one pulse is open at a
// time; the clock's gate keeps the next tick out until the window
// closes.
type Beacon struct {
	cfg        config.BeaconConfig
	registry   *registry.Registry
	dispatcher PulseDispatcher
	drift      DriftSink
	broker     *events.Broker

	mu         sync.Mutex
	pulse      *types.SyncPulse
	windowOpen bool
	closeTimer *time.Timer

	// maxConcurrent bounds parallel pulse dispatches
	maxConcurrent int
}

// New creates a sync beacon
func New(cfg config.BeaconConfig, reg *registry.Registry, dispatcher PulseDispatcher, drift DriftSink, broker *events.Broker) *Beacon {
	return &Beacon{
		cfg:           cfg,
		registry:      reg,
		dispatcher:    dispatcher,
		drift:         drift,
		broker:        broker,
		maxConcurrent: 16,
	}
}

// WindowClosed reports whether the previous ack window has closed.
// Wired as the clock's back-pressure gate.
func (b *Beacon) WindowClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.windowOpen
}

// CurrentPulse returns a snapshot of the open (or last) pulse
func (b *Beacon) CurrentPulse() *types.SyncPulse {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pulse == nil {
		return nil
	}
	snapshot := &types.SyncPulse{
		Cycle:     b.pulse.Cycle,
		EmittedAt: b.pulse.EmittedAt,
		Targets:   make(map[string]bool, len(b.pulse.Targets)),
		Acked:     make(map[string]time.Time, len(b.pulse.Acked)),
	}
	for id := range b.pulse.Targets {
		snapshot.Targets[id] = true
	}
	for id, at := range b.pulse.Acked {
		snapshot.Acked[id] = at
	}
	return snapshot
}

// BroadcastPulse constructs a pulse for the cycle, dispatches it to
// every registered module in parallel, and opens the ack window.
func (b *Beacon) BroadcastPulse(cycle uint64) {
	logger := log.WithComponent("beacon")

	modules := b.registry.ListModules()
	targets := make([]string, 0, len(modules))
	for _, m := range modules {
		targets = append(targets, m.ID)
	}

	b.mu.Lock()
	if b.windowOpen {
		// The clock gate makes this unreachable in normal operation.
		b.mu.Unlock()
		logger.Warn().Uint64("cycle", cycle).Msg("Pulse requested while window still open; dropped")
		return
	}
	pulse := types.NewSyncPulse(cycle, targets)
	b.pulse = pulse
	b.windowOpen = true
	window := b.cfg.AckWindow()
	b.closeTimer = time.AfterFunc(window, func() { b.closeWindow(cycle) })
	b.mu.Unlock()

	metrics.PulsesEmittedTotal.Inc()
	logger.Debug().
		Uint64("cycle", cycle).
		Int("targets", len(targets)).
		Dur("window", window).
		Msg("Pulse emitted")

	if b.broker != nil {
		b.broker.Publish(&events.Event{
			Type:    events.EventPulseEmitted,
			Message: "sync pulse emitted",
			Metadata: map[string]string{
				"cycle":   strconv.FormatUint(cycle, 10),
				"targets": strconv.Itoa(len(targets)),
			},
		})
	}

	// Parallel dispatch with a bounded pool; a slow module never holds
	// up delivery to the rest.
	sem := make(chan struct{}, b.maxConcurrent)
	var wg sync.WaitGroup
	for _, m := range modules {
		wg.Add(1)
		sem <- struct{}{}
		go func(module *types.Module) {
			defer wg.Done()
			defer func() { <-sem }()

			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DispatchTimeout)
			defer cancel()

			if err := b.dispatcher.DispatchPulse(ctx, module, pulse.Cycle, pulse.EmittedAt); err != nil {
				logger.Debug().
					Err(err).
					Str("module_id", module.ID).
					Uint64("cycle", pulse.Cycle).
					Msg("Pulse dispatch failed")
			}
		}(m)
	}
	wg.Wait()
}

// Acknowledge records an ack for the currently open pulse. Acks for any
// other cycle are discarded and surfaced as drift evidence.
func (b *Beacon) Acknowledge(moduleName string, cycle uint64) error {
	module, err := b.registry.GetModuleByName(moduleName)
	if err != nil {
		return err
	}

	b.mu.Lock()
	open := b.windowOpen && b.pulse != nil && b.pulse.Cycle == cycle
	var openCycle uint64
	if b.pulse != nil {
		openCycle = b.pulse.Cycle
	}
	if open {
		if _, targeted := b.pulse.Targets[module.ID]; targeted {
			b.pulse.Acked[module.ID] = time.Now()
		} else {
			open = false
		}
	}
	b.mu.Unlock()

	if !open {
		metrics.StaleAcksTotal.Inc()
		log.WithComponent("beacon").Warn().
			Str("module_id", module.ID).
			Uint64("ack_cycle", cycle).
			Uint64("open_cycle", openCycle).
			Msg("Stale sync acknowledgement discarded")

		if b.drift != nil {
			b.drift.OnStaleAck(module.ID, cycle, openCycle)
		}
		if b.broker != nil {
			b.broker.Publish(&events.Event{
				Type:    events.EventStaleAck,
				Message: "stale sync acknowledgement",
				Metadata: map[string]string{
					"module_id": module.ID,
					"ack_cycle": strconv.FormatUint(cycle, 10),
				},
			})
		}
		return fmt.Errorf("module %s cycle %d: %w", moduleName, cycle, types.ErrStaleAck)
	}

	// A matching ack is the module's heartbeat evidence.
	_, err = b.registry.UpdateModule(module.ID, func(m *types.Module) error {
		m.LastCycleAcked = cycle
		m.LastHeartbeat = time.Now()
		return nil
	})
	return err
}

// closeWindow ends the ack window and reports every silent target
func (b *Beacon) closeWindow(cycle uint64) {
	b.mu.Lock()
	if b.pulse == nil || b.pulse.Cycle != cycle || !b.windowOpen {
		b.mu.Unlock()
		return
	}
	b.windowOpen = false
	missed := b.pulse.Missed()
	acked := len(b.pulse.Acked)
	targets := len(b.pulse.Targets)
	b.mu.Unlock()

	metrics.SyncMissesTotal.Add(float64(len(missed)))
	log.WithComponent("beacon").Debug().
		Uint64("cycle", cycle).
		Int("acked", acked).
		Int("targets", targets).
		Int("missed", len(missed)).
		Msg("Ack window closed")

	if b.broker != nil {
		b.broker.Publish(&events.Event{
			Type:    events.EventPulseWindowClosed,
			Message: "sync window closed",
			Metadata: map[string]string{
				"cycle":  strconv.FormatUint(cycle, 10),
				"missed": strconv.Itoa(len(missed)),
			},
		})
	}

	if b.drift != nil {
		for _, moduleID := range missed {
			b.drift.OnMissedSync(moduleID, cycle)
		}
	}
}

// Stop cancels any pending window close
func (b *Beacon) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeTimer != nil {
		b.closeTimer.Stop()
	}
	b.windowOpen = false
}
