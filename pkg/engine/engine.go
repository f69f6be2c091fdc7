package engine

import (
	"fmt"

	"github.com/cortexops/cortex/pkg/beacon"
	"github.com/cortexops/cortex/pkg/broadcast"
	"github.com/cortexops/cortex/pkg/client"
	"github.com/cortexops/cortex/pkg/clock"
	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/drift"
	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/lifecycle"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/monitor"
	"github.com/cortexops/cortex/pkg/recovery"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/storage"
	"github.com/cortexops/cortex/pkg/vault"
)

// Engine is the composition root: it owns every coordination loop and
// wires them together.
//
// Control flow per tick: the clock advances the cycle (delayed while
// the previous ack window is open), the beacon broadcasts the pulse and
// collects acks; independently the monitor polls module health, feeding
// the recovery manager and drift detector; the drift detector feeds the
// lifecycle manager; the broadcaster fans out predicates on demand.
type Engine struct {
	cfg    *config.Config
	store  storage.Store
	broker *events.Broker

	registry    *registry.Registry
	clock       *clock.Clock
	beacon      *beacon.Beacon
	monitor     *monitor.Monitor
	drift       *drift.Detector
	recovery    *recovery.Manager
	lifecycle   *lifecycle.Manager
	broadcaster *broadcast.Broadcaster
	collector   *metrics.Collector
}

// New builds and wires an engine from config
func New(cfg *config.Config) (*Engine, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	broker := events.NewBroker()

	reg, err := registry.New(store, broker)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	dispatcher := client.NewDispatcher()

	clk := clock.New(cfg.Clock, reg, reg, broker)
	det := drift.New(cfg.Drift, reg, clk)
	bcn := beacon.New(cfg.Beacon, reg, dispatcher, det, broker)
	rec := recovery.New(cfg.Recovery, reg, dispatcher, broker)
	mon := monitor.New(cfg.Monitor, reg, rec, det)
	lcm := lifecycle.New(cfg.Drift, cfg.Broadcast.ConfidenceFloor, reg,
		vault.NewHTTPExporter(cfg.VaultURL), broker)
	bcast := broadcast.New(cfg.Broadcast, reg, store, dispatcher, broker)

	det.SetIsolationSink(rec)
	det.SetLifecycleSink(lcm)
	bcast.SetDriftSink(det)
	bcast.SetPatchApplier(lcm)

	// Back-pressure: a tick never lands while the prior ack window is
	// open, and every tick opens the next pulse.
	clk.SetGate(bcn.WindowClosed)
	clk.SetOnTick(bcn.BroadcastPulse)

	return &Engine{
		cfg:         cfg,
		store:       store,
		broker:      broker,
		registry:    reg,
		clock:       clk,
		beacon:      bcn,
		monitor:     mon,
		drift:       det,
		recovery:    rec,
		lifecycle:   lcm,
		broadcaster: bcast,
		collector:   metrics.NewCollector(reg, clk),
	}, nil
}

// Start launches every loop
func (e *Engine) Start() {
	log.WithComponent("engine").Info().Msg("Starting coordination engine")

	metrics.UpdateComponent("store", true, "")
	metrics.UpdateComponent("clock", true, "")

	e.broker.Start()
	e.clock.Start()
	e.monitor.Start()
	e.drift.Start()
	e.broadcaster.Start()
	e.collector.Start()
}

// Stop halts every loop and closes the store
func (e *Engine) Stop() error {
	log.WithComponent("engine").Info().Msg("Stopping coordination engine")

	e.collector.Stop()
	e.broadcaster.Stop()
	e.drift.Stop()
	e.monitor.Stop()
	e.clock.Stop()
	e.beacon.Stop()
	e.broker.Stop()

	return e.store.Close()
}

// Registry returns the module/worker registry
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Clock returns the heartbeat clock
func (e *Engine) Clock() *clock.Clock { return e.clock }

// Beacon returns the sync beacon
func (e *Engine) Beacon() *beacon.Beacon { return e.beacon }

// Monitor returns the health monitor
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// Drift returns the drift detector
func (e *Engine) Drift() *drift.Detector { return e.drift }

// Recovery returns the recovery manager
func (e *Engine) Recovery() *recovery.Manager { return e.recovery }

// Lifecycle returns the worker lifecycle manager
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lifecycle }

// Broadcaster returns the predicate broadcaster
func (e *Engine) Broadcaster() *broadcast.Broadcaster { return e.broadcaster }

// Broker returns the event broker
func (e *Engine) Broker() *events.Broker { return e.broker }
