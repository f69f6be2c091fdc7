package drift

import (
	"fmt"
	"sync"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/types"
)

// CycleSource reads the clock's current cycle
type CycleSource interface {
	Cycle() uint64
}

// IsolationSink receives isolation requests for modules whose drift or
// failure count crossed the error threshold
type IsolationSink interface {
	RequestIsolation(moduleID, reason string)
}

// LifecycleSink receives worker drift scores for lifecycle evaluation
type LifecycleSink interface {
	OnDriftScore(dsn string, score float64)
}

// Detector compares expected and observed cycles for modules and folds
// behavioral deviation signals into worker drift scores. Records are
// rolling state: the latest value for a subject supersedes the prior.
type Detector struct {
	cfg      config.DriftConfig
	registry *registry.Registry
	cycles   CycleSource

	isolation IsolationSink
	lifecycle LifecycleSink

	mu      sync.Mutex
	records map[string]*types.DriftRecord
	// isolationCycle notes the cycle an isolation request fired per
	// module; a sync-drift event in the same cycle defers to it
	// (safety over availability).
	isolationCycle map[string]uint64

	stopCh chan struct{}
}

// New creates a drift detector
func New(cfg config.DriftConfig, reg *registry.Registry, cycles CycleSource) *Detector {
	return &Detector{
		cfg:            cfg,
		registry:       reg,
		cycles:         cycles,
		records:        make(map[string]*types.DriftRecord),
		isolationCycle: make(map[string]uint64),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic fleet-wide evaluation loop
func (d *Detector) Start() {
	go d.run()
}

// Stop halts the evaluation loop
func (d *Detector) Stop() {
	close(d.stopCh)
}

func (d *Detector) run() {
	interval := d.cfg.EvaluateInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.EvaluateWorkers()
		case <-d.stopCh:
			return
		}
	}
}

// SetIsolationSink wires the recovery manager
func (d *Detector) SetIsolationSink(sink IsolationSink) {
	d.isolation = sink
}

// SetLifecycleSink wires the worker lifecycle manager
func (d *Detector) SetLifecycleSink(sink LifecycleSink) {
	d.lifecycle = sink
}

// Record returns the latest drift record for a subject, if any
func (d *Detector) Record(subject string) (*types.DriftRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[subject]
	if !ok {
		return nil, false
	}
	copied := *rec
	return &copied, true
}

// Records returns copies of all current drift records
func (d *Detector) Records() []*types.DriftRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*types.DriftRecord, 0, len(d.records))
	for _, rec := range d.records {
		copied := *rec
		out = append(out, &copied)
	}
	return out
}

// OnMissedSync handles a module that failed to acknowledge a pulse.
// Missed syncs raise drift alerts but never drive isolation on their
// own; isolation requires failed health checks.
func (d *Detector) OnMissedSync(moduleID string, cycle uint64) {
	module, err := d.registry.GetModule(moduleID)
	if err != nil {
		return
	}

	magnitude := cycleGap(cycle, module.LastCycleAcked)
	d.mu.Lock()
	d.records[moduleID] = &types.DriftRecord{
		ModuleID:      moduleID,
		ExpectedCycle: cycle,
		ObservedCycle: module.LastCycleAcked,
		Magnitude:     magnitude,
		ComputedAt:    time.Now(),
	}
	isolatedThisCycle := d.isolationCycle[moduleID] == cycle && cycle != 0
	d.mu.Unlock()

	if isolatedThisCycle {
		// Isolation already requested for this entity this cycle;
		// it takes precedence over sync-drift handling.
		return
	}

	log.WithComponent("drift").Debug().
		Str("module_id", moduleID).
		Uint64("magnitude", magnitude).
		Msg("Missed sync recorded")

	if magnitude >= d.cfg.ModuleErrorCycles {
		d.registry.RaiseAlert(moduleID, types.SeverityError,
			fmt.Sprintf("module %d cycles behind the beacon", magnitude))
	} else if magnitude >= d.cfg.ModuleWarnCycles {
		d.registry.RaiseAlert(moduleID, types.SeverityWarning,
			fmt.Sprintf("module drifting: %d cycles behind the beacon", magnitude))
	}
}

// OnStaleAck records a late acknowledgement as drift evidence
func (d *Detector) OnStaleAck(moduleID string, ackCycle, openCycle uint64) {
	magnitude := cycleGap(openCycle, ackCycle)

	d.mu.Lock()
	d.records[moduleID] = &types.DriftRecord{
		ModuleID:      moduleID,
		ExpectedCycle: openCycle,
		ObservedCycle: ackCycle,
		Magnitude:     magnitude,
		ComputedAt:    time.Now(),
	}
	d.mu.Unlock()

	if magnitude >= d.cfg.ModuleWarnCycles {
		d.registry.RaiseAlert(moduleID, types.SeverityWarning,
			fmt.Sprintf("stale ack %d cycles behind the open pulse", magnitude))
	}
}

// OnFailedChecks handles the health monitor's escalation of a module
// with consecutive failures at or past the threshold.
func (d *Detector) OnFailedChecks(moduleID string, consecutiveFailures int) {
	d.mu.Lock()
	if d.cycles != nil {
		d.isolationCycle[moduleID] = d.cycles.Cycle()
	}
	d.mu.Unlock()

	d.registry.RaiseAlert(moduleID, types.SeverityError,
		fmt.Sprintf("%d consecutive failed health checks", consecutiveFailures))

	if d.isolation != nil {
		d.isolation.RequestIsolation(moduleID,
			fmt.Sprintf("failure threshold reached (%d consecutive)", consecutiveFailures))
	}
}

// SetWorkerScore replaces a worker's drift score with an externally
// computed value. The reasoning subsystem that produces the score is an
// opaque collaborator; the engine only reacts to the scalar.
func (d *Detector) SetWorkerScore(dsn string, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	worker, err := d.registry.UpdateWorker(dsn, func(w *types.Worker) error {
		w.DriftScore = score
		return nil
	})
	if err != nil {
		return
	}
	d.recordWorker(worker.DSN, score)
	d.evaluateWorker(worker.DSN, score)
}

// AddWorkerSignal folds an engine-sourced deviation signal (missed
// sync, failed check) into the worker's accumulated drift score.
func (d *Detector) AddWorkerSignal(dsn string, delta float64, reason string) {
	worker, err := d.registry.UpdateWorker(dsn, func(w *types.Worker) error {
		w.DriftScore += delta
		if w.DriftScore > 1 {
			w.DriftScore = 1
		}
		return nil
	})
	if err != nil {
		return
	}

	log.WithComponent("drift").Debug().
		Str("worker_dsn", dsn).
		Float64("score", worker.DriftScore).
		Str("signal", reason).
		Msg("Worker drift signal")

	d.recordWorker(dsn, worker.DriftScore)
	d.evaluateWorker(dsn, worker.DriftScore)
}

// OnWorkerFailedDispatch folds a failed predicate delivery into the
// worker's drift score.
func (d *Detector) OnWorkerFailedDispatch(dsn string) {
	d.AddWorkerSignal(dsn, d.cfg.FailedCheckWeight, "failed predicate dispatch")
}

// OnWorkerMissedAck folds a broadcast the worker never acknowledged
// into its drift score.
func (d *Detector) OnWorkerMissedAck(dsn string) {
	d.AddWorkerSignal(dsn, d.cfg.MissedSyncWeight, "missed broadcast ack")
}

// EvaluateWorkers runs a drift evaluation pass over the whole fleet
func (d *Detector) EvaluateWorkers() {
	for _, w := range d.registry.ListWorkers() {
		if w.LifecycleState == types.LifecycleRetired {
			continue
		}
		d.evaluateWorker(w.DSN, w.DriftScore)
	}
}

func (d *Detector) recordWorker(dsn string, score float64) {
	d.mu.Lock()
	d.records[dsn] = &types.DriftRecord{
		WorkerDSN:  dsn,
		DriftScore: score,
		ComputedAt: time.Now(),
	}
	d.mu.Unlock()
}

func (d *Detector) evaluateWorker(dsn string, score float64) {
	if d.lifecycle != nil {
		d.lifecycle.OnDriftScore(dsn, score)
	}
}

// cycleGap is the absolute difference of two cycle numbers
func cycleGap(a, b uint64) uint64 {
	if a >= b {
		return a - b
	}
	return b - a
}
