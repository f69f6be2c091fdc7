package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/cortexops/cortex/pkg/vault"
)

// SunsetResult reports the outcome of a completed sunset procedure
type SunsetResult struct {
	Status           types.LifecycleState `json:"status"`
	PatternsExported bool                 `json:"patterns_exported"`
	PatchesApplied   []string             `json:"patches_applied"`
}

// Manager drives workers through Active, Drifting, SunsetPending and
// Retired. Forward transitions are driven by drift score; retirement is
// gated on a successful pattern export to the vault.
type Manager struct {
	cfg             config.DriftConfig
	confidenceFloor float64
	registry        *registry.Registry
	vault           vault.Exporter
	broker          *events.Broker
}

// New creates a worker lifecycle manager
func New(cfg config.DriftConfig, confidenceFloor float64, reg *registry.Registry, exporter vault.Exporter, broker *events.Broker) *Manager {
	return &Manager{
		cfg:             cfg,
		confidenceFloor: confidenceFloor,
		registry:        reg,
		vault:           exporter,
		broker:          broker,
	}
}

func (m *Manager) publish(eventType events.EventType, dsn, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  msg,
		Metadata: map[string]string{"worker_dsn": dsn},
	})
}

// OnDriftScore reacts to a worker's updated drift score. Crossing the
// low watermark marks the worker Drifting (advisory only); crossing the
// sunset watermark marks it SunsetPending. Scores never move a worker
// backward and never touch retired workers.
func (m *Manager) OnDriftScore(dsn string, score float64) {
	logger := log.WithWorkerDSN(dsn)

	var transitioned types.LifecycleState
	_, err := m.registry.UpdateWorker(dsn, func(w *types.Worker) error {
		transitioned = ""
		switch w.LifecycleState {
		case types.LifecycleActive:
			if score >= m.cfg.WorkerSunsetScore {
				w.LifecycleState = types.LifecycleSunsetPending
				transitioned = types.LifecycleSunsetPending
			} else if score > m.cfg.WorkerDriftingScore {
				w.LifecycleState = types.LifecycleDrifting
				transitioned = types.LifecycleDrifting
			}
		case types.LifecycleDrifting:
			if score >= m.cfg.WorkerSunsetScore {
				w.LifecycleState = types.LifecycleSunsetPending
				transitioned = types.LifecycleSunsetPending
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	switch transitioned {
	case types.LifecycleDrifting:
		logger.Info().Float64("score", score).Msg("Worker drifting")
		m.publish(events.EventWorkerDrifting, dsn, "worker crossed the drift watermark")
	case types.LifecycleSunsetPending:
		logger.Warn().Float64("score", score).Msg("Worker pending sunset")
		m.registry.RaiseAlert("", types.SeverityWarning,
			fmt.Sprintf("worker %s drift %.2f past sunset watermark", dsn, score))
		m.publish(events.EventWorkerSunsetBegin, dsn, "worker crossed the sunset watermark")
	}
}

// Sunset retires a worker: its learned patterns are exported to the
// vault first, and only a successful export moves the record to
// Retired. The DSN is never reused; a successor registers with a fresh
// identity.
func (m *Manager) Sunset(ctx context.Context, dsn, reason string) (*SunsetResult, error) {
	worker, err := m.registry.GetWorker(dsn)
	if err != nil {
		return nil, err
	}
	if worker.LifecycleState == types.LifecycleRetired {
		return nil, fmt.Errorf("worker %s: %w", dsn, types.ErrRetired)
	}

	logger := log.WithWorkerDSN(dsn)

	if err := m.vault.ExportPatterns(ctx, worker, reason); err != nil {
		logger.Error().Err(err).Msg("Pattern export failed; retirement blocked")
		return &SunsetResult{
			Status:           worker.LifecycleState,
			PatternsExported: false,
			PatchesApplied:   worker.PatchesApplied,
		}, fmt.Errorf("failed to export patterns for %s: %w", dsn, err)
	}

	retired, err := m.registry.UpdateWorker(dsn, func(w *types.Worker) error {
		if w.LifecycleState == types.LifecycleRetired {
			return types.ErrRetired
		}
		w.LifecycleState = types.LifecycleRetired
		w.RetiredAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SunsetsTotal.Inc()
	logger.Info().Str("reason", reason).Msg("Worker retired")
	m.publish(events.EventWorkerRetired, dsn, "worker retired: "+reason)

	return &SunsetResult{
		Status:           retired.LifecycleState,
		PatternsExported: true,
		PatchesApplied:   retired.PatchesApplied,
	}, nil
}

// ApplyPatch records a predicate on a worker. Application is idempotent
// by predicate ID, and confidence below the floor yields a not-applied
// result rather than an error. Returns whether the patch is applied
// after the call.
func (m *Manager) ApplyPatch(dsn string, p *types.Predicate) (bool, error) {
	if p.Confidence < m.confidenceFloor {
		log.WithWorkerDSN(dsn).Debug().
			Str("predicate_id", p.ID).
			Float64("confidence", p.Confidence).
			Msg("Predicate below confidence floor; not applied")
		return false, nil
	}

	_, err := m.registry.UpdateWorker(dsn, func(w *types.Worker) error {
		if w.LifecycleState == types.LifecycleRetired {
			return types.ErrRetired
		}
		if w.HasPatch(p.ID) {
			return nil
		}
		w.PatchesApplied = append(w.PatchesApplied, p.ID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
