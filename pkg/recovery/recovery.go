package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/types"
)

// ActionDispatcher executes recovery actions against a module through
// the external restart/reroute collaborator.
type ActionDispatcher interface {
	RequestRestart(ctx context.Context, module *types.Module) error
}

// Manager drives the module state machine:
//
//	Healthy → Degraded → Isolated → Recovering → Healthy
//	                                          ↘ Isolated (permanent)
//
// All transitions go through the registry's serialized update path;
// no other component assigns module state directly.
type Manager struct {
	cfg      config.RecoveryConfig
	registry *registry.Registry
	actions  ActionDispatcher
	broker   *events.Broker

	mu          sync.Mutex
	lastAttempt map[string]time.Time
}

// New creates a recovery manager
func New(cfg config.RecoveryConfig, reg *registry.Registry, actions ActionDispatcher, broker *events.Broker) *Manager {
	return &Manager{
		cfg:         cfg,
		registry:    reg,
		actions:     actions,
		broker:      broker,
		lastAttempt: make(map[string]time.Time),
	}
}

// markAttempt stamps a recovery attempt for retry pacing
func (m *Manager) markAttempt(moduleID string) {
	m.mu.Lock()
	m.lastAttempt[moduleID] = time.Now()
	m.mu.Unlock()
}

// withinBackoff reports whether the last attempt is too recent to retry
func (m *Manager) withinBackoff(moduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastAttempt[moduleID]
	return ok && time.Since(last) < m.cfg.RetryBackoff
}

func (m *Manager) publish(eventType events.EventType, moduleID, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     eventType,
		Message:  msg,
		Metadata: map[string]string{"module_id": moduleID},
	})
}

// OnSuccessfulCheck confirms a module's health after a passing check.
// Degraded and Recovering modules return to Healthy here; Isolated
// modules stay put until a recovery action moves them to Recovering.
func (m *Manager) OnSuccessfulCheck(moduleID string) {
	logger := log.WithComponent("recovery")

	var recovered bool
	updated, err := m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		recovered = false
		mod.ConsecutiveFailures = 0
		mod.LastHeartbeat = time.Now()

		switch mod.State {
		case types.ModuleStateDegraded, types.ModuleStateRecovering:
			if mod.State == types.ModuleStateRecovering {
				recovered = true
			}
			mod.State = types.ModuleStateHealthy
			mod.RecoveryAttempts = 0
			mod.PermanentlyIsolated = false
		}
		return nil
	})
	if err != nil {
		return
	}

	if recovered {
		metrics.RecoveriesTotal.WithLabelValues("recovered").Inc()
		m.publish(events.EventModuleRecovered, moduleID, "module recovered")
	}
	if updated.State == types.ModuleStateHealthy {
		logger.Debug().Str("module_id", moduleID).Msg("Module confirmed healthy")
	}
}

// OnFailedCheck handles one failed health check. criticalPath marks a
// critical module that blew its stricter critical-path timeout; that
// single failure isolates immediately.
func (m *Manager) OnFailedCheck(moduleID string, criticalPath bool) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return
	}

	switch module.State {
	case types.ModuleStateHealthy:
		if criticalPath {
			m.isolate(moduleID, "critical module failed a check past the critical-path timeout")
			return
		}
		_, err := m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
			if mod.State != types.ModuleStateHealthy {
				return nil
			}
			mod.State = types.ModuleStateDegraded
			return nil
		})
		if err == nil {
			m.registry.RaiseAlert(moduleID, types.SeverityWarning, "module degraded on failed check")
			m.publish(events.EventModuleDegraded, moduleID, "module degraded")
		}

	case types.ModuleStateDegraded:
		if criticalPath {
			m.isolate(moduleID, "critical module failed a check past the critical-path timeout")
		}
		// Non-critical escalation arrives from the drift detector once
		// the failure threshold is reached.

	case types.ModuleStateRecovering:
		m.retryOrExhaust(moduleID)

	case types.ModuleStateIsolated:
		// Already contained; nothing to do until recovery runs.
	}
}

// RequestIsolation isolates a module at the drift detector's request
// and immediately starts recovery.
func (m *Manager) RequestIsolation(moduleID, reason string) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return
	}
	if module.PermanentlyIsolated {
		return
	}
	if module.State == types.ModuleStateIsolated || module.State == types.ModuleStateRecovering {
		return
	}

	m.isolate(moduleID, reason)
}

// Isolate is the operator-facing manual isolation. Unlike the drift
// path it does not start recovery automatically.
func (m *Manager) Isolate(moduleID, reason string) (*types.Module, error) {
	updated, err := m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		mod.State = types.ModuleStateIsolated
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IsolationsTotal.Inc()
	m.registry.RaiseAlert(moduleID, types.SeverityError, fmt.Sprintf("module isolated: %s", reason))
	m.publish(events.EventModuleIsolated, moduleID, reason)
	m.cascade(updated)
	return updated, nil
}

// Recover is the operator-facing manual recovery. It clears permanent
// isolation (external intervention) and dispatches a recovery action.
func (m *Manager) Recover(moduleID string) (*types.Module, error) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return nil, err
	}
	if module.State != types.ModuleStateIsolated {
		return nil, fmt.Errorf("module %s is %s, not isolated", moduleID, module.State)
	}

	_, err = m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		mod.PermanentlyIsolated = false
		mod.RecoveryAttempts = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m.beginRecovery(moduleID)
}

// isolate performs the isolation transition, cascades to dependents,
// and begins recovery.
func (m *Manager) isolate(moduleID, reason string) {
	updated, err := m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		mod.State = types.ModuleStateIsolated
		return nil
	})
	if err != nil {
		return
	}

	log.WithComponent("recovery").Warn().
		Str("module_id", moduleID).
		Str("reason", reason).
		Bool("critical", updated.Critical).
		Msg("Module isolated")

	metrics.IsolationsTotal.Inc()
	severity := types.SeverityError
	if updated.Critical {
		severity = types.SeverityCritical
	}
	m.registry.RaiseAlert(moduleID, severity, fmt.Sprintf("module isolated: %s", reason))
	m.publish(events.EventModuleIsolated, moduleID, reason)

	m.cascade(updated)

	if _, err := m.beginRecovery(moduleID); err != nil {
		log.WithComponent("recovery").Error().Err(err).
			Str("module_id", moduleID).
			Msg("Failed to begin recovery")
	}
}

// cascade applies the cascade-prevention rule: isolating a critical
// module degrades its dependents (never isolates them) and raises a
// critical alert immediately, independent of their own check outcomes.
// Isolating a non-critical module leaves dependents untouched.
func (m *Manager) cascade(isolated *types.Module) {
	if !isolated.Critical {
		return
	}

	for _, depID := range m.registry.Dependents(isolated.ID) {
		updated, err := m.registry.UpdateModule(depID, func(mod *types.Module) error {
			if mod.State == types.ModuleStateHealthy {
				mod.State = types.ModuleStateDegraded
			}
			return nil
		})
		if err != nil {
			continue
		}

		m.registry.RaiseAlert(depID, types.SeverityCritical,
			fmt.Sprintf("dependency %s isolated; module degraded", isolated.Name))
		if updated.State == types.ModuleStateDegraded {
			m.publish(events.EventModuleDegraded, depID, "dependency isolated")
		}
	}
}

// beginRecovery dispatches a recovery action and moves the module from
// Isolated to Recovering, or to permanent isolation once attempts are
// exhausted.
func (m *Manager) beginRecovery(moduleID string) (*types.Module, error) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return nil, err
	}

	if module.RecoveryAttempts >= m.cfg.MaxAttempts {
		return m.exhaust(moduleID)
	}

	m.markAttempt(moduleID)
	if m.actions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ActionTimeout)
		err := m.actions.RequestRestart(ctx, module)
		cancel()
		if err != nil {
			// The action itself failing still counts as an attempt; the
			// next failed check drives the retry.
			log.WithComponent("recovery").Warn().Err(err).
				Str("module_id", moduleID).
				Msg("Recovery action dispatch failed")
		}
	}

	updated, err := m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		mod.State = types.ModuleStateRecovering
		mod.RecoveryAttempts++
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecoveriesTotal.WithLabelValues("attempted").Inc()
	log.WithComponent("recovery").Info().
		Str("module_id", moduleID).
		Int("attempt", updated.RecoveryAttempts).
		Int("max_attempts", m.cfg.MaxAttempts).
		Msg("Recovery attempt started")
	m.publish(events.EventModuleRecovering, moduleID, "recovery attempt started")

	return updated, nil
}

// retryOrExhaust handles a failed check during recovery
func (m *Manager) retryOrExhaust(moduleID string) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return
	}

	if module.RecoveryAttempts >= m.cfg.MaxAttempts {
		_, _ = m.exhaust(moduleID)
		return
	}

	// Pace retries: a failed check inside the backoff window waits for
	// the next one.
	if m.withinBackoff(moduleID) {
		return
	}

	if _, err := m.beginRecoveryFromRecovering(moduleID); err != nil {
		log.WithComponent("recovery").Error().Err(err).
			Str("module_id", moduleID).
			Msg("Recovery retry failed")
	}
}

// beginRecoveryFromRecovering re-dispatches the recovery action for a
// module already in Recovering.
func (m *Manager) beginRecoveryFromRecovering(moduleID string) (*types.Module, error) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return nil, err
	}

	m.markAttempt(moduleID)
	if m.actions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ActionTimeout)
		err := m.actions.RequestRestart(ctx, module)
		cancel()
		if err != nil {
			log.WithComponent("recovery").Warn().Err(err).
				Str("module_id", moduleID).
				Msg("Recovery action dispatch failed")
		}
	}

	return m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		mod.RecoveryAttempts++
		return nil
	})
}

// exhaust permanently isolates a module whose recovery attempts ran
// out. Requires external intervention; never auto-retried.
func (m *Manager) exhaust(moduleID string) (*types.Module, error) {
	updated, err := m.registry.UpdateModule(moduleID, func(mod *types.Module) error {
		mod.State = types.ModuleStateIsolated
		mod.PermanentlyIsolated = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithComponent("recovery").Error().
		Str("module_id", moduleID).
		Int("attempts", updated.RecoveryAttempts).
		Msg("Recovery exhausted; module permanently isolated")

	metrics.RecoveriesTotal.WithLabelValues("exhausted").Inc()
	m.registry.RaiseAlert(moduleID, types.SeverityCritical,
		fmt.Sprintf("recovery exhausted after %d attempts; manual intervention required", updated.RecoveryAttempts))
	m.publish(events.EventModuleIsolated, moduleID, "recovery exhausted")

	return updated, fmt.Errorf("module %s: %w", moduleID, types.ErrRecoveryExhausted)
}
