package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/health"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/types"
)

// CheckSink receives the classified outcome of each health check.
type CheckSink interface {
	OnSuccessfulCheck(moduleID string)
	OnFailedCheck(moduleID string, criticalPath bool)
}

// EscalationSink receives modules whose consecutive failures crossed
// the configured threshold.
type EscalationSink interface {
	OnFailedChecks(moduleID string, consecutiveFailures int)
}

// ProberFactory builds the probe used for a module. The default factory
// probes the module's health endpoint over HTTP.
type ProberFactory func(m *types.Module) health.Prober

// Monitor runs periodic health-check passes over every registered
// module through a bounded worker pool.
type Monitor struct {
	cfg        config.MonitorConfig
	registry   *registry.Registry
	checks     CheckSink
	escalation EscalationSink
	newProber  ProberFactory
	stopCh     chan struct{}
}

// New creates a new health monitor
func New(cfg config.MonitorConfig, reg *registry.Registry, checks CheckSink, escalation EscalationSink) *Monitor {
	return &Monitor{
		cfg:        cfg,
		registry:   reg,
		checks:     checks,
		escalation: escalation,
		newProber:  defaultProber,
		stopCh:     make(chan struct{}),
	}
}

// SetProberFactory overrides probe construction. Used by tests and by
// modules that expose TCP-only health surfaces.
func (m *Monitor) SetProberFactory(f ProberFactory) {
	m.newProber = f
}

// Start starts the monitor loop
func (m *Monitor) Start() {
	go m.monitorLoop()
}

// Stop stops the monitor loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) monitorLoop() {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.RunPass(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// RunPass checks every monitored module once and blocks until the pass
// completes. One module's failure never aborts the pass for the rest.
func (m *Monitor) RunPass(ctx context.Context) {
	modules := m.registry.ListModules()

	sem := make(chan struct{}, m.cfg.MaxConcurrentChecks)
	var wg sync.WaitGroup

	for _, module := range modules {
		if module.PermanentlyIsolated {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(mod *types.Module) {
			defer wg.Done()
			defer func() { <-sem }()
			m.checkModule(ctx, mod)
		}(module)
	}

	wg.Wait()
}

// CheckModule runs a single on-demand check for one module, outside the
// periodic pass. Used by the control surface.
func (m *Monitor) CheckModule(ctx context.Context, moduleID string) (*health.Result, error) {
	module, err := m.registry.GetModule(moduleID)
	if err != nil {
		return nil, err
	}
	result := m.checkModule(ctx, module)
	return &result, nil
}

func (m *Monitor) checkModule(ctx context.Context, module *types.Module) health.Result {
	logger := log.WithModuleID(module.ID)

	timeout := m.timeoutFor(module)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prober := m.newProber(module)
	result := prober.Check(checkCtx)

	metrics.CheckLatency.Observe(result.Latency.Seconds())

	criticalPath := false
	if module.Critical {
		criticalTimeout := scale(module.ExpectedResponseTime, m.cfg.CriticalTimeoutFactor)
		criticalPath = !result.Healthy || result.Latency > criticalTimeout
	}

	if result.Healthy && !criticalPath {
		metrics.ChecksTotal.WithLabelValues("healthy").Inc()
		m.checks.OnSuccessfulCheck(module.ID)
		return result
	}

	metrics.ChecksTotal.WithLabelValues("unhealthy").Inc()
	logger.Debug().
		Bool("critical_path", criticalPath).
		Dur("latency", result.Latency).
		Str("message", result.Message).
		Msg("Health check failed")

	updated, err := m.registry.UpdateModule(module.ID, func(mod *types.Module) error {
		mod.ConsecutiveFailures++
		return nil
	})
	if err != nil {
		return result
	}

	m.checks.OnFailedCheck(module.ID, criticalPath)

	if updated.ConsecutiveFailures >= m.cfg.FailureThreshold {
		m.escalation.OnFailedChecks(module.ID, updated.ConsecutiveFailures)
	}
	return result
}

// timeoutFor derives the per-module check timeout from its expected
// response time and the configured safety factor.
func (m *Monitor) timeoutFor(module *types.Module) time.Duration {
	return scale(module.ExpectedResponseTime, m.cfg.TimeoutFactor)
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func defaultProber(module *types.Module) health.Prober {
	url := module.HealthEndpoint
	if !strings.HasPrefix(url, "http") {
		url = strings.TrimSuffix(module.URL, "/") + url
	}
	return health.NewHTTPProber(url)
}
