package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/storage"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/google/uuid"
)

// moduleEntry pairs a module record with its own lock. Mutations for a
// given entity are serialized on the entry lock, never on a global
// lock across all entities.
type moduleEntry struct {
	mu     sync.Mutex
	module *types.Module
}

type workerEntry struct {
	mu     sync.Mutex
	worker *types.Worker
}

// Registry is the authoritative mapping of module and worker identity
// to current state. All reads return copies; all writes go through the
// Update* transition methods and are written through to the store.
type Registry struct {
	store  storage.Store
	broker *events.Broker

	mu      sync.RWMutex // guards the maps, not the entries
	modules map[string]*moduleEntry
	byName  map[string]string // active module name -> ID
	workers map[string]*workerEntry
	// dependents holds reverse depends_on edges for cascade handling
	dependents map[string][]string
}

// New creates a registry backed by the given store, loading any
// persisted modules and workers.
func New(store storage.Store, broker *events.Broker) (*Registry, error) {
	r := &Registry{
		store:      store,
		broker:     broker,
		modules:    make(map[string]*moduleEntry),
		byName:     make(map[string]string),
		workers:    make(map[string]*workerEntry),
		dependents: make(map[string][]string),
	}

	modules, err := store.ListModules()
	if err != nil {
		return nil, fmt.Errorf("failed to load modules: %w", err)
	}
	for _, m := range modules {
		r.modules[m.ID] = &moduleEntry{module: m}
		r.byName[m.Name] = m.ID
	}
	r.rebuildDependents()

	workers, err := store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to load workers: %w", err)
	}
	for _, w := range workers {
		r.workers[w.DSN] = &workerEntry{worker: w}
	}

	return r, nil
}

// rebuildDependents recomputes reverse edges. Caller holds r.mu.
func (r *Registry) rebuildDependents() {
	r.dependents = make(map[string][]string)
	for id, e := range r.modules {
		for _, dep := range e.module.DependsOn {
			r.dependents[dep] = append(r.dependents[dep], id)
		}
	}
}

func (r *Registry) publish(eventType events.EventType, msg string, meta map[string]string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		Message:  msg,
		Metadata: meta,
	})
}

// RegisterModule adds a module under a unique active name.
// Returns ErrDuplicateIdentity if the name is already registered.
func (r *Registry) RegisterModule(m *types.Module) (*types.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name]; exists {
		return nil, fmt.Errorf("module %q: %w", m.Name, types.ErrDuplicateIdentity)
	}

	reg := *m
	reg.ID = uuid.New().String()
	reg.State = types.ModuleStateHealthy
	reg.ConsecutiveFailures = 0
	reg.CreatedAt = time.Now()

	if err := r.store.CreateModule(&reg); err != nil {
		return nil, fmt.Errorf("failed to persist module: %w", err)
	}

	r.modules[reg.ID] = &moduleEntry{module: &reg}
	r.byName[reg.Name] = reg.ID
	r.rebuildDependents()

	log.WithComponent("registry").Info().
		Str("module_id", reg.ID).
		Str("name", reg.Name).
		Bool("critical", reg.Critical).
		Msg("Module registered")
	r.publish(events.EventModuleRegistered, reg.Name, map[string]string{"module_id": reg.ID})

	result := reg
	return &result, nil
}

// DeregisterModule removes a module explicitly. Absence from a poll is
// a failure, not a deletion; this is the only removal path.
func (r *Registry) DeregisterModule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.modules[id]
	if !ok {
		return fmt.Errorf("module %s: %w", id, types.ErrNotFound)
	}

	if err := r.store.DeleteModule(id); err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
	}

	delete(r.byName, e.module.Name)
	delete(r.modules, id)
	r.rebuildDependents()

	r.publish(events.EventModuleDeregistered, e.module.Name, map[string]string{"module_id": id})
	return nil
}

// GetModule returns a copy of the module record
func (r *Registry) GetModule(id string) (*types.Module, error) {
	r.mu.RLock()
	e, ok := r.modules[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, types.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m := *e.module
	return &m, nil
}

// GetModuleByName returns a copy of the module record by active name
func (r *Registry) GetModuleByName(name string) (*types.Module, error) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module %q: %w", name, types.ErrNotFound)
	}
	return r.GetModule(id)
}

// ListModules returns copies of all module records
func (r *Registry) ListModules() []*types.Module {
	r.mu.RLock()
	entries := make([]*moduleEntry, 0, len(r.modules))
	for _, e := range r.modules {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	modules := make([]*types.Module, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		m := *e.module
		e.mu.Unlock()
		modules = append(modules, &m)
	}
	return modules
}

// UpdateModule applies fn to the module under its entry lock and writes
// the result through to the store. This is the single mutation path for
// module state; fn returning an error aborts the update.
func (r *Registry) UpdateModule(id string, fn func(*types.Module) error) (*types.Module, error) {
	r.mu.RLock()
	e, ok := r.modules[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, types.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := *e.module
	if err := fn(&updated); err != nil {
		return nil, err
	}
	if err := r.store.UpdateModule(&updated); err != nil {
		return nil, fmt.Errorf("failed to persist module: %w", err)
	}
	e.module = &updated

	result := updated
	return &result, nil
}

// Dependents returns the IDs of modules that declared a dependency on
// the given module.
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps := make([]string, len(r.dependents[id]))
	copy(deps, r.dependents[id])
	return deps
}

// RegisterWorker allocates a fresh DSN and registers the worker as
// Active with zero drift. Retired identities are never reused; every
// registration mints a new incarnation.
func (r *Registry) RegisterWorker(name, templateID, url string) (*types.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := &types.Worker{
		DSN:            fmt.Sprintf("dsn:%s:%s", templateID, uuid.New().String()),
		TemplateID:     templateID,
		Name:           name,
		URL:            url,
		DriftScore:     0,
		PatchesApplied: []string{},
		LifecycleState: types.LifecycleActive,
		CreatedAt:      time.Now(),
	}

	if err := r.store.CreateWorker(w); err != nil {
		return nil, fmt.Errorf("failed to persist worker: %w", err)
	}
	r.workers[w.DSN] = &workerEntry{worker: w}

	log.WithComponent("registry").Info().
		Str("worker_dsn", w.DSN).
		Str("template_id", templateID).
		Msg("Worker registered")
	r.publish(events.EventWorkerRegistered, name, map[string]string{"worker_dsn": w.DSN})

	result := *w
	return &result, nil
}

// GetWorker returns a copy of the worker record
func (r *Registry) GetWorker(dsn string) (*types.Worker, error) {
	r.mu.RLock()
	e, ok := r.workers[dsn]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", dsn, types.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	w := *e.worker
	return &w, nil
}

// ListWorkers returns copies of all worker records, retired included
func (r *Registry) ListWorkers() []*types.Worker {
	r.mu.RLock()
	entries := make([]*workerEntry, 0, len(r.workers))
	for _, e := range r.workers {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	workers := make([]*types.Worker, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		w := *e.worker
		e.mu.Unlock()
		workers = append(workers, &w)
	}
	return workers
}

// ActiveWorkers returns the current broadcast fan-out set
func (r *Registry) ActiveWorkers() []*types.Worker {
	var active []*types.Worker
	for _, w := range r.ListWorkers() {
		if w.LifecycleState == types.LifecycleActive {
			active = append(active, w)
		}
	}
	return active
}

// UpdateWorker applies fn to the worker under its entry lock and writes
// the result through to the store.
func (r *Registry) UpdateWorker(dsn string, fn func(*types.Worker) error) (*types.Worker, error) {
	r.mu.RLock()
	e, ok := r.workers[dsn]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", dsn, types.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := *e.worker
	if err := fn(&updated); err != nil {
		return nil, err
	}
	if err := r.store.UpdateWorker(&updated); err != nil {
		return nil, fmt.Errorf("failed to persist worker: %w", err)
	}
	e.worker = &updated

	result := updated
	return &result, nil
}

// RaiseAlert appends an alert to the log and publishes it. Alerts are
// never mutated after creation.
func (r *Registry) RaiseAlert(moduleID string, severity types.AlertSeverity, reason string) *types.Alert {
	alert := &types.Alert{
		ID:       uuid.New().String(),
		ModuleID: moduleID,
		Severity: severity,
		Reason:   reason,
		RaisedAt: time.Now(),
	}

	if err := r.store.AppendAlert(alert); err != nil {
		log.WithComponent("registry").Error().Err(err).Msg("Failed to persist alert")
	}
	metrics.AlertsTotal.WithLabelValues(string(severity)).Inc()

	logger := log.WithComponent("registry")
	event := logger.Warn()
	if severity == types.SeverityCritical {
		event = logger.Error()
	}
	event.Str("module_id", moduleID).
		Str("severity", string(severity)).
		Msg(reason)

	r.publish(events.EventAlertRaised, reason, map[string]string{
		"module_id": moduleID,
		"severity":  string(severity),
	})
	return alert
}

// Alerts returns the alert log in raise order
func (r *Registry) Alerts() ([]*types.Alert, error) {
	return r.store.ListAlerts()
}

// ModulesMonitored returns the registered module count
func (r *Registry) ModulesMonitored() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// IsolatedCount returns the number of isolated modules
func (r *Registry) IsolatedCount() int {
	count := 0
	for _, m := range r.ListModules() {
		if m.State == types.ModuleStateIsolated {
			count++
		}
	}
	return count
}

// SystemHealth returns the fraction of modules currently healthy.
// An empty registry reports full health.
func (r *Registry) SystemHealth() float64 {
	modules := r.ListModules()
	if len(modules) == 0 {
		return 1.0
	}
	healthy := 0
	for _, m := range modules {
		if m.State == types.ModuleStateHealthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(modules))
}
