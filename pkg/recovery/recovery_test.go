package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/registry"
	"github.com/cortexops/cortex/pkg/storage"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

type recordingActions struct {
	mu       sync.Mutex
	restarts []string
	err      error
}

func (a *recordingActions) RequestRestart(ctx context.Context, module *types.Module) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarts = append(a.restarts, module.ID)
	return a.err
}

func (a *recordingActions) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.restarts)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg, err := registry.New(store, nil)
	require.NoError(t, err)
	return reg
}

func registerModule(t *testing.T, reg *registry.Registry, name string, critical bool) *types.Module {
	t.Helper()
	m, err := reg.RegisterModule(&types.Module{
		Name:                 name,
		URL:                  "http://127.0.0.1:9000",
		Critical:             critical,
		ExpectedResponseTime: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return m
}

func fastConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxAttempts:   3,
		RetryBackoff:  0, // no pacing in tests
		ActionTimeout: time.Second,
	}
}

func state(t *testing.T, reg *registry.Registry, id string) types.ModuleState {
	t.Helper()
	m, err := reg.GetModule(id)
	require.NoError(t, err)
	return m.State
}

func TestFirstFailureDegradesHealthyModule(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	mgr := New(fastConfig(), reg, &recordingActions{}, nil)

	mgr.OnFailedCheck(m.ID, false)
	assert.Equal(t, types.ModuleStateDegraded, state(t, reg, m.ID))
}

func TestIsolationScenario(t *testing.T) {
	// Module A (critical=false) fails 3 consecutive checks with a
	// 3-failure threshold: Healthy→Degraded→Isolated→Recovering, then a
	// successful check brings it back to Healthy.
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	actions := &recordingActions{}
	mgr := New(fastConfig(), reg, actions, nil)

	mgr.OnFailedCheck(m.ID, false) // 1st failure
	assert.Equal(t, types.ModuleStateDegraded, state(t, reg, m.ID))

	mgr.OnFailedCheck(m.ID, false) // 2nd failure, still degraded
	assert.Equal(t, types.ModuleStateDegraded, state(t, reg, m.ID))

	// 3rd failure reaches the threshold; the drift detector requests
	// isolation, and recovery begins immediately.
	mgr.RequestIsolation(m.ID, "failure threshold reached")
	assert.Equal(t, types.ModuleStateRecovering, state(t, reg, m.ID))
	assert.Equal(t, 1, actions.count())

	mgr.OnSuccessfulCheck(m.ID)
	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModuleStateHealthy, got.State)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.Zero(t, got.RecoveryAttempts)
}

func TestCriticalPathFailureIsolatesImmediately(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "core", true)
	mgr := New(fastConfig(), reg, &recordingActions{}, nil)

	mgr.OnFailedCheck(m.ID, true)

	// Isolation then immediate recovery attempt.
	assert.Equal(t, types.ModuleStateRecovering, state(t, reg, m.ID))

	alerts, err := reg.Alerts()
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, types.SeverityCritical, alerts[0].Severity)
}

func TestRecoveryExhaustionPermanentlyIsolates(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	actions := &recordingActions{}
	mgr := New(fastConfig(), reg, actions, nil)

	mgr.RequestIsolation(m.ID, "threshold")
	assert.Equal(t, types.ModuleStateRecovering, state(t, reg, m.ID))

	// Each failed check during recovery consumes an attempt; after the
	// third the module is permanently isolated.
	mgr.OnFailedCheck(m.ID, false) // attempt 2
	mgr.OnFailedCheck(m.ID, false) // attempt 3
	mgr.OnFailedCheck(m.ID, false) // exhausted

	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModuleStateIsolated, got.State)
	assert.True(t, got.PermanentlyIsolated)
	assert.Equal(t, 3, actions.count())

	alerts, err := reg.Alerts()
	require.NoError(t, err)
	last := alerts[len(alerts)-1]
	assert.Equal(t, types.SeverityCritical, last.Severity)

	// Further isolation requests are no-ops.
	mgr.RequestIsolation(m.ID, "again")
	assert.Equal(t, 3, actions.count())
}

func TestCascadeDegradesDependentsOfCriticalModule(t *testing.T) {
	reg := newTestRegistry(t)
	core := registerModule(t, reg, "core", true)

	edgeA, err := reg.RegisterModule(&types.Module{
		Name: "edge-a", URL: "http://127.0.0.1:9001",
		ExpectedResponseTime: 100 * time.Millisecond,
		DependsOn:            []string{core.ID},
	})
	require.NoError(t, err)
	edgeB, err := reg.RegisterModule(&types.Module{
		Name: "edge-b", URL: "http://127.0.0.1:9002",
		ExpectedResponseTime: 100 * time.Millisecond,
		DependsOn:            []string{core.ID},
	})
	require.NoError(t, err)

	mgr := New(fastConfig(), reg, &recordingActions{}, nil)
	mgr.OnFailedCheck(core.ID, true)

	// Dependents degrade, never isolate.
	assert.Equal(t, types.ModuleStateDegraded, state(t, reg, edgeA.ID))
	assert.Equal(t, types.ModuleStateDegraded, state(t, reg, edgeB.ID))

	// Each dependent got an immediate critical alert.
	alerts, err := reg.Alerts()
	require.NoError(t, err)
	criticalForDeps := 0
	for _, a := range alerts {
		if a.Severity == types.SeverityCritical && (a.ModuleID == edgeA.ID || a.ModuleID == edgeB.ID) {
			criticalForDeps++
		}
	}
	assert.Equal(t, 2, criticalForDeps)
}

func TestNonCriticalIsolationNeverCascades(t *testing.T) {
	reg := newTestRegistry(t)
	leaf := registerModule(t, reg, "leaf", false)

	dep, err := reg.RegisterModule(&types.Module{
		Name: "dep", URL: "http://127.0.0.1:9001",
		ExpectedResponseTime: 100 * time.Millisecond,
		DependsOn:            []string{leaf.ID},
	})
	require.NoError(t, err)

	mgr := New(fastConfig(), reg, &recordingActions{}, nil)
	mgr.RequestIsolation(leaf.ID, "threshold")

	assert.Equal(t, types.ModuleStateHealthy, state(t, reg, dep.ID))
}

func TestManualIsolateAndRecover(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	actions := &recordingActions{}
	mgr := New(fastConfig(), reg, actions, nil)

	isolated, err := mgr.Isolate(m.ID, "operator request")
	require.NoError(t, err)
	assert.Equal(t, types.ModuleStateIsolated, isolated.State)
	// Manual isolation does not auto-recover.
	assert.Zero(t, actions.count())

	recovering, err := mgr.Recover(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModuleStateRecovering, recovering.State)
	assert.Equal(t, 1, actions.count())
}

func TestManualRecoverClearsPermanentIsolation(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	mgr := New(fastConfig(), reg, &recordingActions{}, nil)

	mgr.RequestIsolation(m.ID, "threshold")
	mgr.OnFailedCheck(m.ID, false)
	mgr.OnFailedCheck(m.ID, false)
	mgr.OnFailedCheck(m.ID, false)

	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	require.True(t, got.PermanentlyIsolated)

	recovering, err := mgr.Recover(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModuleStateRecovering, recovering.State)
	assert.False(t, recovering.PermanentlyIsolated)
}

func TestRecoverRejectsNonIsolatedModule(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	mgr := New(fastConfig(), reg, &recordingActions{}, nil)

	_, err := mgr.Recover(m.ID)
	assert.Error(t, err)
}

func TestRecoverUnknownModule(t *testing.T) {
	reg := newTestRegistry(t)
	mgr := New(fastConfig(), reg, &recordingActions{}, nil)

	_, err := mgr.Recover("ghost")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestStateAlwaysOneOfFour(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a", false)
	mgr := New(fastConfig(), reg, &recordingActions{}, nil)

	valid := map[types.ModuleState]bool{
		types.ModuleStateHealthy:    true,
		types.ModuleStateDegraded:   true,
		types.ModuleStateIsolated:   true,
		types.ModuleStateRecovering: true,
	}

	steps := []func(){
		func() { mgr.OnFailedCheck(m.ID, false) },
		func() { mgr.RequestIsolation(m.ID, "threshold") },
		func() { mgr.OnFailedCheck(m.ID, false) },
		func() { mgr.OnSuccessfulCheck(m.ID) },
		func() { mgr.OnFailedCheck(m.ID, false) },
	}
	for _, step := range steps {
		step()
		assert.True(t, valid[state(t, reg, m.ID)])
	}
}
