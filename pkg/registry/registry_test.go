package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/storage"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := New(store, nil)
	require.NoError(t, err)
	return reg
}

func testModule(name string) *types.Module {
	return &types.Module{
		Name:                 name,
		URL:                  "http://127.0.0.1:9000",
		HealthEndpoint:       "/health",
		SyncEndpoint:         "/sync",
		ExpectedResponseTime: 200 * time.Millisecond,
	}
}

func TestRegisterModuleAllocatesIdentity(t *testing.T) {
	reg := newTestRegistry(t)

	m, err := reg.RegisterModule(testModule("vault-gateway"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, types.ModuleStateHealthy, m.State)
	assert.Zero(t, m.ConsecutiveFailures)
}

func TestRegisterModuleRejectsDuplicateName(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.RegisterModule(testModule("vault-gateway"))
	require.NoError(t, err)

	_, err = reg.RegisterModule(testModule("vault-gateway"))
	assert.True(t, errors.Is(err, types.ErrDuplicateIdentity))
}

func TestDeregisterFreesName(t *testing.T) {
	reg := newTestRegistry(t)

	m, err := reg.RegisterModule(testModule("vault-gateway"))
	require.NoError(t, err)

	require.NoError(t, reg.DeregisterModule(m.ID))
	_, err = reg.GetModule(m.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// Name is reusable after explicit deregistration
	_, err = reg.RegisterModule(testModule("vault-gateway"))
	assert.NoError(t, err)
}

func TestUpdateModuleIsSerializedPerEntity(t *testing.T) {
	reg := newTestRegistry(t)

	m, err := reg.RegisterModule(testModule("vault-gateway"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.UpdateModule(m.ID, func(mod *types.Module) error {
				mod.ConsecutiveFailures++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ConsecutiveFailures)
}

func TestUpdateModuleAbortsOnError(t *testing.T) {
	reg := newTestRegistry(t)

	m, err := reg.RegisterModule(testModule("vault-gateway"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = reg.UpdateModule(m.ID, func(mod *types.Module) error {
		mod.State = types.ModuleStateIsolated
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModuleStateHealthy, got.State)
}

func TestDependentsReverseEdges(t *testing.T) {
	reg := newTestRegistry(t)

	core, err := reg.RegisterModule(testModule("core"))
	require.NoError(t, err)

	a := testModule("edge-a")
	a.DependsOn = []string{core.ID}
	ma, err := reg.RegisterModule(a)
	require.NoError(t, err)

	b := testModule("edge-b")
	b.DependsOn = []string{core.ID}
	mb, err := reg.RegisterModule(b)
	require.NoError(t, err)

	deps := reg.Dependents(core.ID)
	assert.ElementsMatch(t, []string{ma.ID, mb.ID}, deps)
	assert.Empty(t, reg.Dependents(ma.ID))
}

func TestRegisterWorkerMintsFreshDSN(t *testing.T) {
	reg := newTestRegistry(t)

	w1, err := reg.RegisterWorker("parser", "tpl-parser", "http://127.0.0.1:9100")
	require.NoError(t, err)
	w2, err := reg.RegisterWorker("parser", "tpl-parser", "http://127.0.0.1:9101")
	require.NoError(t, err)

	assert.NotEqual(t, w1.DSN, w2.DSN)
	assert.Equal(t, types.LifecycleActive, w1.LifecycleState)
	assert.Zero(t, w1.DriftScore)
}

func TestActiveWorkersExcludesRetired(t *testing.T) {
	reg := newTestRegistry(t)

	w1, err := reg.RegisterWorker("parser", "tpl", "http://127.0.0.1:9100")
	require.NoError(t, err)
	_, err = reg.RegisterWorker("ranker", "tpl", "http://127.0.0.1:9101")
	require.NoError(t, err)

	_, err = reg.UpdateWorker(w1.DSN, func(w *types.Worker) error {
		w.LifecycleState = types.LifecycleRetired
		return nil
	})
	require.NoError(t, err)

	active := reg.ActiveWorkers()
	require.Len(t, active, 1)
	assert.Equal(t, "ranker", active[0].Name)
}

func TestAlertsAreAppendOnly(t *testing.T) {
	reg := newTestRegistry(t)

	reg.RaiseAlert("mod-1", types.SeverityWarning, "cycle drift above bound")
	reg.RaiseAlert("mod-1", types.SeverityError, "failure threshold reached")
	reg.RaiseAlert("mod-1", types.SeverityCritical, "recovery exhausted")

	alerts, err := reg.Alerts()
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, types.SeverityCritical, alerts[2].Severity)
}

func TestSystemHealthFractions(t *testing.T) {
	reg := newTestRegistry(t)
	assert.InDelta(t, 1.0, reg.SystemHealth(), 1e-9)

	m1, err := reg.RegisterModule(testModule("a"))
	require.NoError(t, err)
	_, err = reg.RegisterModule(testModule("b"))
	require.NoError(t, err)

	_, err = reg.UpdateModule(m1.ID, func(mod *types.Module) error {
		mod.State = types.ModuleStateIsolated
		return nil
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, reg.SystemHealth(), 1e-9)
	assert.Equal(t, 1, reg.IsolatedCount())
	assert.Equal(t, 2, reg.ModulesMonitored())
}

func TestRegistryReloadsFromStore(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)

	reg, err := New(store, nil)
	require.NoError(t, err)
	m, err := reg.RegisterModule(testModule("persistent"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store2, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer store2.Close()

	reg2, err := New(store2, nil)
	require.NoError(t, err)

	got, err := reg2.GetModule(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Name)
}
