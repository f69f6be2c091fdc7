package lifecycle

import (
	"context"
	"errors"
	"testing"

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

type fakeVault struct {
	exports []string
	fail    bool
}

func (v *fakeVault) ExportPatterns(ctx context.Context, w *types.Worker, reason string) error {
	if v.fail {
		return errors.New("vault unavailable")
	}
	v.exports = append(v.exports, w.DSN)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *fakeVault) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := registry.New(store, nil)
	require.NoError(t, err)

	cfg := config.DriftConfig{
		ModuleWarnCycles:    2,
		ModuleErrorCycles:   5,
		WorkerDriftingScore: 0.10,
		WorkerSunsetScore:   0.22,
	}
	v := &fakeVault{}
	return New(cfg, 0.6, reg, v, nil), reg, v
}

func spawnWorker(t *testing.T, reg *registry.Registry) *types.Worker {
	t.Helper()
	w, err := reg.RegisterWorker("specialist", "tpl-1", "http://127.0.0.1:9100")
	require.NoError(t, err)
	return w
}

func TestOnDriftScoreTransitions(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  types.LifecycleState
	}{
		{"below low watermark stays active", 0.05, types.LifecycleActive},
		{"at low watermark stays active", 0.10, types.LifecycleActive},
		{"above low watermark drifts", 0.11, types.LifecycleDrifting},
		{"at sunset watermark pends", 0.22, types.LifecycleSunsetPending},
		{"above sunset watermark pends", 0.25, types.LifecycleSunsetPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, reg, _ := newTestManager(t)
			w := spawnWorker(t, reg)

			mgr.OnDriftScore(w.DSN, tt.score)

			got, err := reg.GetWorker(w.DSN)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.LifecycleState)
		})
	}
}

func TestOnDriftScoreNeverMovesBackward(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	w := spawnWorker(t, reg)

	mgr.OnDriftScore(w.DSN, 0.25)
	mgr.OnDriftScore(w.DSN, 0.01)

	got, err := reg.GetWorker(w.DSN)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleSunsetPending, got.LifecycleState)
}

func TestSunsetExportsThenRetires(t *testing.T) {
	mgr, reg, v := newTestManager(t)
	w := spawnWorker(t, reg)
	mgr.OnDriftScore(w.DSN, 0.25)

	result, err := mgr.Sunset(context.Background(), w.DSN, "drift past sunset watermark")
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleRetired, result.Status)
	assert.True(t, result.PatternsExported)
	assert.Equal(t, []string{w.DSN}, v.exports)

	got, err := reg.GetWorker(w.DSN)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleRetired, got.LifecycleState)
	assert.False(t, got.RetiredAt.IsZero())
}

func TestSunsetBlockedByFailedExport(t *testing.T) {
	mgr, reg, v := newTestManager(t)
	v.fail = true
	w := spawnWorker(t, reg)

	result, err := mgr.Sunset(context.Background(), w.DSN, "manual")
	require.Error(t, err)
	assert.False(t, result.PatternsExported)

	got, err := reg.GetWorker(w.DSN)
	require.NoError(t, err)
	assert.NotEqual(t, types.LifecycleRetired, got.LifecycleState)
}

func TestSunsetRetiredWorkerRejected(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	w := spawnWorker(t, reg)

	_, err := mgr.Sunset(context.Background(), w.DSN, "first")
	require.NoError(t, err)

	_, err = mgr.Sunset(context.Background(), w.DSN, "second")
	assert.ErrorIs(t, err, types.ErrRetired)
}

func TestSunsetUnknownWorker(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Sunset(context.Background(), "dsn:tpl-1:missing", "manual")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApplyPatchIdempotent(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	w := spawnWorker(t, reg)

	p := &types.Predicate{ID: "pred-1", Confidence: 0.9}

	applied, err := mgr.ApplyPatch(w.DSN, p)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = mgr.ApplyPatch(w.DSN, p)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := reg.GetWorker(w.DSN)
	require.NoError(t, err)
	assert.Equal(t, []string{"pred-1"}, got.PatchesApplied)
}

func TestApplyPatchBelowConfidenceFloor(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	w := spawnWorker(t, reg)

	applied, err := mgr.ApplyPatch(w.DSN, &types.Predicate{ID: "pred-low", Confidence: 0.4})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := reg.GetWorker(w.DSN)
	require.NoError(t, err)
	assert.Empty(t, got.PatchesApplied)
}

func TestApplyPatchRetiredWorker(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	w := spawnWorker(t, reg)

	_, err := mgr.Sunset(context.Background(), w.DSN, "manual")
	require.NoError(t, err)

	_, err = mgr.ApplyPatch(w.DSN, &types.Predicate{ID: "pred-1", Confidence: 0.9})
	assert.ErrorIs(t, err, types.ErrRetired)
}
