package beacon

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

type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	err        error
}

func (d *recordingDispatcher) DispatchPulse(ctx context.Context, module *types.Module, cycle uint64, emittedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, module.ID)
	return d.err
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

type recordingDrift struct {
	mu     sync.Mutex
	missed []string
	stale  []string
}

func (d *recordingDrift) OnMissedSync(moduleID string, cycle uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missed = append(d.missed, moduleID)
}

func (d *recordingDrift) OnStaleAck(moduleID string, ackCycle, openCycle uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stale = append(d.stale, moduleID)
}

func (d *recordingDrift) missedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.missed)
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

func registerModule(t *testing.T, reg *registry.Registry, name string) *types.Module {
	t.Helper()
	m, err := reg.RegisterModule(&types.Module{
		Name:                 name,
		URL:                  "http://127.0.0.1:9000",
		SyncEndpoint:         "/sync",
		ExpectedResponseTime: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return m
}

func shortWindowConfig() config.BeaconConfig {
	return config.BeaconConfig{
		AckWindowBase:       40 * time.Millisecond,
		AckWindowMultiplier: 1.0,
		DispatchTimeout:     20 * time.Millisecond,
	}
}

func TestBroadcastTargetsAllModules(t *testing.T) {
	reg := newTestRegistry(t)
	registerModule(t, reg, "a")
	registerModule(t, reg, "b")
	registerModule(t, reg, "c")

	dispatcher := &recordingDispatcher{}
	b := New(shortWindowConfig(), reg, dispatcher, nil, nil)
	defer b.Stop()

	b.BroadcastPulse(1)

	assert.Equal(t, 3, dispatcher.count())
	pulse := b.CurrentPulse()
	require.NotNil(t, pulse)
	assert.Equal(t, uint64(1), pulse.Cycle)
	assert.Len(t, pulse.Targets, 3)
}

func TestAcknowledgeMatchingCycle(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a")

	b := New(shortWindowConfig(), reg, &recordingDispatcher{}, nil, nil)
	defer b.Stop()

	b.BroadcastPulse(7)
	require.NoError(t, b.Acknowledge("a", 7))

	pulse := b.CurrentPulse()
	assert.Contains(t, pulse.Acked, m.ID)

	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.LastCycleAcked)
	assert.False(t, got.LastHeartbeat.IsZero())
}

func TestStaleAckDiscardedAndReported(t *testing.T) {
	reg := newTestRegistry(t)
	m := registerModule(t, reg, "a")

	drift := &recordingDrift{}
	b := New(shortWindowConfig(), reg, &recordingDispatcher{}, drift, nil)
	defer b.Stop()

	b.BroadcastPulse(5)

	err := b.Acknowledge("a", 4)
	assert.True(t, errors.Is(err, types.ErrStaleAck))

	// The stale ack must not count toward the open pulse.
	pulse := b.CurrentPulse()
	assert.NotContains(t, pulse.Acked, m.ID)

	drift.mu.Lock()
	assert.Equal(t, []string{m.ID}, drift.stale)
	drift.mu.Unlock()

	// Module state untouched by the stale ack.
	got, err := reg.GetModule(m.ID)
	require.NoError(t, err)
	assert.Zero(t, got.LastCycleAcked)
}

func TestWindowCloseReportsMissedTargets(t *testing.T) {
	reg := newTestRegistry(t)
	ma := registerModule(t, reg, "a")
	registerModule(t, reg, "b")

	drift := &recordingDrift{}
	b := New(shortWindowConfig(), reg, &recordingDispatcher{}, drift, nil)
	defer b.Stop()

	b.BroadcastPulse(3)
	require.NoError(t, b.Acknowledge("b", 3))

	require.Eventually(t, func() bool { return drift.missedCount() == 1 },
		time.Second, 5*time.Millisecond)

	drift.mu.Lock()
	assert.Equal(t, []string{ma.ID}, drift.missed)
	drift.mu.Unlock()
}

func TestAckedSubsetOfTargets(t *testing.T) {
	reg := newTestRegistry(t)
	registerModule(t, reg, "a")

	b := New(shortWindowConfig(), reg, &recordingDispatcher{}, nil, nil)
	defer b.Stop()

	b.BroadcastPulse(1)
	require.NoError(t, b.Acknowledge("a", 1))

	// A module registered after the pulse opened is not a target and its
	// ack must be rejected, keeping acked ⊆ targets.
	registerModule(t, reg, "late")
	err := b.Acknowledge("late", 1)
	assert.True(t, errors.Is(err, types.ErrStaleAck))

	pulse := b.CurrentPulse()
	for id := range pulse.Acked {
		assert.Contains(t, pulse.Targets, id)
	}
}

func TestWindowGateForClock(t *testing.T) {
	reg := newTestRegistry(t)
	registerModule(t, reg, "a")

	b := New(shortWindowConfig(), reg, &recordingDispatcher{}, nil, nil)
	defer b.Stop()

	assert.True(t, b.WindowClosed())

	b.BroadcastPulse(1)
	assert.False(t, b.WindowClosed())

	require.Eventually(t, b.WindowClosed, time.Second, 5*time.Millisecond)
}

func TestSecondPulseWhileWindowOpenIsDropped(t *testing.T) {
	reg := newTestRegistry(t)
	registerModule(t, reg, "a")

	dispatcher := &recordingDispatcher{}
	b := New(shortWindowConfig(), reg, dispatcher, nil, nil)
	defer b.Stop()

	b.BroadcastPulse(1)
	b.BroadcastPulse(2) // window still open; must not supersede

	pulse := b.CurrentPulse()
	assert.Equal(t, uint64(1), pulse.Cycle)
}

func TestAckUnknownModule(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(shortWindowConfig(), reg, &recordingDispatcher{}, nil, nil)
	defer b.Stop()

	err := b.Acknowledge("ghost", 1)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
