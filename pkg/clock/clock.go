package clock

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/events"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/types"
)

// StatsSource supplies the fleet figures stamped onto each heartbeat
type StatsSource interface {
	SystemHealth() float64
	ModulesMonitored() int
	IsolatedCount() int
}

// AlertSink receives the overload alert when tick delays pile up
type AlertSink interface {
	RaiseAlert(moduleID string, severity types.AlertSeverity, reason string) *types.Alert
}

// Clock owns the monotonically increasing cycle counter and emits a
// heartbeat on a fixed interval. The cycle never decreases and never
// advances more than one step per tick.
type Clock struct {
	cfg    config.ClockConfig
	stats  StatsSource
	alerts AlertSink
	broker *events.Broker

	cycle atomic.Uint64

	// gate reports whether the beacon's previous ack window has closed.
	// While it returns false the tick is delayed, never skipped.
	gate func() bool

	// onTick runs after each cycle advance (the beacon hook)
	onTick func(cycle uint64)

	mu                sync.Mutex
	delayedTicks      uint64
	consecutiveDelays int
	overloadAlerted   bool
	lastTick          time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a heartbeat clock. Stats and alerts may be nil in tests.
func New(cfg config.ClockConfig, stats StatsSource, alerts AlertSink, broker *events.Broker) *Clock {
	return &Clock{
		cfg:    cfg,
		stats:  stats,
		alerts: alerts,
		broker: broker,
		stopCh: make(chan struct{}),
	}
}

// SetGate installs the back-pressure gate consulted before each tick
func (c *Clock) SetGate(gate func() bool) {
	c.gate = gate
}

// SetOnTick installs the per-tick hook
func (c *Clock) SetOnTick(fn func(cycle uint64)) {
	c.onTick = fn
}

// Cycle returns the current cycle number
func (c *Clock) Cycle() uint64 {
	return c.cycle.Load()
}

// DelayedTicks returns how many ticks were delayed by back-pressure.
// Delays are observable, never silently absorbed.
func (c *Clock) DelayedTicks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayedTicks
}

// Tick advances the cycle by exactly 1 and emits the heartbeat
func (c *Clock) Tick() types.Heartbeat {
	cycle := c.cycle.Add(1)

	c.mu.Lock()
	c.lastTick = time.Now()
	c.consecutiveDelays = 0
	c.overloadAlerted = false
	c.mu.Unlock()

	hb := c.Heartbeat()

	if c.broker != nil {
		c.broker.Publish(&events.Event{
			Type:    events.EventHeartbeat,
			Message: "heartbeat",
			Metadata: map[string]string{
				"cycle": strconv.FormatUint(cycle, 10),
			},
		})
	}

	if c.onTick != nil {
		c.onTick(cycle)
	}
	return hb
}

// Heartbeat builds the engine's own pulse for the exposed surface
func (c *Clock) Heartbeat() types.Heartbeat {
	hb := types.Heartbeat{
		Module:    "self",
		Timestamp: time.Now(),
		Cycle:     c.cycle.Load(),
	}
	if c.stats != nil {
		hb.SystemHealth = c.stats.SystemHealth()
		hb.ModulesMonitored = c.stats.ModulesMonitored()
		hb.IsolatedCount = c.stats.IsolatedCount()
	}
	return hb
}

// Start runs the tick loop until Stop
func (c *Clock) Start() {
	go c.run()
}

// Stop halts the tick loop
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Clock) run() {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	// A delayed tick retries on a short poll so it lands as soon as the
	// window closes instead of waiting out a full interval.
	retryInterval := c.cfg.TickInterval / 10
	if retryInterval <= 0 {
		retryInterval = 10 * time.Millisecond
	}
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	pending := false
	for {
		select {
		case <-ticker.C:
			if c.gate != nil && !c.gate() {
				// Each interval spent behind the gate counts as one
				// consecutive delay.
				c.recordDelay()
				pending = true
				continue
			}
			pending = false
			c.Tick()
		case <-retry.C:
			if !pending {
				continue
			}
			if c.gate != nil && !c.gate() {
				continue
			}
			pending = false
			c.Tick()
		case <-c.stopCh:
			return
		}
	}
}

// recordDelay counts a delayed tick interval and raises the overload
// alert once the consecutive-delay bound is reached.
func (c *Clock) recordDelay() {
	c.mu.Lock()
	c.delayedTicks++
	c.consecutiveDelays++
	overload := c.consecutiveDelays >= c.cfg.MaxConsecutiveDelays && !c.overloadAlerted
	if overload {
		c.overloadAlerted = true
	}
	delays := c.consecutiveDelays
	c.mu.Unlock()

	log.WithComponent("clock").Warn().
		Int("consecutive_delays", delays).
		Uint64("cycle", c.cycle.Load()).
		Msg("Tick delayed by open sync window")

	if c.broker != nil {
		c.broker.Publish(&events.Event{
			Type:    events.EventTickDelayed,
			Message: "tick delayed by open sync window",
		})
	}

	if overload && c.alerts != nil {
		c.alerts.RaiseAlert("self", types.SeverityError,
			"sync windows overrunning tick interval; engine overloaded")
	}
}
