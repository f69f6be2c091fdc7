/*
Package clock implements the heartbeat clock, the single source of
logical time for the coordination engine.

The clock advances a monotonic cycle counter on a fixed interval and
drives the rest of the engine through two hooks: a gate consulted
before each advance, and a tick callback run synchronously after it.

# Tick Cycle

	┌─────────────────────────────────────────────┐
	│                 Ticker fires                │
	└──────────────────┬──────────────────────────┘
	                   │
	                   ▼
	         gate() returns true? ──── no ──► delay tick, count it,
	                   │                      retry on a short ticker
	                  yes                     (the cycle is never
	                   │                      skipped, only late)
	                   ▼
	         cycle = cycle + 1
	         onTick(cycle)   // synchronous

The gate is wired to the sync beacon's ack window: a new pulse never
opens while the previous window is still accepting acknowledgements.
Consecutive delayed ticks past the configured threshold raise a
critical alert through the AlertSink.

# Heartbeat Surface

Heartbeat() snapshots the clock's view of the system for the
/v1/heartbeat endpoint: current cycle, aggregate system health, number
of monitored modules, and isolated count, all read through the
StatsSource interface so the clock carries no registry dependency.

Tick() advances the clock by exactly one step and runs the tick hook;
the gate applies only to the background loop, so single-stepping in
tests is never blocked by an open window.
*/
package clock
