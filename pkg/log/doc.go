/*
Package log provides structured logging for Cortex using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common patterns. All logs include timestamps and
support filtering by severity level.

# Usage

Initializing the logger:

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Simple logging:

	log.Info("Engine started")
	log.Warn("Sync window overran tick interval")
	log.Error("Failed to dispatch pulse")

Structured logging:

	log.Logger.Info().
		Str("module_id", mod.ID).
		Uint64("cycle", cycle).
		Msg("Pulse acknowledged")

Component loggers:

	beaconLog := log.WithComponent("beacon")
	beaconLog.Debug().Uint64("cycle", cycle).Msg("Window closed")

	workerLog := log.WithWorkerDSN(w.DSN)
	workerLog.Info().Msg("Worker entered sunset")

# Log Output Examples

JSON format:

	{"level":"info","component":"beacon","cycle":412,"time":"2026-08-28T10:30:00Z","message":"Pulse acknowledged"}

Console format:

	10:30:00 INF Pulse acknowledged component=beacon cycle=412

# Context Fields

  - WithComponent: subsystem name (clock, beacon, monitor, recovery, ...)
  - WithModuleID: module identity
  - WithWorkerDSN: worker incarnation identity
  - WithPredicateID: predicate identity during broadcast
  - WithCycle: current logical clock cycle

Never log secrets or patch payload contents at info level; predicate
patterns can carry operator-authored text.
*/
package log
