/*
Package types defines the core data structures used throughout Cortex.

This package contains all fundamental types that represent the coordination
engine's domain model: modules, workers, sync pulses, drift records, alerts,
predicates, and broadcast attempts. Every other package operates on these
types for state management, API communication, and failure-handling policy.

# Architecture

The types package is the foundation of the engine's data model. It defines:

  - Module identity, criticality, and health state
  - The module recovery state machine states
  - Worker identity (DSN), drift score, and lifecycle states
  - Sync pulses and their acknowledgement sets
  - The append-only alert log entry
  - Rolling drift records for modules and workers
  - Immutable predicates and their broadcast attempt records
  - The sentinel error taxonomy

All types are designed to be:
  - Serializable (JSON, for both the API surface and the bbolt store)
  - Immutable where the model requires it (Alert, Predicate)
  - Mutated only through the owning component's transition methods

# State Machines

Module states (owned by the Recovery Manager):

	Healthy → Degraded → Isolated → Recovering → Healthy
	                                          ↘ Isolated (permanent)

Worker lifecycle states (owned by the Lifecycle Manager):

	Active → Drifting → SunsetPending → Retired

A module or worker has exactly one state at a time; transitions are the
only way state changes. A retired worker's DSN is never reused; a new
registration always allocates a fresh identity.

# Invariants

  - SyncPulse: Acked ⊆ Targets, always.
  - Cycle numbers never decrease; no two pulses share a cycle.
  - BroadcastAttempt: retries increment Attempts, never mint a new
    predicate identity.
  - ConsecutiveFailures and DriftScore reset to zero only on an explicit
    successful recovery or heartbeat, never by timeout alone.

# Usage

	module := &types.Module{
		ID:                   uuid.New().String(),
		Name:                 "inference-gateway",
		URL:                  "http://10.0.3.7:8080",
		HealthEndpoint:       "/health",
		Critical:             true,
		ExpectedResponseTime: 250 * time.Millisecond,
		State:                types.ModuleStateHealthy,
	}

	if errors.Is(err, types.ErrDuplicateIdentity) {
		// caller must pick a new name
	}

# See Also

  - pkg/registry: owns the live Module/Worker records
  - pkg/recovery: drives the module state machine
  - pkg/lifecycle: drives the worker lifecycle
*/
package types
