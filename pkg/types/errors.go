package types

import "errors"

// Sentinel errors for the coordination engine. Callers branch with
// errors.Is; wrapped context is added at the call site with fmt.Errorf.
var (
	// ErrTimeout indicates a health check, pulse dispatch, or broadcast
	// exceeded its deadline. Treated as a failure, never fatal.
	ErrTimeout = errors.New("operation timed out")

	// ErrDuplicateIdentity indicates a registration conflict; the caller
	// must choose a new identity.
	ErrDuplicateIdentity = errors.New("identity already active")

	// ErrStaleAck indicates an acknowledgement for a cycle that is not
	// the currently open pulse. Discarded and logged as drift evidence.
	ErrStaleAck = errors.New("stale sync acknowledgement")

	// ErrRateLimited indicates a broadcast exceeded the token budget.
	// The broadcaster queues the predicate; callers never see a failure.
	ErrRateLimited = errors.New("broadcast rate limited")

	// ErrQueueFull indicates the bounded broadcast queue is saturated.
	ErrQueueFull = errors.New("broadcast queue full")

	// ErrRecoveryExhausted indicates max recovery attempts were reached;
	// the module is permanently isolated pending manual intervention.
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")

	// ErrBelowConfidenceFloor indicates a worker rejected a patch whose
	// confidence is below the applicability floor. Reported, not an error
	// in the pass/fail sense.
	ErrBelowConfidenceFloor = errors.New("predicate below confidence floor")

	// ErrNotFound indicates the requested module or worker is not
	// registered.
	ErrNotFound = errors.New("not found")

	// ErrRetired indicates an operation addressed a retired worker.
	// Retired identities are never reused.
	ErrRetired = errors.New("worker retired")
)
