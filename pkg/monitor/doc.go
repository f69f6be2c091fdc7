// Package monitor runs periodic health-check passes over registered
// modules.
//
// Each pass fans out through a bounded worker pool. A module's check
// timeout derives from its declared expected response time multiplied
// by a safety factor; critical modules additionally carry a stricter
// critical-path deadline, and blowing it counts as a failure even when
// the probe itself succeeds. Outcomes are classified and forwarded:
// successes to the recovery manager (which resets failure counters),
// failures to the recovery manager for state transitions, and
// threshold crossings to the drift detector as isolation candidates.
//
// A failing or hanging module never aborts the pass for the others;
// every check runs under its own context deadline.
package monitor
