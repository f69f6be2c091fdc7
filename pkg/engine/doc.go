// Package engine wires the coordination loops together: clock, beacon,
// monitor, drift detector, recovery manager, worker lifecycle and
// predicate broadcaster, all sharing one registry and one event broker.
package engine
