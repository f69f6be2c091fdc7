/*
Package beacon implements the sync beacon: the pulse fan-out that keeps
registered modules aligned on the clock's cycle.

On each tick the beacon dispatches the cycle number to every
non-isolated module's sync endpoint and opens an acknowledgement
window of AckWindowBase × AckWindowMultiplier. Acknowledge accepts an
ack only for the currently open pulse from a module that was actually
targeted; anything else is ErrStaleAck and is handed to the drift
detector as evidence rather than applied.

When the window closes, modules that never acked are reported as
missed syncs. WindowClosed doubles as the clock's back-pressure gate:
the next tick cannot advance while a window is still open.
*/
package beacon
