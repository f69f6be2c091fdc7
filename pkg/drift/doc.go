/*
Package drift accumulates desynchronization evidence for modules and
workers and decides when it warrants action.

Module drift is measured in cycles between the clock's current cycle
and the last cycle a module acknowledged. Crossing the warn threshold
raises a warning alert; crossing the error threshold requests
isolation through the IsolationSink. Missed syncs and stale acks feed
the same rolling record, and the latest record for a subject
supersedes the previous one.

Worker drift is an opaque score in [0, 1]. SetWorkerScore installs a
reported score directly; AddWorkerSignal applies weighted increments
for missed syncs and failed checks. Updated scores flow to the
LifecycleSink, which owns the Active/Drifting/SunsetPending
transitions.
*/
package drift
