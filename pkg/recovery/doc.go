/*
Package recovery manages module isolation and the bounded recovery
procedure that follows it.

# State Transitions

Failed health checks degrade a module; reaching the failure threshold
(or a drift-detector request, or an operator call) isolates it. An
isolated module is excluded from pulse fan-out and recovers through a
bounded number of restart attempts with backoff between them:

	Healthy ──failed check──► Degraded ──threshold──► Isolated
	                                                      │
	   ┌──────────── restart request dispatched ──────────┘
	   ▼
	Recovering ──successful check──► Healthy
	   │
	   └──attempts exhausted──► PermanentlyIsolated (manual recover only)

Manual isolation never auto-recovers; drift-requested isolation starts
recovery immediately. Exhausting MaxAttempts marks the module
permanently isolated and raises a critical alert; only an operator
Recover call clears that flag.

# Cascade

Isolating a critical module degrades its dependents so their own
health checks decide their fate. A cascade never isolates a dependent
directly, which keeps a single critical failure from being amplified
into fleet-wide isolation.
*/
package recovery
