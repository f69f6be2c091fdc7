/*
Package metrics exposes the engine's Prometheus instrumentation and
the operational probe handlers.

Counters and gauges are package-level and registered at init; hot
paths (checks, pulses, broadcasts) update them inline, while the
Collector samples fleet-wide gauges (module/worker counts by state,
system health, cycle, delayed ticks) on a fixed interval.

Handler serves /metrics. HealthHandler, ReadyHandler and
LivenessHandler back /healthz, /readyz and /livez off the component
readiness map maintained via UpdateComponent.
*/
package metrics
