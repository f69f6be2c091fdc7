// Package health provides the probes the monitor runs against module
// health endpoints: an HTTP GET probe and a TCP dial probe, both
// reporting latency alongside the verdict. A probe never retries
// inline; classification of failures belongs to the monitor.
package health
