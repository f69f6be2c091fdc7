package health

import (
	"context"
	"time"
)

// ProbeType represents the type of health probe
type ProbeType string

const (
	ProbeTypeHTTP ProbeType = "http"
	ProbeTypeTCP  ProbeType = "tcp"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	// Latency is the measured round-trip time of the probe
	Latency time.Duration
}

// Prober is the interface all health probes implement
type Prober interface {
	// Check performs the probe and returns the result. The context
	// deadline is the check's cancellation point; an expired deadline is
	// reported as an unhealthy result, never retried inline.
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() ProbeType
}
