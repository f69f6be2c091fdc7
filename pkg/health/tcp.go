package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProber probes a module's TCP surface. Used for modules that expose
// no HTTP health endpoint; a successful connect counts as healthy.
type TCPProber struct {
	// Address is the TCP address to connect to (e.g., "10.0.3.7:6379")
	Address string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPProber creates a new TCP health prober
func NewTCPProber(address string) *TCPProber {
	return &TCPProber{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check performs the TCP health probe
func (t *TCPProber) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{
		Timeout: t.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Latency:   time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Latency:   time.Since(start),
	}
}

// Type returns the probe type
func (t *TCPProber) Type() ProbeType {
	return ProbeTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPProber) WithTimeout(timeout time.Duration) *TCPProber {
	t.Timeout = timeout
	return t
}
