package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cortexops/cortex/pkg/types"
)

// Dispatcher is the outbound HTTP path to the fleet: sync pulses to
// modules, restart requests to module runtimes, predicates to workers.
// Per-call deadlines come from the caller's context; the embedded
// client timeout is only a backstop.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher creates an outbound dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type pulsePayload struct {
	Cycle     uint64    `json:"cycle"`
	EmittedAt time.Time `json:"emitted_at"`
}

// DispatchPulse delivers one sync pulse to a module's sync endpoint
func (d *Dispatcher) DispatchPulse(ctx context.Context, module *types.Module, cycle uint64, emittedAt time.Time) error {
	url := resolve(module.URL, module.SyncEndpoint)
	return d.post(ctx, url, pulsePayload{Cycle: cycle, EmittedAt: emittedAt})
}

// RequestRestart asks a module's runtime to restart it
func (d *Dispatcher) RequestRestart(ctx context.Context, module *types.Module) error {
	url := strings.TrimSuffix(module.URL, "/") + "/restart"
	return d.post(ctx, url, map[string]string{"module_id": module.ID})
}

// DispatchPredicate delivers one predicate to a worker
func (d *Dispatcher) DispatchPredicate(ctx context.Context, worker *types.Worker, p *types.Predicate) error {
	url := strings.TrimSuffix(worker.URL, "/") + "/predicates"
	return d.post(ctx, url, p)
}

func (d *Dispatcher) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// resolve joins a base URL with an endpoint that may already be
// absolute.
func resolve(base, endpoint string) string {
	if strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	return strings.TrimSuffix(base, "/") + endpoint
}
