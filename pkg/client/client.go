package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cortexops/cortex/pkg/types"
)

// Client is the control-plane client used by the CLI
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the engine at addr
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// RegisterModuleRequest is the module registration payload
type RegisterModuleRequest struct {
	Name                 string        `json:"name"`
	URL                  string        `json:"url"`
	HealthEndpoint       string        `json:"health_endpoint"`
	SyncEndpoint         string        `json:"sync_endpoint"`
	Critical             bool          `json:"critical"`
	ExpectedResponseTime time.Duration `json:"expected_response_time"`
	DependsOn            []string      `json:"depends_on,omitempty"`
}

// AckRequest acknowledges a sync pulse
type AckRequest struct {
	ModuleName string    `json:"module_name"`
	Cycle      uint64    `json:"cycle_number"`
	Timestamp  time.Time `json:"timestamp"`
}

// BroadcastResponse reports how a predicate submission was handled
type BroadcastResponse struct {
	Status  string                  `json:"status"`
	Attempt *types.BroadcastAttempt `json:"attempt"`
}

// SunsetRequest starts a worker's sunset procedure
type SunsetRequest struct {
	Reason string `json:"reason"`
}

// SunsetResponse reports the sunset outcome
type SunsetResponse struct {
	Status           types.LifecycleState `json:"status"`
	PatternsExported bool                 `json:"patterns_exported"`
	PatchesApplied   []string             `json:"patches_applied"`
}

// RegisterWorkerRequest is the worker registration payload
type RegisterWorkerRequest struct {
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
	URL        string `json:"url"`
}

// Heartbeat returns the engine's own pulse
func (c *Client) Heartbeat(ctx context.Context) (*types.Heartbeat, error) {
	var hb types.Heartbeat
	if err := c.do(ctx, http.MethodGet, "/v1/heartbeat", nil, &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}

// RegisterModule registers a module for coordination
func (c *Client) RegisterModule(ctx context.Context, req *RegisterModuleRequest) (*types.Module, error) {
	var m types.Module
	if err := c.do(ctx, http.MethodPost, "/v1/modules", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeregisterModule removes a module from coordination
func (c *Client) DeregisterModule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/modules/"+id, nil, nil)
}

// ListModules returns every registered module
func (c *Client) ListModules(ctx context.Context) ([]*types.Module, error) {
	var modules []*types.Module
	if err := c.do(ctx, http.MethodGet, "/v1/modules", nil, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// GetModule returns one module
func (c *Client) GetModule(ctx context.Context, id string) (*types.Module, error) {
	var m types.Module
	if err := c.do(ctx, http.MethodGet, "/v1/modules/"+id, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Acknowledge acks the open sync pulse for a module
func (c *Client) Acknowledge(ctx context.Context, moduleName string, cycle uint64) error {
	req := &AckRequest{ModuleName: moduleName, Cycle: cycle, Timestamp: time.Now()}
	return c.do(ctx, http.MethodPost, "/v1/sync/ack", req, nil)
}

// CheckModule runs an on-demand health check
func (c *Client) CheckModule(ctx context.Context, id string) (*types.Module, error) {
	var m types.Module
	if err := c.do(ctx, http.MethodPost, "/v1/modules/"+id+"/check", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// IsolateModule manually isolates a module
func (c *Client) IsolateModule(ctx context.Context, id, reason string) (*types.Module, error) {
	var m types.Module
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/v1/modules/"+id+"/isolate", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecoverModule manually starts recovery for an isolated module
func (c *Client) RecoverModule(ctx context.Context, id string) (*types.Module, error) {
	var m types.Module
	if err := c.do(ctx, http.MethodPost, "/v1/modules/"+id+"/recover", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RegisterWorker registers a new worker incarnation
func (c *Client) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*types.Worker, error) {
	var w types.Worker
	if err := c.do(ctx, http.MethodPost, "/v1/workers", req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns every worker record, retired included
func (c *Client) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	var workers []*types.Worker
	if err := c.do(ctx, http.MethodGet, "/v1/workers", nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// ReportWorkerDrift installs an externally computed drift score on a
// worker and returns the updated record.
func (c *Client) ReportWorkerDrift(ctx context.Context, dsn string, score float64) (*types.Worker, error) {
	var w types.Worker
	body := map[string]float64{"score": score}
	if err := c.do(ctx, http.MethodPost, "/v1/workers/"+dsn+"/drift", body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// SunsetWorker retires a worker after its patterns export
func (c *Client) SunsetWorker(ctx context.Context, dsn, reason string) (*SunsetResponse, error) {
	var resp SunsetResponse
	req := &SunsetRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, "/v1/workers/"+dsn+"/sunset", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BroadcastPredicate submits a predicate for fleet-wide broadcast
func (c *Client) BroadcastPredicate(ctx context.Context, p *types.Predicate) (*BroadcastResponse, error) {
	var resp BroadcastResponse
	if err := c.do(ctx, http.MethodPost, "/v1/predicates", p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryPredicate re-dispatches a predicate to unacked recipients
func (c *Client) RetryPredicate(ctx context.Context, id string) (*types.BroadcastAttempt, error) {
	var attempt types.BroadcastAttempt
	if err := c.do(ctx, http.MethodPost, "/v1/predicates/"+id+"/retry", nil, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// GetAttempt returns the broadcast attempt record for a predicate
func (c *Client) GetAttempt(ctx context.Context, id string) (*types.BroadcastAttempt, error) {
	var attempt types.BroadcastAttempt
	if err := c.do(ctx, http.MethodGet, "/v1/predicates/"+id+"/attempt", nil, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// Alerts returns the alert log in raise order
func (c *Client) Alerts(ctx context.Context) ([]*types.Alert, error) {
	var alerts []*types.Alert
	if err := c.do(ctx, http.MethodGet, "/v1/alerts", nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
