package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexops/cortex/pkg/types"
)

// Export is the payload shipped to the pattern vault when a worker is
// sunset. The vault preserves learned behavior; the worker record
// itself stays in the engine's own store.
type Export struct {
	WorkerDSN      string    `json:"worker_dsn"`
	TemplateID     string    `json:"template_id"`
	DriftScore     float64   `json:"drift_score"`
	PatchesApplied []string  `json:"patches_applied"`
	Reason         string    `json:"reason"`
	ExportedAt     time.Time `json:"exported_at"`
}

// Exporter ships a retiring worker's learned patterns to the vault.
// Retirement is gated on a successful export.
type Exporter interface {
	ExportPatterns(ctx context.Context, w *types.Worker, reason string) error
}

// HTTPExporter posts exports to an external pattern-vault service
type HTTPExporter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExporter creates an exporter for the vault at baseURL
func NewHTTPExporter(baseURL string) *HTTPExporter {
	return &HTTPExporter{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ExportPatterns posts the worker's learned patterns to the vault
func (e *HTTPExporter) ExportPatterns(ctx context.Context, w *types.Worker, reason string) error {
	payload := Export{
		WorkerDSN:      w.DSN,
		TemplateID:     w.TemplateID,
		DriftScore:     w.DriftScore,
		PatchesApplied: w.PatchesApplied,
		Reason:         reason,
		ExportedAt:     time.Now(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/patterns", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to export patterns for %s: %w", w.DSN, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vault rejected export for %s: status %d", w.DSN, resp.StatusCode)
	}
	return nil
}
