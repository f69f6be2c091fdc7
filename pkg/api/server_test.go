package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexops/cortex/pkg/config"
	"github.com/cortexops/cortex/pkg/engine"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	e, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })

	server := httptest.NewServer(NewServer(e).Handler())
	t.Cleanup(server.Close)
	return server, e
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func registerTestModule(t *testing.T, base, name string) *types.Module {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/v1/modules", map[string]any{
		"name":                   name,
		"url":                    "http://127.0.0.1:9000",
		"health_endpoint":        "/health",
		"sync_endpoint":          "/sync",
		"expected_response_time": 200 * time.Millisecond,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var m types.Module
	require.NoError(t, json.Unmarshal(body, &m))
	return &m
}

func TestRegisterModule(t *testing.T) {
	server, _ := newTestServer(t)

	m := registerTestModule(t, server.URL, "auth")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, types.ModuleStateHealthy, m.State)
}

func TestRegisterModuleDuplicateName(t *testing.T) {
	server, _ := newTestServer(t)
	registerTestModule(t, server.URL, "auth")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/modules", map[string]any{
		"name": "auth",
		"url":  "http://127.0.0.1:9001",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetModuleNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, server.URL+"/v1/modules/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListModules(t *testing.T) {
	server, _ := newTestServer(t)
	registerTestModule(t, server.URL, "auth")
	registerTestModule(t, server.URL, "billing")

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/modules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var modules []*types.Module
	require.NoError(t, json.Unmarshal(body, &modules))
	assert.Len(t, modules, 2)
}

func TestDeregisterModule(t *testing.T) {
	server, _ := newTestServer(t)
	m := registerTestModule(t, server.URL, "auth")

	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/v1/modules/"+m.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/v1/modules/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHeartbeat(t *testing.T) {
	server, _ := newTestServer(t)
	registerTestModule(t, server.URL, "auth")

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/heartbeat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hb types.Heartbeat
	require.NoError(t, json.Unmarshal(body, &hb))
	assert.Equal(t, 1, hb.ModulesMonitored)
	assert.Equal(t, 1.0, hb.SystemHealth)
}

func TestSyncAckNoOpenPulse(t *testing.T) {
	server, _ := newTestServer(t)
	registerTestModule(t, server.URL, "auth")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/sync/ack", map[string]any{
		"module_name":  "auth",
		"cycle_number": 7,
		"timestamp":    time.Now(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSyncAckMatchingPulse(t *testing.T) {
	server, e := newTestServer(t)
	registerTestModule(t, server.URL, "auth")

	e.Clock().Tick() // opens the cycle-1 pulse

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/sync/ack", map[string]any{
		"module_name":  "auth",
		"cycle_number": 1,
		"timestamp":    time.Now(),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncAckUnknownModule(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/sync/ack", map[string]any{
		"module_name":  "ghost",
		"cycle_number": 1,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIsolateAndRecoverModule(t *testing.T) {
	server, _ := newTestServer(t)
	m := registerTestModule(t, server.URL, "auth")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/modules/"+m.ID+"/isolate", map[string]any{
		"reason": "suspected memory leak",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var isolated types.Module
	require.NoError(t, json.Unmarshal(body, &isolated))
	assert.Equal(t, types.ModuleStateIsolated, isolated.State)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/modules/"+m.ID+"/recover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recovering types.Module
	require.NoError(t, json.Unmarshal(body, &recovering))
	assert.Equal(t, types.ModuleStateRecovering, recovering.State)
}

func TestIsolateModuleNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/modules/"+uuid.New().String()+"/isolate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func registerTestWorker(t *testing.T, base string) *types.Worker {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/v1/workers", map[string]any{
		"name":        "specialist",
		"template_id": "tpl-1",
		"url":         "http://127.0.0.1:9100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var w types.Worker
	require.NoError(t, json.Unmarshal(body, &w))
	return &w
}

func TestBroadcastPredicate(t *testing.T) {
	server, _ := newTestServer(t)
	registerTestWorker(t, server.URL)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/predicates", map[string]any{
		"pattern":     "timeout on upstream fetch",
		"response":    "retry with jitter",
		"confidence":  0.9,
		"approved_by": "operator",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result struct {
		Status  string                  `json:"status"`
		Attempt *types.BroadcastAttempt `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "broadcast", result.Status)
	require.NotNil(t, result.Attempt)
	assert.Len(t, result.Attempt.Recipients, 1)
}

func TestBroadcastPredicateQueuedPastBudget(t *testing.T) {
	server, _ := newTestServer(t)
	registerTestWorker(t, server.URL)

	var statuses []int
	for i := 0; i < 15; i++ {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/predicates", map[string]any{
			"pattern":    fmt.Sprintf("pattern-%d", i),
			"response":   "patch",
			"confidence": 0.9,
		})
		statuses = append(statuses, resp.StatusCode)
	}

	dispatched, queued := 0, 0
	for _, code := range statuses {
		switch code {
		case http.StatusOK:
			dispatched++
		case http.StatusAccepted:
			queued++
		}
	}
	assert.Equal(t, 10, dispatched)
	assert.Equal(t, 5, queued)
}

func TestPredicateAttemptAndAck(t *testing.T) {
	server, e := newTestServer(t)
	w := registerTestWorker(t, server.URL)

	predicateID := uuid.New().String()
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/predicates", map[string]any{
		"id":         predicateID,
		"pattern":    "p",
		"response":   "r",
		"confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/predicates/"+predicateID+"/ack", map[string]any{
		"worker_dsn": w.DSN,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack struct {
		Status  string `json:"status"`
		Applied bool   `json:"applied"`
	}
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, "acked", ack.Status)
	assert.True(t, ack.Applied)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/v1/predicates/"+predicateID+"/attempt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var attempt types.BroadcastAttempt
	require.NoError(t, json.Unmarshal(body, &attempt))
	assert.Contains(t, attempt.Acked, w.DSN)
	assert.Empty(t, attempt.Unacked())

	got, err := e.Registry().GetWorker(w.DSN)
	require.NoError(t, err)
	assert.Equal(t, []string{predicateID}, got.PatchesApplied)
}

func TestAttemptNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, server.URL+"/v1/predicates/"+uuid.New().String()+"/attempt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSunsetWorkerExportFailure(t *testing.T) {
	// Default config points the vault at a closed port, so the export
	// fails and retirement stays blocked.
	server, _ := newTestServer(t)
	w := registerTestWorker(t, server.URL)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/workers/"+w.DSN+"/sunset", map[string]any{
		"reason": "drift past sunset watermark",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/workers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var workers []*types.Worker
	require.NoError(t, json.Unmarshal(body, &workers))
	require.Len(t, workers, 1)
	assert.NotEqual(t, types.LifecycleRetired, workers[0].LifecycleState)
}

func TestSunsetWorkerNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/workers/dsn:tpl:missing/sunset", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAlertsEndpoint(t *testing.T) {
	server, e := newTestServer(t)
	m := registerTestModule(t, server.URL, "auth")

	e.Registry().RaiseAlert(m.ID, types.SeverityWarning, "cycle drift above bound")

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/alerts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var alerts []*types.Alert
	require.NoError(t, json.Unmarshal(body, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
}

func TestReportWorkerDrift(t *testing.T) {
	server, _ := newTestServer(t)
	w := registerTestWorker(t, server.URL)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/workers/"+w.DSN+"/drift",
		map[string]any{"score": 0.25})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated types.Worker
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 0.25, updated.DriftScore)
	assert.Equal(t, types.LifecycleSunsetPending, updated.LifecycleState)
}

func TestReportWorkerDriftUnknownWorker(t *testing.T) {
	server, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/workers/dsn:tpl-1:missing/drift",
		map[string]any{"score": 0.5})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
