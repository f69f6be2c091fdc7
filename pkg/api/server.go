package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexops/cortex/pkg/engine"
	"github.com/cortexops/cortex/pkg/log"
	"github.com/cortexops/cortex/pkg/metrics"
	"github.com/cortexops/cortex/pkg/types"
	"github.com/google/uuid"
)

// Server is the HTTP JSON control surface over the engine
type Server struct {
	engine *engine.Engine
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates the control-surface server
func NewServer(e *engine.Engine) *Server {
	s := &Server{
		engine: e,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/modules", s.registerModule)
	s.mux.HandleFunc("GET /v1/modules", s.listModules)
	s.mux.HandleFunc("GET /v1/modules/{id}", s.getModule)
	s.mux.HandleFunc("DELETE /v1/modules/{id}", s.deregisterModule)
	s.mux.HandleFunc("POST /v1/modules/{id}/check", s.checkModule)
	s.mux.HandleFunc("POST /v1/modules/{id}/isolate", s.isolateModule)
	s.mux.HandleFunc("POST /v1/modules/{id}/recover", s.recoverModule)

	s.mux.HandleFunc("GET /v1/heartbeat", s.heartbeat)
	s.mux.HandleFunc("POST /v1/sync/ack", s.syncAck)

	s.mux.HandleFunc("POST /v1/workers", s.registerWorker)
	s.mux.HandleFunc("GET /v1/workers", s.listWorkers)
	s.mux.HandleFunc("POST /v1/workers/{dsn}/sunset", s.sunsetWorker)
	s.mux.HandleFunc("POST /v1/workers/{dsn}/drift", s.reportWorkerDrift)

	s.mux.HandleFunc("POST /v1/predicates", s.broadcastPredicate)
	s.mux.HandleFunc("POST /v1/predicates/{id}/retry", s.retryPredicate)
	s.mux.HandleFunc("POST /v1/predicates/{id}/ack", s.ackPredicate)
	s.mux.HandleFunc("GET /v1/predicates/{id}/attempt", s.getAttempt)

	s.mux.HandleFunc("GET /v1/alerts", s.listAlerts)
	s.mux.HandleFunc("GET /v1/events", s.streamEvents)

	return s
}

// Start serves the control surface on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.logRequests(s.mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // the event stream holds connections open
		IdleTimeout:  60 * time.Second,
	}

	log.WithComponent("api").Info().Str("addr", addr).Msg("Control surface listening")
	metrics.UpdateComponent("api", true, "")

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

type registerModuleRequest struct {
	Name                 string        `json:"name"`
	URL                  string        `json:"url"`
	HealthEndpoint       string        `json:"health_endpoint"`
	SyncEndpoint         string        `json:"sync_endpoint"`
	Critical             bool          `json:"critical"`
	ExpectedResponseTime time.Duration `json:"expected_response_time"`
	DependsOn            []string      `json:"depends_on"`
}

func (s *Server) registerModule(w http.ResponseWriter, r *http.Request) {
	var req registerModuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("name and url are required"))
		return
	}

	module, err := s.engine.Registry().RegisterModule(&types.Module{
		Name:                 req.Name,
		URL:                  req.URL,
		HealthEndpoint:       req.HealthEndpoint,
		SyncEndpoint:         req.SyncEndpoint,
		Critical:             req.Critical,
		ExpectedResponseTime: req.ExpectedResponseTime,
		DependsOn:            req.DependsOn,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, module)
}

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Registry().ListModules())
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	module, err := s.engine.Registry().GetModule(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, module)
}

func (s *Server) deregisterModule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Registry().DeregisterModule(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkModule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.engine.Monitor().CheckModule(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	module, err := s.engine.Registry().GetModule(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, module)
}

func (s *Server) isolateModule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	module, err := s.engine.Recovery().Isolate(r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, module)
}

func (s *Server) recoverModule(w http.ResponseWriter, r *http.Request) {
	module, err := s.engine.Recovery().Recover(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, module)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Clock().Heartbeat())
}

type ackRequest struct {
	ModuleName string    `json:"module_name"`
	Cycle      uint64    `json:"cycle_number"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *Server) syncAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.engine.Beacon().Acknowledge(req.ModuleName, req.Cycle); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

type registerWorkerRequest struct {
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
	URL        string `json:"url"`
}

func (s *Server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, errors.New("template_id is required"))
		return
	}

	worker, err := s.engine.Registry().RegisterWorker(req.Name, req.TemplateID, req.URL)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Registry().ListWorkers())
}

func (s *Server) sunsetWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	result, err := s.engine.Lifecycle().Sunset(r.Context(), r.PathValue("dsn"), req.Reason)
	if err != nil {
		if result != nil && !result.PatternsExported {
			// Export failed; retirement blocked, worker untouched.
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) reportWorkerDrift(w http.ResponseWriter, r *http.Request) {
	dsn := r.PathValue("dsn")
	var req struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if _, err := s.engine.Registry().GetWorker(dsn); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.engine.Drift().SetWorkerScore(dsn, req.Score)

	worker, err := s.engine.Registry().GetWorker(dsn)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) broadcastPredicate(w http.ResponseWriter, r *http.Request) {
	var p types.Predicate
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	attempt, err := s.engine.Broadcaster().Broadcast(&p)
	switch {
	case errors.Is(err, types.ErrRateLimited):
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "attempt": attempt})
	case errors.Is(err, types.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err)
	case err != nil:
		writeError(w, statusFor(err), err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "broadcast", "attempt": attempt})
	}
}

func (s *Server) retryPredicate(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.Broadcaster().Retry(r.PathValue("id"))
	if errors.Is(err, types.ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) ackPredicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerDSN string `json:"worker_dsn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	applied, err := s.engine.Broadcaster().RecordAck(r.PathValue("id"), req.WorkerDSN)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "acked", "applied": applied})
}

func (s *Server) getAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.engine.Broadcaster().Attempt(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.engine.Registry().Alerts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// streamEvents writes engine events as line-delimited JSON until the
// client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub := s.engine.Broker().Subscribe()
	defer s.engine.Broker().Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps engine error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrDuplicateIdentity):
		return http.StatusConflict
	case errors.Is(err, types.ErrStaleAck):
		return http.StatusConflict
	case errors.Is(err, types.ErrRetired):
		return http.StatusConflict
	case errors.Is(err, types.ErrRecoveryExhausted):
		return http.StatusConflict
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
