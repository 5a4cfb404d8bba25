package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leetvoice/voice-relay-service/internal/config"
	"github.com/leetvoice/voice-relay-service/internal/metrics"
	"github.com/leetvoice/voice-relay-service/internal/relay"
	"github.com/leetvoice/voice-relay-service/internal/session"
)

// HTTPServer provides the session control plane, the websocket endpoints,
// and monitoring routes.
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	store       *session.Store
	coordinator *relay.Coordinator
	metrics     *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, store *session.Store,
	coordinator *relay.Coordinator, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		store:       store,
		coordinator: coordinator,
		metrics:     m,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
		// No Read/WriteTimeout on the server itself: the websocket routes
		// hold their connections open for the session lifetime.
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", h.withMetrics("/api/sessions", h.handleSessions))
	mux.HandleFunc("/api/sessions/", h.withMetrics("/api/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/ws/client/", h.handleClientWS)
	mux.HandleFunc("/ws/scrape", h.handleScrapeWS)

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// startSessionRequest is the body of POST /api/sessions/{id}/start. Endpoint
// and api_key fall back to the service configuration.
type startSessionRequest struct {
	Endpoint string                  `json:"endpoint,omitempty"`
	Model    string                  `json:"model,omitempty"`
	APIKey   string                  `json:"api_key,omitempty"`
	Context  *session.ProblemContext `json:"context,omitempty"`
}

// evaluateSessionRequest is the body of POST /api/sessions/{id}/evaluate.
type evaluateSessionRequest struct {
	FinalCode string `json:"final_code,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// sessionResponse is the reply to session lifecycle operations.
type sessionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// handleSessions implements POST (create) and GET (list) on /api/sessions.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		id := uuid.New().String()
		if _, err := h.store.Create(id); err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.metrics.SessionsCreated.Inc()
		h.metrics.ActiveSessions.Set(float64(h.store.Count()))

		h.writeJSON(w, http.StatusOK, sessionResponse{
			SessionID: id,
			Status:    string(session.StatusCreated),
			Message:   "Session created successfully",
		})

	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"sessions": h.store.All(),
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionDetail routes /api/sessions/{id} and its start/stop/evaluate
// sub-resources.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGetSession(w, id)
	case action == "start" && r.Method == http.MethodPost:
		h.handleStartSession(w, r, id)
	case action == "stop" && r.Method == http.MethodPost:
		h.handleStopSession(w, id)
	case action == "evaluate" && r.Method == http.MethodPost:
		h.handleEvaluateSession(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleGetSession(w http.ResponseWriter, id string) {
	sess, err := h.store.Get(id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	h.writeJSON(w, http.StatusOK, sess)
}

func (h *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request, id string) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.coordinator.StartSession(r.Context(), id, relay.StartRequest{
		Endpoint: req.Endpoint,
		APIKey:   req.APIKey,
		Model:    req.Model,
		Context:  req.Context,
	})
	if err != nil {
		h.writeStartError(w, id, err)
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse{
		Status:  "started",
		Message: "Voice session started",
	})
}

// writeStartError maps session start failures onto client-visible results
// with the specific failed precondition.
func (h *HTTPServer) writeStartError(w http.ResponseWriter, id string, err error) {
	var cfgErr *relay.ConfigError

	switch {
	case errors.Is(err, session.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Session not found")
	case errors.As(err, &cfgErr):
		h.writeError(w, http.StatusBadRequest, cfgErr.Error())
	default:
		h.logger.Error("Session start failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		h.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *HTTPServer) handleStopSession(w http.ResponseWriter, id string) {
	if err := h.coordinator.StopSession(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.SessionsDeleted.Inc()
	h.metrics.ActiveSessions.Set(float64(h.store.Count()))

	h.writeJSON(w, http.StatusOK, sessionResponse{
		Status:  "stopped",
		Message: "Session stopped successfully",
	})
}

func (h *HTTPServer) handleEvaluateSession(w http.ResponseWriter, r *http.Request, id string) {
	var req evaluateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.coordinator.TriggerEvaluation(r.Context(), id, req.FinalCode, req.Duration)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse{
		Status:  "evaluated",
		Message: "Evaluation triggered",
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "voice-relay-service",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"session_store": map[string]any{
				"status":          "running",
				"active_sessions": h.store.Count(),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Voice Relay Service",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"POST /api/sessions":               "Create a new session",
			"GET /api/sessions":                "List all sessions",
			"GET /api/sessions/{id}":           "Get session information",
			"POST /api/sessions/{id}/start":    "Connect the upstream voice session",
			"POST /api/sessions/{id}/stop":     "Stop and delete the session",
			"POST /api/sessions/{id}/evaluate": "Trigger the end-of-interview evaluation",
			"GET /ws/client/{id}":              "Client channel websocket",
			"GET /ws/scrape":                   "Scrape ingress websocket",
			"GET /health":                      "Service health check",
			"GET /metrics":                     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"detail": message})
}
