package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/habspeaker/habspeaker/internal/audio"
	"github.com/habspeaker/habspeaker/internal/config"
	"github.com/habspeaker/habspeaker/internal/metrics"
	"github.com/habspeaker/habspeaker/internal/protocol"
	"github.com/habspeaker/habspeaker/internal/registry"
	"github.com/habspeaker/habspeaker/internal/sink"
	"github.com/habspeaker/habspeaker/internal/stream"
)

const (
	serviceName    = "habspeaker"
	serviceVersion = "1.0.0"

	// ConfigPath serves the read-only speaker configuration
	ConfigPath = "/rest/habspeaker/config"
)

// HTTPServer exposes the sink to the host, the websocket endpoint to
// speakers, and the monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	sink     *sink.Sink
	registry *registry.Registry
	sessions *stream.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the server and its routes
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, s *sink.Sink, reg *registry.Registry,
	sessions *stream.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		sink:      s,
		registry:  reg,
		sessions:  sessions,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	// Ingest bodies arrive at playback speed, so only headers are bounded.
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.GetReadTimeout(),
		WriteTimeout:      cfg.Server.GetWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	alias := h.config.Web.Alias

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc(ConfigPath, h.withMetrics(ConfigPath, h.handleConfig))

	mux.HandleFunc(alias+"/sink", h.withMetrics("{alias}/sink", h.handleSink))

	// Websocket connections outlive the request; they are accounted for by
	// the client metrics instead.
	mux.HandleFunc(alias+"/ws", h.handleWebSocket)

	if h.config.Web.ResourcesBase != "" {
		mux.Handle(alias+"/", h.withMetrics("{alias}/", newStaticHandler(alias, h.config.Web, h.logger).ServeHTTP))
	}

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
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
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
		slog.String("alias", h.config.Web.Alias),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Websocket connections are hijacked
// and not tracked by Shutdown; close them through the registry.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleSink plays the request body through the sink
func (h *HTTPServer) handleSink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format := formatFromContentType(r.Header.Get("Content-Type"))
	src := sink.NewReaderStream(r.Body, format, r.ContentLength)

	err := h.sink.Process(r.Context(), src)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, sink.ErrUnsupportedAudioFormat), errors.Is(err, sink.ErrUnsupportedAudioStream):
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, sink.ErrSinkStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("Failed to process stream", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// formatFromContentType maps a media type onto the declared stream format.
// Anything but WAV keeps its subtype as container so it is reported and
// rejected by name.
func formatFromContentType(contentType string) audio.Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return audio.Format{Container: "UNKNOWN"}
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return audio.WAV
	}

	_, subtype, _ := strings.Cut(mediaType, "/")
	if subtype == "" {
		subtype = mediaType
	}
	return audio.Format{Container: audio.Container(strings.ToUpper(subtype))}
}

// handleConfig implements the read-only configuration endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.sink.Config()
	writeJSON(w, map[string]interface{}{
		"secure": cfg.Secure,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.sessions.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"sink": map[string]interface{}{
				"id":    h.sink.ID(),
				"label": h.sink.Label(),
			},
			"registry": map[string]interface{}{
				"status":  "running",
				"clients": h.registry.Count(),
			},
			"sessions": map[string]interface{}{
				"status": "running",
				"active": stats.ActiveSessions,
			},
		},
	}

	writeJSON(w, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := h.sessions.GetAllSessions()
	var activeID interface{}
	if len(active) > 0 {
		activeID = active[0].ID
	}

	stats := map[string]interface{}{
		"uptime":         time.Since(h.startTime).String(),
		"timestamp":      time.Now().UTC(),
		"clients":        h.registry.GetAllClients(),
		"sessions":       h.sessions.GetStats(),
		"active_session": activeID,
	}

	writeJSON(w, stats)
}

// handleSessionDetail implements the /sessions/{id} endpoint for the
// session currently playing
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if idStr == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	id, err := protocol.ParseSessionID(idStr)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	session, exists := h.sessions.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, session.GetSessionInfo())
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

	alias := h.config.Web.Alias
	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"GET /health":             "Service health check",
			"GET /stats":              "Clients and session statistics",
			"GET /sessions/{id}":       "Active session details",
			"GET " + ConfigPath:       "Speaker configuration",
			"POST " + alias + "/sink": "Play a WAV body on all speakers",
			"GET " + alias + "/ws":    "Speaker websocket (binary PCM frames)",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
