package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olehkv/voice-notes-service/internal/config"
	"github.com/olehkv/voice-notes-service/internal/metrics"
	"github.com/olehkv/voice-notes-service/internal/notes"
	"github.com/olehkv/voice-notes-service/internal/session"
	"github.com/olehkv/voice-notes-service/internal/summary"
	"github.com/olehkv/voice-notes-service/internal/transcription"
)

// HTTPServer provides the operator API: session control, note queries,
// monitoring and Prometheus metrics
type HTTPServer struct {
	server        *http.Server
	logger        *slog.Logger
	config        *config.Config
	sessionMgr    *session.Manager
	udpServer     *UDPServer
	noteStore     *notes.Store
	transcription *transcription.Client
	summarization *summary.Client
	metrics       *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	sessionMgr *session.Manager, udpServer *UDPServer, noteStore *notes.Store,
	transcriptionClient *transcription.Client, summaryClient *summary.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:        logger,
		config:        appConfig,
		sessionMgr:    sessionMgr,
		udpServer:     udpServer,
		noteStore:     noteStore,
		transcription: transcriptionClient,
		summarization: summaryClient,
		metrics:       m,
		startTime:     time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control and monitoring
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{channel}", h.handleSessionDetail))

	// Notes query endpoints
	mux.HandleFunc("/notes", h.withMetrics("/notes", h.handleNotes))
	mux.HandleFunc("/notes/", h.withMetrics("/notes/{id}", h.handleNoteDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
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

		if h.metrics != nil {
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
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	udpStats := h.udpServer.GetStatistics()
	transcriptionStats := h.transcription.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-notes-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"status":            "running",
				"packets_received":  udpStats.PacketsReceived,
				"packets_processed": udpStats.PacketsProcessed,
				"parse_errors":      udpStats.ParseErrors,
				"queue_size":        udpStats.QueueSize,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": udpStats.ActiveSessions,
			},
			"transcription": map[string]interface{}{
				"status":          "running",
				"total_requests":  transcriptionStats.TotalRequests,
				"active_requests": transcriptionStats.ActiveRequests,
			},
			"notes": map[string]interface{}{
				"status":      "running",
				"total_notes": h.noteStore.Count(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := h.sessionMgr.GetAllStatuses()

	response := map[string]interface{}{
		"total_sessions": len(statuses),
		"timestamp":      time.Now().UTC(),
		"sessions":       statuses,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// startRequest is the optional body of POST /sessions/{channel}/start
type startRequest struct {
	ChannelName string `json:"channel_name"`
	StartedBy   uint64 `json:"started_by"`
}

// handleSessionDetail implements /sessions/{channel} and the start/stop
// commands beneath it
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "" {
		http.Error(w, "Channel ID required", http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	channel, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, "Invalid channel ID", http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleSessionStatus(w, channel)
	case action == "start" && r.Method == http.MethodPost:
		h.handleSessionStart(w, r, channel)
	case action == "stop" && r.Method == http.MethodPost:
		h.handleSessionStop(w, channel)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleSessionStatus(w http.ResponseWriter, channel uint64) {
	status, err := h.sessionMgr.Status(channel)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request, channel uint64) {
	var req startRequest
	if r.Body != nil {
		// The body is optional, decode errors fall back to defaults
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ChannelName == "" {
		req.ChannelName = fmt.Sprintf("channel %d", channel)
	}

	sess, err := h.sessionMgr.Start(channel, req.ChannelName, req.StartedBy, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyRecording):
			http.Error(w, "Channel is already recording", http.StatusConflict)
		case errors.Is(err, session.ErrTooManySessions):
			http.Error(w, "Too many concurrent sessions", http.StatusServiceUnavailable)
		default:
			http.Error(w, "Failed to start recording", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess.Status())
}

func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, channel uint64) {
	result, err := h.sessionMgr.Stop(channel)
	if err != nil {
		if errors.Is(err, session.ErrNotRecording) {
			http.Error(w, "Channel is not recording", http.StatusConflict)
			return
		}

		h.logger.Error("Failed to stop session",
			slog.Uint64("channel", channel),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to finalize session", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"note_id":        result.Note.ID,
		"summary_state":  result.SummaryState,
		"fragment_count": result.FragmentCount,
		"duration":       result.Duration.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleNotes implements the /notes endpoint
func (h *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var channel uint64
	if raw := r.URL.Query().Get("channel"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid channel", http.StatusBadRequest)
			return
		}
		channel = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	found := h.noteStore.List(channel, limit)

	response := map[string]interface{}{
		"total":     len(found),
		"timestamp": time.Now().UTC(),
		"notes":     found,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleNoteDetail implements the /notes/{id} endpoint
func (h *HTTPServer) handleNoteDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/notes/")
	if idStr == "" {
		http.Error(w, "Note ID required", http.StatusBadRequest)
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid note ID", http.StatusBadRequest)
		return
	}

	note, err := h.noteStore.Get(id)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			http.Error(w, "Note not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load note", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(note)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":                h.config.Server.UDPPort,
			"bind_address":            h.config.Server.BindAddress,
			"buffer_size":             h.config.Server.BufferSize,
			"max_concurrent_sessions": h.config.Server.MaxConcurrentSessions,
		},
		"audio": map[string]interface{}{
			"sample_rate":       h.config.Audio.SampleRate,
			"silence_threshold": h.config.Audio.SilenceThreshold,
			"flush_interval":    h.config.Audio.FlushInterval,
			"feed_timeout":      h.config.Audio.FeedTimeout,
		},
		"transcription": map[string]interface{}{
			"endpoint":           h.config.Transcription.Endpoint,
			"model":              h.config.Transcription.Model,
			"language":           h.config.Transcription.Language,
			"engine_sample_rate": h.config.Transcription.EngineSampleRate,
			"timeout":            h.config.Transcription.Timeout,
			"max_concurrent":     h.config.Transcription.MaxConcurrent,
		},
		"summarization": map[string]interface{}{
			"endpoint":    h.config.Summarization.Endpoint,
			"model":       h.config.Summarization.Model,
			"timeout":     h.config.Summarization.Timeout,
			"max_retries": h.config.Summarization.MaxRetries,
		},
		"store": map[string]interface{}{
			"data_dir":        h.config.Store.DataDir,
			"archive_enabled": h.config.Store.ArchiveEnabled,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpServer.GetStatistics()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"udp": map[string]interface{}{
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
			"queue_capacity":    udpStats.QueueCapacity,
		},
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.GetActiveSessionCount(),
		},
		"transcription": h.transcription.GetStats(),
		"summarization": h.summarization.GetStats(),
		"notes":         h.noteStore.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
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

	apiDoc := map[string]interface{}{
		"service": "Voice Notes Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                              "API documentation",
			"GET /health":                        "Service health check",
			"GET /sessions":                      "List all tracked sessions",
			"GET /sessions/{channel}":            "Get session status for a channel",
			"POST /sessions/{channel}/start":     "Start recording a channel",
			"POST /sessions/{channel}/stop":      "Stop recording and write the note",
			"GET /notes?channel={id}&limit={n}":  "List recent notes",
			"GET /notes/{id}":                    "Get one note with its transcript",
			"GET /config":                        "Get service configuration",
			"GET /stats":                         "Get service statistics",
			"GET /metrics":                       "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
