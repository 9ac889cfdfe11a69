package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/api"
	"github.com/tributary-ai/llm-task-router/internal/metrics"
	"github.com/tributary-ai/llm-task-router/internal/middleware"
	"github.com/tributary-ai/llm-task-router/internal/routing"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// UsageReader summarises recorded calls
type UsageReader interface {
	Summary(ctx context.Context, since time.Time) (*types.UsageSummary, error)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                               `yaml:"port"`
	ReadTimeout    time.Duration                        `yaml:"read_timeout"`
	WriteTimeout   time.Duration                        `yaml:"write_timeout"`
	MaxHeaderBytes int                                  `yaml:"max_header_bytes"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
	Validation     *middleware.ValidationConfig         `yaml:"validation"`
}

// Dependencies are the optional collaborators of the HTTP surface
type Dependencies struct {
	Usage   UsageReader
	Metrics *metrics.Metrics
}

// Server exposes the router over HTTP
type Server struct {
	router             *routing.Router
	usage              UsageReader
	metrics            *metrics.Metrics
	doc                *openapi3.T
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	validation         *middleware.ValidationMiddleware
	startedAt          time.Time
}

// NewServer creates a new server instance
func NewServer(router *routing.Router, config *ServerConfig, deps Dependencies, logger *logrus.Logger) (*Server, error) {
	doc, err := api.Load()
	if err != nil {
		return nil, err
	}

	server := &Server{
		router:    router,
		usage:     deps.Usage,
		metrics:   deps.Metrics,
		doc:       doc,
		logger:    logger,
		config:    config,
		startedAt: time.Now(),
	}

	if config.Security != nil {
		securityMiddleware, err := middleware.NewSecurityMiddleware(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		server.securityMiddleware = securityMiddleware
	}

	server.validation, err = middleware.NewValidationMiddleware(config.Validation, doc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting LLM task router server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping LLM task router server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler builds the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
	} else {
		r.Use(middleware.RequestIDMiddleware)
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.validation.Middleware)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/route", s.handleRoute).Methods(http.MethodPost)
	v1.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{kind}", s.handleTask).Methods(http.MethodPost)
	v1.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	v1.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)
	if s.securityMiddleware != nil {
		if tokens := s.securityMiddleware.TokenHandler(); tokens != nil {
			v1.Handle("/auth/token", tokens).Methods(http.MethodPost)
		}
	}

	r.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/docs/openapi.json", s.handleOpenAPISpec).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "not_found_error", fmt.Sprintf("No route for %s %s", r.Method, r.URL.Path))
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"request_id":  middleware.RequestID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// handleRoute runs the full pipeline. Model failures never surface as HTTP
// errors; they come back as a fallback response.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req types.RoutingRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	ctx := routing.WithRequestID(r.Context(), middleware.RequestID(r.Context()))
	writeJSON(w, http.StatusOK, s.router.Route(ctx, req))
}

// handleRoutingDecision returns the local rule engine's decision without
// calling any model
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	var req types.RoutingRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.router.Decide(req))
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if _, ok := routing.Presets[kind]; !ok {
		writeErrorResponse(w, http.StatusNotFound, "not_found_error", fmt.Sprintf("Unknown task %q", kind))
		return
	}

	var req types.TaskRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	ctx := routing.WithRequestID(r.Context(), middleware.RequestID(r.Context()))
	resp, _ := s.router.RunTask(ctx, kind, req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{
		Object: "list",
		Data:   s.router.Engine().Prices().Models(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeErrorResponse(w, http.StatusNotFound, "not_found_error", "Usage ledger is disabled")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_request_error", "since must be an RFC 3339 timestamp")
			return
		}
		since = parsed
	}

	summary, err := s.usage.Summary(r.Context(), since)
	if err != nil {
		s.logger.WithError(err).Error("Usage summary failed")
		writeErrorResponse(w, http.StatusInternalServerError, "api_error", "Failed to read usage")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"ledger_enabled": s.usage != nil,
		"timestamp":      time.Now().Unix(),
	}
	if s.securityMiddleware != nil {
		response["security"] = s.securityMiddleware.GetStats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.doc)
}

type validatable interface {
	Validate() error
}

// decodeRequest decodes the JSON body into dst and validates it. On
// failure it writes a 400 and returns false.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, dst validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("Invalid JSON: %v", err))
		return false
	}

	err := dst.Validate()
	if err == nil {
		return true
	}

	resp := types.NewErrorResponse(http.StatusBadRequest, "invalid_request_error", err.Error())
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		resp.Error.Fields = verr.Fields
	}
	writeJSON(w, http.StatusBadRequest, resp)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, errType, message string) {
	writeJSON(w, statusCode, types.NewErrorResponse(statusCode, errType, message))
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
