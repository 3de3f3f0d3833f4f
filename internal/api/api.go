// Package api implements the Intake & Session API (C13): the HTTP
// surface over the Pipeline Runtime, exposing a synchronous query
// endpoint, a streaming endpoint (SSE, or WebSocket on request), and a
// health check.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/knoguchi/agentic-rag/internal/eventstream"
	"github.com/knoguchi/agentic-rag/internal/pipeline"
	"github.com/knoguchi/agentic-rag/internal/pipelineerr"
	"github.com/knoguchi/agentic-rag/internal/ragmodel"
)

// HealthChecker reports whether a downstream dependency is reachable,
// used to back the readiness endpoint.
type HealthChecker interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
}

// Server wires the Pipeline Runtime behind chi routes.
type Server struct {
	runtime    *pipeline.Runtime
	logger     *slog.Logger
	store      HealthChecker
	collection string
	httpServer *http.Server
	router     *chi.Mux
}

// Config configures the intake server.
type Config struct {
	Port           int
	Runtime        *pipeline.Runtime
	Logger         *slog.Logger
	Store          HealthChecker
	Collection     string
	AllowedOrigins []string
}

// New builds the router and http.Server, grounded on the same chi
// middleware chain (request ID, real IP, structured logging, panic
// recovery, permissive CORS) the service has always used.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	s := &Server{
		runtime:    cfg.Runtime,
		logger:     logger,
		store:      cfg.Store,
		collection: cfg.Collection,
		router:     router,
	}

	router.Get("/health", s.handleHealth)
	router.Post("/query", s.handleQuery)
	router.Post("/chat/stream", s.handleStream)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if exists, err := s.store.CollectionExists(ctx, s.collection); err != nil || !exists {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req ragmodel.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !ragmodel.ValidLanguagePreference(req.Context.LanguagePreference) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported language_preference"})
		return
	}

	start := time.Now()
	var events []ragmodel.Event
	resp, err := s.runtime.Run(r.Context(), req, func(ev ragmodel.Event) { events = append(events, ev) })
	if err != nil {
		s.logger.Error("query failed", "error", err, "duration", time.Since(start))
		writeJSON(w, statusForError(err), map[string]any{"error": err.Error(), "events": events})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req ragmodel.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !ragmodel.ValidLanguagePreference(req.Context.LanguagePreference) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported language_preference"})
		return
	}

	if r.Header.Get("Upgrade") == "websocket" {
		s.streamWS(w, r, req)
		return
	}
	s.streamSSE(w, r, req)
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, req ragmodel.QueryRequest) {
	sse, err := eventstream.NewSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	_, err = s.runtime.Run(r.Context(), req, func(ev ragmodel.Event) {
		if writeErr := sse.Write(ev); writeErr != nil {
			s.logger.Warn("sse write failed", "error", writeErr)
		}
	})
	if err != nil {
		s.logger.Error("streamed query failed", "error", err)
	}
}

func (s *Server) streamWS(w http.ResponseWriter, r *http.Request, req ragmodel.QueryRequest) {
	conn, err := eventstream.UpgradeWS(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn.WatchClose(cancel)

	_, err = s.runtime.Run(ctx, req, func(ev ragmodel.Event) {
		if writeErr := conn.Write(ev); writeErr != nil {
			s.logger.Warn("websocket write failed", "error", writeErr)
		}
	})
	if err != nil {
		s.logger.Error("streamed query failed", "error", err)
	}
}

// statusForError maps a pipeline failure to an HTTP status. Only
// malformed-request categories get a 4xx; every pipeline-internal
// failure (retrieval/reranker/llm unavailable, cancellation, internal)
// still returns 200 with the error body, per the non-streaming query
// endpoint's contract.
func statusForError(err error) int {
	pe, ok := err.(*pipelineerr.Error)
	if !ok {
		return http.StatusOK
	}
	switch pe.Category {
	case pipelineerr.CategoryGuardrailInput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := false
			if len(allowedOrigins) == 0 {
				allowed = true
				origin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

