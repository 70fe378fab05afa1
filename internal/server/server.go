// Package server exposes report generation over HTTP: a blocking endpoint,
// a server-sent events stream and a websocket stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-study-cli/internal/memory"
	"github.com/sells-group/market-study-cli/internal/model"
	"github.com/sells-group/market-study-cli/internal/pipeline"
)

const (
	// DefaultVersion is reported by the health endpoint.
	DefaultVersion = "1.0.0"

	maxRequestBytes = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Runner executes report runs.
type Runner interface {
	Run(ctx context.Context, mission model.MissionParams, emit func(pipeline.Event), opts ...pipeline.RunOption) (*model.Report, error)
	Stream(ctx context.Context, mission model.MissionParams, opts ...pipeline.RunOption) <-chan pipeline.Event
	Sections(mission model.MissionParams, sectionID string) (model.Catalog, error)
}

// Conversations exposes per-conversation memory.
type Conversations interface {
	History(id string) []memory.Exchange
	Clear(id string)
}

// Options configures a Server.
type Options struct {
	// CORSOrigins lists the allowed origins. Empty or "*" allows any origin.
	CORSOrigins []string
	Version     string
	// Circuits reports the circuit breaker state per collaborator on /health.
	Circuits func() map[string]string
}

// Server routes report requests to a Runner.
type Server struct {
	runner        Runner
	conversations Conversations
	opts          Options
	router        chi.Router
}

// New creates a Server. conversations may be nil.
func New(runner Runner, conversations Conversations, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	s := &Server{runner: runner, conversations: conversations, opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate-report", s.handleGenerate)
		r.Post("/generate-report-stream", s.handleStream)
		r.Get("/sections", s.handleSections)
		if s.conversations != nil {
			r.Get("/conversations/{id}", s.handleHistory)
			r.Delete("/conversations/{id}", s.handleClear)
		}
	})
	r.Get("/ws/generate-report", s.handleWS)
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrInvalidMission):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnknownSection):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (GenerateRequest, error) {
	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		return req, eris.Wrap(ErrBadRequest, "invalid request body")
	}
	return req, nil
}
