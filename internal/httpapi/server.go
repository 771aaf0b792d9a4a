package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/auth"
	"github.com/unipost/unipost/internal/health"
	"github.com/unipost/unipost/internal/metrics"
)

// Server wires the API handlers, auth middleware, rate limiting and
// health probes into one HTTP server.
type Server struct {
	handler     *Handler
	authMW      *auth.Middleware
	rateLimiter *RateLimiter
	healthH     *health.Handler
	logger      *zap.Logger
	srv         *http.Server
}

func NewServer(
	handler *Handler,
	authMW *auth.Middleware,
	rateLimiter *RateLimiter,
	healthH *health.Handler,
	port int,
	readTimeout time.Duration,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}

	s := &Server{
		handler:     handler,
		authMW:      authMW,
		rateLimiter: rateLimiter,
		healthH:     healthH,
		logger:      logger,
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the full routing table. Health probes bypass auth.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	if s.healthH != nil {
		s.healthH.Register(mux)
	}

	generate := http.Handler(http.HandlerFunc(s.handler.handleGenerate))
	if s.rateLimiter != nil {
		generate = s.rateLimiter.Middleware(generate)
	}

	s.route(mux, "POST /api/v1/posts/generate", generate)
	s.route(mux, "GET /api/v1/posts", http.HandlerFunc(s.handler.handleListPosts))
	s.route(mux, "GET /api/v1/posts/{id}", http.HandlerFunc(s.handler.handleGetPost))
	s.route(mux, "POST /api/v1/posts/{id}/approve", http.HandlerFunc(s.handler.handleApprove))
	s.route(mux, "POST /api/v1/posts/{id}/deny", http.HandlerFunc(s.handler.handleDeny))
	s.route(mux, "GET /api/v1/stats", http.HandlerFunc(s.handler.handleStats))
	s.route(mux, "POST /api/v1/sessions", http.HandlerFunc(s.handler.handleCreateSession))
	s.route(mux, "GET /api/v1/sessions/{id}", http.HandlerFunc(s.handler.handleGetSession))

	return mux
}

// route applies auth and metrics instrumentation to one pattern
func (s *Server) route(mux *http.ServeMux, pattern string, h http.Handler) {
	if s.authMW != nil {
		h = s.authMW.HTTPMiddleware(h)
	}
	mux.Handle(pattern, instrument(pattern, h))
}

// Start runs the server until Shutdown
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency per route pattern
func instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequestsTotal.WithLabelValues(pattern, r.Method, fmt.Sprintf("%d", rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(pattern, r.Method).Observe(time.Since(start).Seconds())
	})
}
