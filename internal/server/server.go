package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sundayezeilo/shortly/internal/config"
	"github.com/sundayezeilo/shortly/internal/httpx"
	"github.com/sundayezeilo/shortly/internal/shortener"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds the dependencies of a Server. Auth and RateLimit are
// optional; nil disables them.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Handler   *shortener.Handler
	Health    Pinger
	Auth      *httpx.AuthConfig
	RateLimit *httpx.RateLimitConfig
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config    *config.Config
	logger    *slog.Logger
	handler   *shortener.Handler
	health    Pinger
	auth      *httpx.AuthConfig
	rateLimit *httpx.RateLimitConfig
	server    *http.Server
}

// New creates a new Server instance.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    opts.Config,
		logger:    logger,
		handler:   opts.Handler,
		health:    opts.Health,
		auth:      opts.Auth,
		rateLimit: opts.RateLimit,
	}
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.applyMiddleware(s.setupRoutes())
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Listen for errors from the server
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())

	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.bannerHandler)
	mux.HandleFunc("GET /x/health", s.healthCheckHandler)

	mux.Handle("POST /api/links", s.api(s.handler.CreateLink))
	mux.Handle("GET /api/links", s.api(s.handler.ListLinks))
	mux.Handle("GET /api/links/{code}", s.api(s.handler.GetLink))
	mux.Handle("GET /api/links/{code}/clicks", s.api(s.handler.ListClicks))

	mux.HandleFunc("GET /{code}", s.handler.Resolve)
	mux.HandleFunc("GET /{path...}", s.handler.RedirectHome)

	return mux
}

// api wraps an API handler with bearer authentication when it is enabled.
func (s *Server) api(h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return h
	}
	return httpx.Authenticate(*s.auth)(h)
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	middlewares := []httpx.Middleware{
		httpx.Recovery(s.logger), // Outermost: catch panics
		httpx.RequestID,
		httpx.Logger(s.logger),
		httpx.CORS(s.config.Server.CORSOrigins),
	}
	if s.rateLimit != nil {
		middlewares = append(middlewares, httpx.RateLimit(*s.rateLimit))
	}
	return httpx.Chain(middlewares...)(handler)
}

func (s *Server) bannerHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"service": s.config.App.ServiceName,
		"version": s.config.App.ServiceVersion,
		"docs":    "POST /api/links with {\"url\": \"https://...\"} to shorten a link",
	})
}

// healthCheckHandler reports 503 when the link store is unreachable.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := s.health.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed",
				"request_id", httpx.GetRequestID(ctx),
				"error", err,
			)
			status, code = "unavailable", http.StatusServiceUnavailable
		}
	}

	httpx.WriteJSON(w, code, map[string]string{
		"status":  status,
		"service": s.config.App.ServiceName,
		"version": s.config.App.ServiceVersion,
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return nil
}
