// Package server exposes the query API, the snapshot websocket and the
// prometheus endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/metrics"
	"github.com/alanyoungcy/depthmap/internal/server/handler"
	"github.com/alanyoungcy/depthmap/internal/server/middleware"
	"github.com/alanyoungcy/depthmap/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// RateLimit is the number of requests a client IP may make per
	// RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers to register. Archive, Retention and
// Hub are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	OrderBook *handler.OrderBookHandler
	Archive   *handler.ArchiveHandler
	Retention *handler.RetentionHandler
	Hub       *ws.Hub
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// and m may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, limiter, m, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and wrapped handler without a listener.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	api.HandleFunc("GET /api/orderbook/current", handlers.OrderBook.Current)
	api.HandleFunc("GET /api/orderbook/ticks", handlers.OrderBook.Ticks)
	api.HandleFunc("GET /api/orderbook/heatmap", handlers.OrderBook.Heatmap)
	api.HandleFunc("GET /api/orderbook/liquidity", handlers.OrderBook.Liquidity)
	api.HandleFunc("GET /api/orderbook/changes", handlers.OrderBook.Changes)
	api.HandleFunc("GET /api/orderbook/latest", handlers.OrderBook.Latest)

	if handlers.Archive != nil {
		api.HandleFunc("GET /api/archive", handlers.Archive.List)
	}
	if handlers.Retention != nil {
		api.HandleFunc("GET /api/retention/runs", handlers.Retention.Runs)
	}

	var apiHandler http.Handler = api
	if limiter != nil && cfg.RateLimit > 0 {
		apiHandler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(apiHandler)
	}

	// Root mux: the rate limit covers /api only.
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.HandleFunc("GET /{$}", handlers.Status.Root)
	if handlers.Hub != nil {
		mux.HandleFunc("GET /ws", handlers.Hub.HandleWS)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	var h http.Handler = mux
	if m != nil {
		h = middleware.Instrument(m.HTTPRequests)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
