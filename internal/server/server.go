// Package server exposes the indexed entities over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/metrics"
	"github.com/alanyoungcy/predictindexer/internal/server/handler"
	"github.com/alanyoungcy/predictindexer/internal/server/middleware"
	"github.com/alanyoungcy/predictindexer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string
	RateLimitPerMin int
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Users   *handler.UserHandler
}

// Server is the read API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in CORS, logging, auth and rate
// limiting. hub, limiter and m may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, h, hub, limiter, m, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler chain.
func Routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/stats", h.Markets.Stats)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/predictions", h.Markets.MarketPredictions)
	mux.HandleFunc("GET /api/predictions/{id}", h.Markets.GetPrediction)

	mux.HandleFunc("GET /api/users/{address}", h.Users.GetUser)
	mux.HandleFunc("GET /api/users/{address}/predictions", h.Users.UserPredictions)
	mux.HandleFunc("GET /api/leaderboard", h.Users.Leaderboard)
	mux.HandleFunc("GET /api/events/{name}", h.Users.ListEvents)
	mux.HandleFunc("GET /api/events/{name}/{id}", h.Users.GetEvent)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	var handler http.Handler = mux
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		handler = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute, logger)(handler)
	}
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(handler)
	handler = middleware.Logging(logger, m)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
