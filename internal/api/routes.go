package api

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/netutil"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Router is the status API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     config.ServerConfig
	logger     *logger.Logger
	server     *http.Server
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, cfg config.ServerConfig, log *logger.Logger) *Router {
	return &Router{
		handler:    handler,
		middleware: NewMiddleware(log),
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/health", r.handler.GetHealth)
		router.Get("/readings", r.handler.GetRecentReadings)
		router.Get("/relay-actions", r.handler.GetRelayActions)
		router.Get("/safety", r.handler.GetSafetyState)
		router.Get("/config", r.handler.GetConfig)
	})

	return router
}

// Serve listens until ctx is canceled. The listener is capped at the
// configured connection count; the agent runs on a small device and a
// scrape storm must not starve the monitoring loops.
func (r *Router) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if r.config.MaxConns > 0 {
		listener = netutil.LimitListener(listener, r.config.MaxConns)
	}

	r.server = &http.Server{Handler: r.Routes()}

	go func() {
		<-ctx.Done()
		r.server.Close()
	}()

	r.logger.Info("Status API listening",
		logger.String("addr", addr),
		logger.Int("max_conns", r.config.MaxConns))

	if err := r.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
