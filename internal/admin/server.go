// Package admin is the optional HTTP/WS introspection server: health check,
// Prometheus scrape endpoint, a worker-state snapshot, and a live dashboard
// feed. It adapts the teacher's cmd/api-server, internal/api/routes.go, and
// internal/api/websocket/hub.go; nothing the Dispatcher does depends on this
// package running.
package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authmw "github.com/maumercado/accel-dispatch/internal/admin/middleware"
	adminws "github.com/maumercado/accel-dispatch/internal/admin/websocket"
	"github.com/maumercado/accel-dispatch/internal/config"
	"github.com/maumercado/accel-dispatch/internal/dispatch"
	"github.com/maumercado/accel-dispatch/internal/logger"
)

// Server is the admin HTTP/WS server. Attach its Hub as (one member of) a
// dispatch.RunOptions.Observer fanout to feed it live events.
type Server struct {
	cfg        config.AdminConfig
	router     *chi.Mux
	httpServer *http.Server
	handlers   *handlers
	hub        *adminws.Hub
	wsHandler  *adminws.Handler
}

// NewServer builds the admin server around dispatcher, wiring routes but not
// yet listening. Call Start to begin serving.
func NewServer(cfg config.AdminConfig, dispatcher *dispatch.Dispatcher) *Server {
	hub := adminws.NewHub()

	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		handlers:  &handlers{dispatcher: dispatcher},
		hub:       hub,
		wsHandler: adminws.NewHandler(hub),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Hub returns the WebSocket hub so it can be attached as a dispatch.Observer.
func (s *Server) Hub() *adminws.Hub { return s.hub }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/ping"))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handlers.healthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(authmw.Auth(s.cfg.Auth.Enabled, s.cfg.Auth.JWTSecret))
		r.Get("/workers", s.handlers.listWorkers)
		r.Get("/ws", s.wsHandler.ServeWS)
	})
}

// Start starts the WebSocket hub's dispatch loop and begins listening. It
// returns once the port is bound; Serve's own errors after that
// point are logged rather than returned, matching the teacher's
// cmd/api-server goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin: http server error")
		}
	}()

	logger.Info().Str("addr", addr).Msg("admin: server listening")
	return nil
}

// Stop gracefully shuts down the HTTP listener and the WebSocket hub.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.hub.Stop()
	return err
}
