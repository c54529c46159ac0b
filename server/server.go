package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/sync-alarm/alarms"
	"github.com/xiaoyuanzhu-com/sync-alarm/db"
	"github.com/xiaoyuanzhu-com/sync-alarm/log"
	"github.com/xiaoyuanzhu-com/sync-alarm/metrics"
	"github.com/xiaoyuanzhu-com/sync-alarm/notifications"
	"github.com/xiaoyuanzhu-com/sync-alarm/presence"
)

// PushPath is the websocket endpoint; it is excluded from gzip
const PushPath = "/ws"

// Server owns and coordinates all application components
type Server struct {
	cfg *Config

	// Components (owned by server)
	database     *db.DB
	metrics      *metrics.Metrics
	notifService *notifications.Service
	registry     *presence.Registry
	alarms       *alarms.Service

	// Shutdown context - cancelled when server is shutting down.
	// Push sockets listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// HTTP
	router   *gin.Engine
	http     *http.Server
	listener net.Listener
}

// New creates a new server with all components initialized
func New(cfg *Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	// 1. Open database
	log.Info().Msg("initializing database")
	database, err := db.Open(cfg.ToDBConfig())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.database = database

	// 2. Metrics
	s.metrics = metrics.New()

	// 3. Broadcast channel, presence and the alarm writer all share one fan-out
	log.Info().Msg("initializing notifications service")
	s.notifService = notifications.NewService(cfg.SendBuffer, s.metrics)
	s.registry = presence.NewRegistry(s.notifService, s.metrics)
	s.alarms = alarms.NewService(s.database, s.notifService, s.metrics)

	// 4. Setup HTTP router
	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	if s.cfg.IsDevelopment() {
		s.router.Use(s.corsMiddleware())
	}

	// Gzip compression (skip the websocket upgrade)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		PushPath,
	})))

	s.router.SetTrustedProxies(nil)

	// Note: API routes are set up by calling code (main.go)
	// to avoid import cycles
}

// corsMiddleware handles CORS for development environments
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.Request.Header.Get("Origin"); origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Listen binds the HTTP listener without serving yet
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Start serves HTTP on the bound listener (binding first if needed). Blocks.
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.StdErrorLogger(), // Route Go's internal HTTP errors through zerolog
	}

	log.Info().
		Str("addr", s.listener.Addr().String()).
		Str("env", s.cfg.Env).
		Msg("HTTP server starting")

	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or "" before Listen
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// 1. Signal push sockets to close before the HTTP server waits on them
	s.shutdownCancel()

	// 2. Close every subscription so socket writers return
	s.notifService.Shutdown()

	// 3. Stop accepting new requests and wait for in-flight ones
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	} else if s.listener != nil {
		s.listener.Close()
	}

	// Close database last
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
			return err
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// Component accessors for API handlers
func (s *Server) Config() *Config                        { return s.cfg }
func (s *Server) DB() *db.DB                             { return s.database }
func (s *Server) Metrics() *metrics.Metrics              { return s.metrics }
func (s *Server) Notifications() *notifications.Service { return s.notifService }
func (s *Server) Presence() *presence.Registry           { return s.registry }
func (s *Server) Alarms() *alarms.Service                { return s.alarms }
func (s *Server) Router() *gin.Engine                    { return s.router }
func (s *Server) ShutdownContext() context.Context       { return s.shutdownCtx }
