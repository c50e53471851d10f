// Package server is the local HTTP shell: it exposes the auth request
// controller as JSON endpoints and serves guarded screen routes.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/config"
	"github.com/branchd-dev/authflow/internal/controller"
	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/router"
	"github.com/branchd-dev/authflow/internal/session"
	"github.com/branchd-dev/authflow/internal/store"
	"github.com/branchd-dev/authflow/internal/workers"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     zerolog.Logger
	store      io.Closer
	session    *session.Client
	controller *controller.Controller
	guard      *router.Guard
	navigator  *router.Navigator
	version    string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	credStore, err := store.Open(cfg.Session, zlog)
	if err != nil {
		return nil, err
	}

	table := router.DefaultTable()
	if cfg.Routes.File != "" {
		table, err = router.LoadTable(cfg.Routes.File)
		if err != nil {
			credStore.Close()
			return nil, err
		}
		zlog.Info().Str("file", cfg.Routes.File).Int("routes", len(table.Routes)).Msg("Loaded route table")
	}

	sess := session.New(
		provider.New(cfg.Provider),
		credStore,
		zlog,
		session.WithRefreshWindow(cfg.Session.RefreshWindow),
	)

	return newServer(cfg, zlog, version, credStore, sess, table), nil
}

func newServer(cfg *config.Config, zlog zerolog.Logger, version string, closer io.Closer, sess *session.Client, table *router.Table) *Server {
	guard := router.NewGuard(table)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     zlog,
		store:      closer,
		session:    sess,
		controller: controller.New(sess, zlog),
		guard:      guard,
		navigator:  router.NewNavigator(guard, table.Splash, zlog),
		version:    version,
		ctx:        ctx,
		cancel:     cancel,
	}

	// Keep the active location in step with the auth stream
	go s.navigator.Run(ctx, sess.Changes(ctx))

	s.setupRouter()
	return s
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)

	// Guarded screens
	s.router.GET("/screens/*path", GuardMiddleware(s.guard, s.session, s.logger), s.showScreen)

	api := s.router.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/routes", s.listRoutes)
		api.POST("/navigate", s.navigate)

		api.POST("/auth/sign-in", s.signIn)
		api.POST("/auth/sign-up", s.signUp)
		api.POST("/auth/sign-out", s.signOut)
		api.POST("/auth/password-reset", s.resetPassword)

		authed := api.Group("/auth")
		authed.Use(SessionRequiredMiddleware(s.session, s.logger))
		{
			authed.GET("/me", s.getCurrentUser)
			authed.POST("/reload", s.reloadUser)
			authed.POST("/verify-email", s.verifyEmail)
		}
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// @Router /health [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "authflow",
		"version":   s.version,
	})
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start restores the persisted session, starts the refresh scheduler and
// serves HTTP until SIGINT/SIGTERM
func (s *Server) Start() error {
	if user, err := s.session.Restore(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to restore session")
	} else if user == nil {
		s.logger.Info().Msg("No persisted session - starting signed out")
	}

	if _, err := workers.StartRefreshScheduler(s.ctx, s.config.Session.RefreshSchedule, s.session, s.logger); err != nil {
		return fmt.Errorf("failed to start refresh scheduler: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("HTTP server error")
		s.Close()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		s.Close()
		return err
	}

	s.Close()
	s.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Close stops background work and closes the session store
func (s *Server) Close() {
	s.cancel()
	s.controller.Close()
	s.session.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing session store")
		}
	}
}
