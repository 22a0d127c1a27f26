package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stratacloud/host-controller/internal/api/handlers"
	"github.com/stratacloud/host-controller/internal/api/middleware"
	"github.com/stratacloud/host-controller/internal/config"
	"github.com/stratacloud/host-controller/internal/logger"
	"github.com/stratacloud/host-controller/internal/services"
	"github.com/stratacloud/host-controller/internal/storage"
	"github.com/stratacloud/host-controller/internal/websocket"
)

// Server is the REST API server
type Server struct {
	config   *config.Config
	logger   logger.Interface
	database *storage.Database
	hosts    *services.HostService
	events   *websocket.Server
	router   *gin.Engine
	server   *http.Server
}

// New creates the API server and mounts all routes
func New(cfg *config.Config, log logger.Interface, db *storage.Database,
	hosts *services.HostService, events *websocket.Server) *Server {

	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:   cfg,
		logger:   log.WithField("component", "api"),
		database: db,
		hosts:    hosts,
		events:   events,
		router:   gin.New(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes and middleware
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())

	if s.config.API.CORSEnabled {
		s.router.Use(middleware.CORS())
	}

	healthHandler := handlers.NewHealthHandler(s.database)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/ready", healthHandler.Ready)

	if s.events != nil && s.config.WebSocket.Enabled {
		s.router.GET(s.config.WebSocket.Path, s.events.HandleConnection)
	}

	v1 := s.router.Group("/v1")
	if s.config.API.AuthEnabled {
		v1.Use(middleware.Auth(middleware.AuthConfig{
			Secret:  []byte(os.Getenv(s.config.API.JWTSecretEnv)),
			Enabled: true,
		}))
	} else {
		v1.Use(middleware.Auth(middleware.AuthConfig{Enabled: false}))
	}

	limiter := middleware.NewRateLimiter(nil, s.logger)
	v1.Use(limiter.RateLimit())

	hostHandler := handlers.NewHostHandler(s.hosts, s.logger)
	ihosts := v1.Group("/ihosts")
	{
		ihosts.GET("", hostHandler.List)
		ihosts.POST("", hostHandler.Create)
		ihosts.GET("/:uuid", hostHandler.Get)
		ihosts.PATCH("/:uuid", hostHandler.Patch)
		ihosts.DELETE("/:uuid", hostHandler.Delete)
	}

	systemHandler := handlers.NewSystemHandler(s.database)
	v1.GET("/isystems", systemHandler.Get)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	readTimeout, err := time.ParseDuration(s.config.API.ReadTimeout)
	if err != nil {
		readTimeout = 30 * time.Second
	}
	writeTimeout, err := time.ParseDuration(s.config.API.WriteTimeout)
	if err != nil {
		writeTimeout = 30 * time.Second
	}

	s.server = &http.Server{
		Addr:         s.config.API.GetAddress(),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("address", s.config.API.GetAddress()).Info("Starting API server")

	if s.config.API.IsTLSEnabled() {
		return s.server.ListenAndServeTLS(s.config.API.TLSCertFile, s.config.API.TLSKeyFile)
	}
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
