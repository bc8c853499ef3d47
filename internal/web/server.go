// Package web provides the HTTP server of the portal. It wires the REST API,
// the telemetry ingestion endpoint and the operational endpoints onto one gin
// engine and manages the listener's lifecycle.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ovpn-portal/internal/api"
	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
	"ovpn-portal/internal/telemetry"
)

// Server represents the HTTP server of the portal.
type Server struct {
	router     *gin.Engine            // Gin HTTP router
	server     *http.Server           // HTTP server instance
	listener   net.Listener           // Bound listener, set by Listen
	config     *ServerConfig          // Server configuration
	deps       Dependencies           // Collaborators the routes are served from
	middleware *auth.AuthMiddleware   // Session authentication
	logger     *monitoring.LogManager // Request and lifecycle logging
}

// ServerConfig represents configuration options for the web server.
type ServerConfig struct {
	Addr          string        `json:"addr"`           // Listen address (default: ":5000")
	ReadTimeout   time.Duration `json:"read_timeout"`   // HTTP read timeout
	WriteTimeout  time.Duration `json:"write_timeout"`  // HTTP write timeout
	AllowedOrigin string        `json:"allowed_origin"` // Dashboard origin allowed by CORS; empty sends no CORS headers
	CookieSecure  bool          `json:"cookie_secure"`  // Mark the session cookie Secure
	BcryptCost    int           `json:"bcrypt_cost"`    // Cost for password hashes set through the API
	Debug         bool          `json:"debug"`          // Enable gin debug mode
}

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	DB            *database.Database
	AuthManager   *auth.AuthManager
	Reconciler    *telemetry.Reconciler
	Authenticator *telemetry.Authenticator
	Publisher     telemetry.Publisher // optional
	Monitor       *monitoring.Monitor
	Logger        *monitoring.LogManager
}

// DefaultServerConfig returns the configuration used when none is given.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         ":5000",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		BcryptCost:   10,
	}
}

// NewServer creates a web server with the given configuration, registers
// every route and prepares the HTTP server. A nil config uses the defaults.
func NewServer(deps Dependencies, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if deps.Logger == nil {
		deps.Logger = monitoring.NewLogManager()
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		router:     gin.New(),
		config:     config,
		deps:       deps,
		middleware: auth.NewAuthMiddleware(deps.AuthManager, config.CookieSecure),
		logger:     deps.Logger.WithComponent("http"),
	}

	server.setupRoutes()
	server.setupHTTPServer()

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen binds the configured address. It is separate from Serve so callers
// learn about a busy port before starting background work.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Serve accepts connections until Shutdown is called. It binds the listener
// first if Listen has not been called. A graceful shutdown returns nil.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.LogWithMetadata(monitoring.LogLevelInfo, "HTTP server listening", map[string]interface{}{
		"addr": s.Addr(),
	})

	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.LogInfo("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the middleware chain and every route.
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	if s.config.AllowedOrigin != "" {
		s.router.Use(s.corsMiddleware())
	}

	deps := s.deps
	var fleet api.FleetStatus
	if deps.Monitor != nil {
		fleet = deps.Monitor
	}
	var keys api.KeyCache = noopKeyCache{}
	if deps.Authenticator != nil {
		keys = deps.Authenticator
	}

	api.NewAuthAPI(deps.DB, deps.AuthManager, s.middleware, s.config.BcryptCost, deps.Logger).RegisterRoutes(s.router)
	api.NewUserAPI(deps.DB, s.middleware, s.config.BcryptCost, deps.Logger).RegisterRoutes(s.router)
	api.NewVpnUserAPI(deps.DB, s.middleware, deps.Logger).RegisterRoutes(s.router)
	api.NewSessionAPI(deps.DB, s.middleware, deps.Logger).RegisterRoutes(s.router)
	api.NewServerAPI(deps.DB, s.middleware, keys, deps.Logger).RegisterRoutes(s.router)
	api.NewAuditAPI(deps.DB, s.middleware).RegisterRoutes(s.router)
	api.NewStatsAPI(deps.DB, s.middleware, fleet).RegisterRoutes(s.router)

	if deps.Reconciler != nil && deps.Authenticator != nil {
		api.NewTelemetryAPI(deps.DB, deps.Reconciler, deps.Authenticator, deps.Publisher, deps.Logger).RegisterRoutes(s.router)
	}

	s.router.GET("/health", s.health)

	monitoringRoutes := s.router.Group("/api/monitoring", s.middleware.RequireAuth(), s.middleware.RequirePermission(auth.PermAdmin))
	{
		monitoringRoutes.GET("/metrics", s.getMetrics)
		monitoringRoutes.GET("/alerts", s.getAlerts)
		monitoringRoutes.GET("/alerts/config", s.getAlertConfig)
		monitoringRoutes.PATCH("/alerts/config", s.updateAlertConfig)
		monitoringRoutes.POST("/alerts/:id/resolve", s.resolveAlert)
		monitoringRoutes.POST("/alerts/:id/suppress", s.suppressAlert)
		monitoringRoutes.GET("/logs", s.getLogs)
	}
}

// setupHTTPServer configures the HTTP server with timeouts.
func (s *Server) setupHTTPServer() {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
	}
}

// requestLogger logs one line per request, naming the portal user when the
// request was authenticated. Health checks are logged at debug.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		level := monitoring.LogLevelInfo
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			level = monitoring.LogLevelError
		case path == "/health":
			level = monitoring.LogLevelDebug
		}

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if username, ok := auth.GetUsername(c); ok {
			fields["user"] = username
		}
		s.logger.LogWithMetadata(level, "HTTP request", fields)
	}
}

// corsMiddleware allows the configured dashboard origin to call the API with
// credentials.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin == s.config.AllowedOrigin {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type noopKeyCache struct{}

func (noopKeyCache) Invalidate(string) {}
