package api

import (
	"net/http"

	"github.com/frostdev-ops/pma-alerting-go/internal/api/handlers"
	"github.com/frostdev-ops/pma-alerting-go/internal/api/middleware"
	"github.com/frostdev-ops/pma-alerting-go/internal/config"
	"github.com/frostdev-ops/pma-alerting-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Ingestion limits per client IP.
const (
	ingestRatePerSecond = 20
	ingestBurst         = 100
)

// Options configures the router beyond the handler dependencies.
type Options struct {
	Server  config.ServerConfig
	Auth    config.AuthConfig
	Metrics middleware.HTTPObserver
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter creates and configures the main HTTP router
func NewRouter(opts Options, deps handlers.Dependencies, logger *logrus.Logger) *gin.Engine {
	switch opts.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(opts.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger, "/health", "/metrics"))
	router.Use(middleware.CORSMiddleware(opts.Server.AllowedOrigins))
	if opts.Metrics != nil {
		router.Use(middleware.MetricsMiddleware(opts.Metrics))
	}

	router.NoRoute(func(c *gin.Context) {
		utils.SendError(c, http.StatusNotFound, "Endpoint not found")
	})

	h := handlers.NewHandlers(deps)
	auth := middleware.AuthMiddleware(opts.Auth.Enabled, opts.Auth.JWTSecret)

	// Public routes
	router.GET("/health", h.Health)
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
	if deps.Hub != nil {
		router.GET("/ws", h.WebSocketHandler())
	}

	api := router.Group("/api/v1")
	{
		// Read API
		api.GET("/version", h.Version)
		api.GET("/rules", h.GetRules)
		api.GET("/rules/:id", h.GetRule)
		api.GET("/alarms", h.GetAlarms)
		api.GET("/alarms/:id", h.GetAlarm)
		api.GET("/transitions", h.GetTransitions)
		api.GET("/transitions/:id", h.GetTransition)
		api.GET("/dispatch-failures", h.GetDispatchFailures)
		api.GET("/metrics/latest", h.GetLatestMetrics)
		api.GET("/actions", h.GetActions)
		if deps.Hub != nil {
			api.GET("/websocket/stats", h.GetWebSocketStats)
		}

		// Write API (auth required when enabled)
		protected := api.Group("/")
		protected.Use(auth)
		{
			protected.POST("/alarms/:id/reset", h.ResetAlarm)
			protected.POST("/actions/:id/trigger", h.TriggerAction)
			protected.GET("/discovery/peers", h.GetPeers)

			limiter := middleware.NewRateLimiter(ingestRatePerSecond, ingestBurst)
			ingestion := protected.Group("/")
			ingestion.Use(limiter.RateLimitMiddleware())
			{
				ingestion.POST("/metrics", h.PostMetrics)
				ingestion.POST("/reports", h.PostReport)
			}
		}
	}

	return router
}
