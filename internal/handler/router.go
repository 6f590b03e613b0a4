package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"biliticket/callqueue/internal/config"
	"biliticket/callqueue/internal/handler/middleware"
	"biliticket/callqueue/pkg/auth"
)

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	authManager *auth.Manager,
	queueHandler *QueueHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORS))
	}

	// Health check
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1/queue")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	// Read-only routes: consumers poll status, operators watch stats.
	{
		api.GET("/requests/:id", queueHandler.Status)
		api.GET("/stats", queueHandler.Stats)
	}

	// Mutating routes, optionally behind service-token auth.
	protected := api.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.ServiceAuth(authManager))
	}
	{
		protected.POST("/reservations", queueHandler.Reserve)
		protected.PUT("/requests/:id", queueHandler.MarkPending)
		protected.POST("/requests/:id/done", queueHandler.MarkDone)
		protected.DELETE("/requests/:id", queueHandler.Remove)
	}

	return r
}
