package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/api/handlers"
	"github.com/inboxline/mailsync/api/middleware"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/services"
)

// RegisterRoutes sets up the sync control plane endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, apiKey string) {
	if s == nil {
		panic("Services cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health stays open; load balancers probe it without credentials.
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILSYNC-API-KEY",
		ValidAPIKey: apiKey,
	})

	v1 := r.Group("/v1")
	v1.Use(apiKeyMiddleware)
	v1.Use(middleware.RequestIDMiddleware())
	v1.Use(middleware.CustomContextMiddleware("mailsync"))
	v1.Use(middleware.TracingMiddleware())
	{
		sync := v1.Group("/sync")
		{
			sync.POST("/start", handlers.StartSync(s.SyncService))
			sync.POST("/stop", handlers.StopSync(s.SyncService))
			sync.GET("/status", handlers.SyncStatus(s.SyncService))
			sync.GET("/accounts/:id/status", handlers.AccountSyncStatus(s.SyncService))
		}
	}
}
