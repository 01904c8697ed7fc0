package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes.
func SetupRoutes(router *gin.Engine, handler *Handler, metricsHandler http.Handler) {
	// Health checks (no /api/v1 prefix for standard health endpoints)
	router.GET("/health", handler.HealthCheck)
	router.GET("/ready", handler.ReadinessCheck)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.HealthCheck)
		v1.GET("/ready", handler.ReadinessCheck)

		v1.POST("/detect", handler.Detect)

		businesses := v1.Group("/businesses")
		{
			businesses.GET("/:id", handler.GetBusiness)
			businesses.GET("/:id/stats", handler.GetBusinessStats)
		}

		incidents := v1.Group("/incidents")
		{
			incidents.GET("", handler.ListIncidents)
			incidents.POST("", handler.CreateIncident)
			incidents.GET("/:id", handler.GetIncident)
			incidents.PATCH("/:id", handler.UpdateIncident)
			incidents.POST("/:id/resolve", handler.ResolveIncident)
			incidents.DELETE("/:id", handler.DeleteIncident)
		}

		sweeperRoutes := v1.Group("/sweeper")
		{
			sweeperRoutes.GET("/status", handler.SweeperStatus)
			sweeperRoutes.POST("/start", handler.SweeperStart)
			sweeperRoutes.POST("/stop", handler.SweeperStop)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/stats", handler.GetAdminStats)
		}
	}
}
