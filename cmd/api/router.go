package api

import (
	"net/http"

	"talent-inbox/internal/ingestion/delivery"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(r *gin.Engine, ingestionHandler *delivery.IngestionHandler, settingsHandler *SettingsHandler) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Sync triggers
		api.POST("/connections/:id/sync", ingestionHandler.SyncConnection)
		api.POST("/tenants/:tenantId/sync", ingestionHandler.SyncTenant)
		api.GET("/tenants/:tenantId/messages/stats", ingestionHandler.MessageStats)

		// Pipeline jobs
		api.GET("/queues/stats", ingestionHandler.QueueStats)
		api.POST("/messages/:id/reprocess", ingestionHandler.ReprocessMessage)
		api.POST("/roles/:id/rescore", ingestionHandler.RescoreRole)
		api.GET("/candidates/:id/scores", ingestionHandler.CandidateScores)

		// Settings routes - Runtime configuration
		settings := api.Group("/settings")
		{
			settings.GET("/triage", settingsHandler.GetTriageSettings)
			settings.PUT("/triage", settingsHandler.UpdateTriageSettings)
			settings.GET("/ollama", settingsHandler.GetOllamaSettings)
			settings.PUT("/ollama", settingsHandler.UpdateOllamaSettings)
			settings.POST("/ollama/test", settingsHandler.TestOllamaConnection)
		}
	}
}
