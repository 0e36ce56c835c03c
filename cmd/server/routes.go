package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/handlers"
	"github.com/huangang/ideaminer/backend/internal/middleware"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(ctx context.Context, r *gin.Engine, svc *appServices) {
	a := svc.app
	cfg := a.Config

	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS(cfg.Server.AllowOrigins))

	// Manual runs are expensive; limit them per client IP.
	triggerLimiter := middleware.NewRateLimiter(cfg.Server.TriggerRPS, cfg.Server.TriggerBurst)
	go triggerLimiter.Run(ctx)

	health := handlers.NewHealthHandler(a.DB, svc.taskQueue)
	metrics := handlers.NewMetricsHandler(a.DB, a.Pipeline, a.Monitor)
	r.GET("/health", health.CheckHealth)
	r.GET("/metrics", metrics.Metrics)

	api := r.Group("/api")
	{
		scraping := handlers.NewScrapingHandler(a.Pipeline, svc.taskQueue, a.Complaints, a.Monitor)
		api.POST("/scraping/run", triggerLimiter.Middleware(), scraping.Run)
		api.GET("/scraping/status", scraping.Status)
		api.GET("/scraping/events", handlers.NewSSEHandler(a.Events).StreamPipelineEvents)

		complaints := handlers.NewComplaintHandler(a.Complaints)
		api.GET("/complaints", complaints.List)
		api.GET("/complaints/:id", complaints.Get)

		ideas := handlers.NewIdeaHandler(a.Ideas)
		api.GET("/ideas", ideas.List)
		api.GET("/ideas/summary", ideas.Summary)
		api.GET("/ideas/:id", ideas.Get)
		api.POST("/ideas/:id/favorite", ideas.ToggleFavorite)

		cost := handlers.NewCostHandler(a.Monitor)
		api.GET("/cost/guard", cost.Guard)
		api.GET("/cost/daily", cost.Daily)
		api.GET("/cost/estimate", cost.Estimate)
		api.GET("/cost/stats", cost.Stats)

		usage := handlers.NewAIUsageHandler(a.Usage)
		api.GET("/ai-usage/stats", usage.GetStats)
		api.GET("/ai-usage/trend", usage.GetDailyTrend)
		api.GET("/ai-usage/providers", usage.GetProviderBreakdown)

		dashboard := handlers.NewDashboardHandler(a.Dashboard)
		api.GET("/dashboard/stats", dashboard.GetStats)

		systemLogs := handlers.NewSystemLogHandler(a.SystemLog)
		api.GET("/system-logs", systemLogs.List)
	}
}
