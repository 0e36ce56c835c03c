package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/internal/services"
	"gorm.io/gorm"
)

var startTime = time.Now()

// MetricsHandler renders Prometheus text-format gauges.
type MetricsHandler struct {
	db       *gorm.DB
	pipeline *services.PipelineService
	monitor  *services.CostMonitor
}

func NewMetricsHandler(db *gorm.DB, pipeline *services.PipelineService, monitor *services.CostMonitor) *MetricsHandler {
	return &MetricsHandler{db: db, pipeline: pipeline, monitor: monitor}
}

func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "ideaminer_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "ideaminer_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "ideaminer_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))

	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "ideaminer_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "ideaminer_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	var complaints, ideas, favorites, failures, aiCalls24h int64
	h.db.Model(&models.Complaint{}).Count(&complaints)
	h.db.Model(&models.Idea{}).Count(&ideas)
	h.db.Model(&models.Idea{}).Where("is_favorite = ?", true).Count(&favorites)
	h.db.Model(&models.FailureRecord{}).Count(&failures)
	h.db.Model(&models.AIUsageLog{}).Where("created_at >= ?", time.Now().Add(-24*time.Hour)).Count(&aiCalls24h)

	writeGauge(&b, "ideaminer_complaints_total", "Stored complaints", float64(complaints))
	writeGauge(&b, "ideaminer_ideas_total", "Stored ideas", float64(ideas))
	writeGauge(&b, "ideaminer_ideas_favorite", "Ideas marked as favorite", float64(favorites))
	writeGauge(&b, "ideaminer_fetch_failures_total", "Recorded fetch and parse failures", float64(failures))
	writeGauge(&b, "ideaminer_ai_calls_24h", "AI API calls in the last 24 hours", float64(aiCalls24h))

	daily := h.monitor.DailyLimitCheck()
	guard := h.monitor.CostGuard(h.monitor.WindowDays())
	writeGauge(&b, "ideaminer_cost_daily_usd", "Generation cost in the last 24 hours", daily.DailyCost)
	writeGauge(&b, "ideaminer_cost_remaining_usd", "Remaining daily budget", daily.RemainingBudget)
	writeGauge(&b, "ideaminer_mean_tokens_per_complaint", "Mean tokens per successful generation in the guard window", guard.MeanTokens)
	writeGauge(&b, "ideaminer_cost_guard_passed", "Whether the cost guard passes (1=yes, 0=no)", boolGauge(guard.Passed))

	status := h.pipeline.Status()
	writeGauge(&b, "ideaminer_pipeline_running", "Whether a pipeline run is in progress", boolGauge(status.Running))
	if last := status.LastRun; last != nil {
		writeGauge(&b, "ideaminer_pipeline_last_ideas_generated", "Ideas generated by the last run", float64(last.IdeasGenerated))
		writeGauge(&b, "ideaminer_pipeline_last_errors", "Errors in the last run", float64(last.Errors))
		writeGauge(&b, "ideaminer_pipeline_last_finished_timestamp", "Unix time the last run finished", float64(last.FinishedAt.Unix()))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
