package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"github.com/huangang/ideaminer/backend/pkg/response"
)

// ScrapingHandler triggers pipeline runs and reports their progress.
type ScrapingHandler struct {
	pipeline   *services.PipelineService
	queue      services.TaskQueue
	complaints *services.ComplaintService
	monitor    *services.CostMonitor
}

func NewScrapingHandler(pipeline *services.PipelineService, queue services.TaskQueue, complaints *services.ComplaintService, monitor *services.CostMonitor) *ScrapingHandler {
	return &ScrapingHandler{
		pipeline:   pipeline,
		queue:      queue,
		complaints: complaints,
		monitor:    monitor,
	}
}

// Run queues one full pipeline pass and returns immediately.
func (h *ScrapingHandler) Run(c *gin.Context) {
	if h.pipeline.Status().Running {
		response.Conflict(c, services.ErrPipelineRunning.Error())
		return
	}
	if !h.monitor.ShouldContinue() {
		response.TooManyRequests(c, services.ErrCostLimitExceeded.Error())
		return
	}

	task := &services.PipelineTask{Trigger: "api", RequestedAt: time.Now().Unix()}
	if err := h.queue.Enqueue(task); err != nil {
		logger.Errorf("[Scraping] Failed to enqueue pipeline run: %v", err)
		response.Error(c, response.NewServerError("failed to start scraping", err))
		return
	}

	response.Accepted(c, gin.H{
		"status":  "started",
		"message": "Scraping started in background",
		"async":   h.queue.IsAsync(),
	})
}

func (h *ScrapingHandler) Status(c *gin.Context) {
	complaints, ideas, err := h.complaints.Counts()
	if err != nil {
		response.Error(c, response.NewServerError("failed to get scraping status", err))
		return
	}

	window := h.monitor.WindowDays()
	usage := h.monitor.UsageStatistics(window)
	guard := h.monitor.CostGuard(window)

	response.Success(c, gin.H{
		"total_complaints": complaints,
		"total_ideas":      ideas,
		"pipeline":         h.pipeline.Status(),
		"cost_monitoring": gin.H{
			"total_cost":                usage.TotalCost,
			"period_days":               window,
			"mean_tokens_per_complaint": usage.MeanTokens,
			"cost_guard_passed":         guard.Passed,
			"can_continue_processing":   h.monitor.ShouldContinue(),
		},
	})
}
