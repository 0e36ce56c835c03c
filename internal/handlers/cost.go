package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/response"
)

// CostHandler exposes the cost monitor's admission checks and statistics.
type CostHandler struct {
	monitor *services.CostMonitor
}

func NewCostHandler(monitor *services.CostMonitor) *CostHandler {
	return &CostHandler{monitor: monitor}
}

// days reads ?days=, defaulting to the guard window.
func (h *CostHandler) days(c *gin.Context) (int, bool) {
	raw := c.Query("days")
	if raw == "" {
		return h.monitor.WindowDays(), true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > 365 {
		response.BadRequest(c, "days must be an integer between 1 and 365")
		return 0, false
	}
	return days, true
}

func (h *CostHandler) Guard(c *gin.Context) {
	days, ok := h.days(c)
	if !ok {
		return
	}
	response.Success(c, h.monitor.CostGuard(days))
}

func (h *CostHandler) Daily(c *gin.Context) {
	response.Success(c, h.monitor.DailyLimitCheck())
}

func (h *CostHandler) Estimate(c *gin.Context) {
	count, err := strconv.Atoi(c.Query("count"))
	if err != nil || count < 0 {
		response.BadRequest(c, "count must be a non-negative integer")
		return
	}
	response.Success(c, h.monitor.EstimateBatchCost(count))
}

func (h *CostHandler) Stats(c *gin.Context) {
	days, ok := h.days(c)
	if !ok {
		return
	}
	response.Success(c, h.monitor.UsageStatistics(days))
}
