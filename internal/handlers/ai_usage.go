package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/response"
)

// AIUsageHandler provides endpoints for AI usage statistics.
type AIUsageHandler struct {
	usageService *services.AIUsageService
}

func NewAIUsageHandler(usageService *services.AIUsageService) *AIUsageHandler {
	return &AIUsageHandler{usageService: usageService}
}

// GetStats returns aggregated AI usage statistics.
func (h *AIUsageHandler) GetStats(c *gin.Context) {
	stats, err := h.usageService.GetStats(c.Query("start_date"), c.Query("end_date"), c.Query("provider"))
	if err != nil {
		response.ServerError(c, "failed to get AI usage stats: "+err.Error())
		return
	}
	response.Success(c, stats)
}

// GetDailyTrend returns daily AI usage data for charting.
func (h *AIUsageHandler) GetDailyTrend(c *gin.Context) {
	trend, err := h.usageService.GetDailyTrend(c.Query("start_date"), c.Query("end_date"), c.Query("provider"))
	if err != nil {
		response.ServerError(c, "failed to get AI usage trend: "+err.Error())
		return
	}
	response.Success(c, trend)
}

// GetProviderBreakdown returns AI usage grouped by provider/model.
func (h *AIUsageHandler) GetProviderBreakdown(c *gin.Context) {
	providers, err := h.usageService.GetProviderBreakdown(c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		response.ServerError(c, "failed to get provider breakdown: "+err.Error())
		return
	}
	response.Success(c, providers)
}
