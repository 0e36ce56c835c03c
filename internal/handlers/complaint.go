package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/response"
)

type ComplaintHandler struct {
	complaintService *services.ComplaintService
}

func NewComplaintHandler(complaintService *services.ComplaintService) *ComplaintHandler {
	return &ComplaintHandler{complaintService: complaintService}
}

func (h *ComplaintHandler) List(c *gin.Context) {
	var req services.ComplaintListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.complaintService.List(&req)
	if err != nil {
		response.Error(c, response.NewServerError("failed to fetch complaints", err))
		return
	}
	response.Success(c, resp)
}

func (h *ComplaintHandler) Get(c *gin.Context) {
	complaint, err := h.complaintService.GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrComplaintNotFound) {
			response.NotFound(c, "complaint not found")
			return
		}
		response.Error(c, response.NewServerError("failed to fetch complaint", err))
		return
	}
	response.Success(c, complaint)
}
