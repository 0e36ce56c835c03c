package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/response"
)

type IdeaHandler struct {
	ideaService *services.IdeaService
}

func NewIdeaHandler(ideaService *services.IdeaService) *IdeaHandler {
	return &IdeaHandler{ideaService: ideaService}
}

func (h *IdeaHandler) List(c *gin.Context) {
	var req services.IdeaListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.ideaService.List(&req)
	if err != nil {
		response.Error(c, response.NewServerError("failed to fetch ideas", err))
		return
	}
	response.Success(c, resp)
}

func (h *IdeaHandler) Get(c *gin.Context) {
	idea, err := h.ideaService.GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrIdeaNotFound) {
			response.NotFound(c, "idea not found")
			return
		}
		response.Error(c, response.NewServerError("failed to fetch idea", err))
		return
	}
	response.Success(c, idea)
}

func (h *IdeaHandler) ToggleFavorite(c *gin.Context) {
	id := c.Param("id")
	favorite, err := h.ideaService.ToggleFavorite(id)
	if err != nil {
		if errors.Is(err, services.ErrIdeaNotFound) {
			response.NotFound(c, "idea not found")
			return
		}
		response.Error(c, response.NewServerError("failed to update favorite status", err))
		return
	}
	response.Success(c, gin.H{"id": id, "is_favorite": favorite})
}

func (h *IdeaHandler) Summary(c *gin.Context) {
	summary, err := h.ideaService.Summary()
	if err != nil {
		response.Error(c, response.NewServerError("failed to fetch statistics", err))
		return
	}
	response.Success(c, summary)
}
