// Package display exposes the public screen snapshot endpoint.
package display

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/service/display"
)

type Handler struct {
	display *display.Service
}

func NewHandler(displaySvc *display.Service) *Handler {
	return &Handler{display: displaySvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/screens/:id/queue", h.Snapshot)
}

func (h *Handler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid screen id"))
		return
	}

	snapshot, err := h.display.Snapshot(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(snapshot))
}
