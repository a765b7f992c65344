// Package cabin exposes the room-facing staff endpoints.
package cabin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/service/cabin"
	"github.com/jwalitptl/queue-api/internal/service/queue"
)

type Handler struct {
	cabins *cabin.Service
	queue  *queue.Service
}

func NewHandler(cabinSvc *cabin.Service, queueSvc *queue.Service) *Handler {
	return &Handler{
		cabins: cabinSvc,
		queue:  queueSvc,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	cabins := r.Group("/cabins")
	{
		cabins.GET("", h.List)
		cabins.GET("/:id", h.Dashboard)
		cabins.POST("/:id/call-next", h.CallNext)
		cabins.POST("/:id/assign-doctor", h.AssignDoctor)
		cabins.POST("/:id/vacate", h.Vacate)
	}
}

func (h *Handler) List(c *gin.Context) {
	actor := middleware.ActorFrom(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("authentication required"))
		return
	}
	cabins, err := h.cabins.ListByClinic(c.Request.Context(), actor.ClinicID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(cabins))
}

func (h *Handler) Dashboard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	dash, err := h.cabins.Dashboard(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(dash))
}

func (h *Handler) CallNext(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req model.CallNextRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}
	txn, err := h.queue.CallNext(c.Request.Context(), middleware.ActorFrom(c), id, req.GroupID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(txn))
}

func (h *Handler) AssignDoctor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req model.AssignDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	cab, err := h.cabins.AssignDoctor(c.Request.Context(), id, req.DoctorID, req.DoctorName)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(cab))
}

func (h *Handler) Vacate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.cabins.Vacate(c.Request.Context(), middleware.ActorFrom(c), id); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"vacated": true}))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
