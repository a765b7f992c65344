// Package queue exposes the staff endpoints driving the transaction
// state machine.
package queue

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/handler"
	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/service/queue"
)

type Handler struct {
	queue *queue.Service
}

func NewHandler(queueSvc *queue.Service) *Handler {
	return &Handler{queue: queueSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	txns := r.Group("/transactions")
	{
		txns.GET("/:id", h.Get)
		txns.GET("/:id/events", h.History)
		txns.POST("/:id/start", h.Start)
		txns.POST("/:id/end", h.End)
		txns.POST("/:id/no-show", h.MarkNoShow)
		txns.POST("/:id/revert", h.Revert)
		txns.POST("/:id/recall", h.Recall)
		txns.PUT("/:id/notes", h.UpdateNotes)
	}
	r.GET("/groups/:id/waiting", h.WaitingList)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	txn, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(txn))
}

func (h *Handler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.queue.History(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(events))
}

func (h *Handler) Start(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	txn, err := h.queue.Start(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(txn))
}

func (h *Handler) End(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	txn, err := h.queue.End(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(txn))
}

func (h *Handler) MarkNoShow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	txn, err := h.queue.MarkNoShow(c.Request.Context(), middleware.ActorFrom(c), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(txn))
}

type revertRequest struct {
	LeaveRoom bool `json:"leave_room"`
}

func (h *Handler) Revert(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req revertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}
	txn, err := h.queue.RevertToWaiting(c.Request.Context(), middleware.ActorFrom(c), id, req.LeaveRoom)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(txn))
}

func (h *Handler) Recall(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.queue.Recall(c.Request.Context(), middleware.ActorFrom(c), id); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"recalled": true}))
}

func (h *Handler) UpdateNotes(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req model.UpdateNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if err := h.queue.UpdateNotes(c.Request.Context(), id, req.Notes); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"updated": true}))
}

func (h *Handler) WaitingList(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := h.queue.WaitingList(c.Request.Context(), id)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(list))
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
