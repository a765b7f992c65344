// Package registration exposes the public patient intake endpoint.
package registration

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/queue-api/internal/handler"
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
	r.POST("/registrations", h.Register)
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindErrorResponse(err))
		return
	}

	txn, err := h.queue.Register(c.Request.Context(), &req)
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(&model.RegisterResponse{
		TransactionID: txn.ID,
		TokenNumber:   txn.TokenNumber,
		RegisteredAt:  txn.RegisteredAt,
	}))
}

// bindErrorResponse turns validator failures into a field-keyed error
// body the kiosk frontend can render inline.
func bindErrorResponse(err error) *handler.Response {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return handler.NewErrorResponse(err.Error())
	}

	fields := make(map[string]string, len(validationErrs))
	for _, fe := range validationErrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return &handler.Response{
		Status:  "error",
		Message: "validation failed",
		Data:    gin.H{"fields": fields},
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return "value is too short"
	case "max":
		return "value is too long"
	case "gte", "lte":
		return "value is out of range"
	case "oneof":
		return "value is not one of the allowed options"
	case "e164":
		return "must be a valid phone number"
	case "email":
		return "must be a valid email address"
	default:
		return "invalid value"
	}
}
