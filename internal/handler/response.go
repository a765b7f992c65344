package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// Error writes a domain error with its mapped HTTP status. Anything
// outside the domain taxonomy is wrapped as internal so storage
// details never leak.
func Error(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternal(err)
	}
	status := appErr.StatusCode()
	message := err.Error()
	if status >= 500 {
		message = appErr.Message
	}
	c.JSON(status, NewErrorResponse(message))
}
