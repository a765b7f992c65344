package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
	}{
		{NewNotFound("cabin", nil), http.StatusNotFound},
		{NewEmptyQueue("cardiology"), http.StatusNotFound},
		{NewValidation("name too short", nil), http.StatusBadRequest},
		{NewInvalidTransition("waiting", "consulting"), http.StatusConflict},
		{NewCabinOccupied("Cabin 1"), http.StatusConflict},
		{NewConflict("transaction changed"), http.StatusConflict},
		{NewTooEarly("grace period not elapsed"), http.StatusTooEarly},
		{NewUnauthorized(nil), http.StatusUnauthorized},
		{NewStorage(fmt.Errorf("connection reset")), http.StatusInternalServerError},
		{NewInternal(fmt.Errorf("boom")), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.StatusCode(), tc.err.Message)
	}
}

func TestStatusCodeHelper(t *testing.T) {
	assert.Equal(t, http.StatusTooEarly, StatusCode(fmt.Errorf("no-show: %w", NewTooEarly("too soon"))))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("plain failure")))
}

func TestIsMatchesWrappedCode(t *testing.T) {
	err := fmt.Errorf("call next: %w", NewCabinOccupied("Cabin 2"))
	assert.True(t, Is(err, ErrCabinOccupied))
	assert.False(t, Is(err, ErrConflict))
	assert.False(t, Is(fmt.Errorf("plain"), ErrCabinOccupied))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("no rows")
	err := NewStorage(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "storage failure")
	assert.Contains(t, err.Error(), "no rows")
}
