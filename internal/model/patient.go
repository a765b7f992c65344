package model

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// PatientProfile is the durable demographic record, keyed by contact
// number. Registration upserts it; the queue engine never deletes it.
type PatientProfile struct {
	Base
	Name          string `db:"name" json:"name"`
	Age           int    `db:"age" json:"age"`
	Gender        Gender `db:"gender" json:"gender"`
	ContactNumber string `db:"contact_number" json:"contact_number,omitempty"`
	Email         string `db:"email" json:"email,omitempty"`
}

type RegisterRequest struct {
	Name          string    `json:"name" binding:"required,min=3,max=100"`
	Age           int       `json:"age" binding:"gte=0,lte=150"`
	Gender        Gender    `json:"gender" binding:"required,oneof=male female other"`
	GroupID       uuid.UUID `json:"group_id" binding:"required"`
	ContactNumber string    `json:"contact_number" binding:"omitempty,e164"`
	EmailAddress  string    `json:"email_address" binding:"omitempty,email"`
}

type RegisterResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TokenNumber   string    `json:"token_number"`
	RegisteredAt  time.Time `json:"registered_at"`
}
