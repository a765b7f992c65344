package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Queue lifecycle event types published through the outbox.
const (
	EventPatientRegistered = "patient.registered"
	EventPatientCalled     = "patient.called"
	EventPatientRecalled   = "patient.recalled"
	EventConsultingStarted = "consulting.started"
	EventConsultingEnded   = "consulting.ended"
	EventPatientNoShow     = "patient.no_show"
	EventPatientReverted   = "patient.reverted"
	EventNoShowEligible    = "patient.no_show_eligible"
)

// OutboxEvent is written in the same store transaction as the state
// change it announces; a worker drains pending rows and publishes them
// to the notification broker.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Announcement is the payload sent to the text-to-speech / on-screen
// notification collaborator when a patient is called. Fire-and-forget.
type Announcement struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TokenNumber   string    `json:"token_number"`
	PatientName   string    `json:"patient_name"`
	CabinName     string    `json:"cabin_name"`
}
