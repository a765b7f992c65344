package model

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntry is one row of the public display snapshot.
type QueueEntry struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TokenNumber   string    `json:"token_number"`
	PatientName   string    `json:"patient_name"`
	CabinName     string    `json:"cabin_name,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// QueueSnapshot is the read-only view consumed by public screens,
// polled on a fixed interval.
type QueueSnapshot struct {
	NowCalling     *QueueEntry  `json:"now_calling"`
	Waiting        []QueueEntry `json:"waiting"`
	InConsultation []QueueEntry `json:"in_consultation"`
	GeneratedAt    time.Time    `json:"generated_at"`
}
