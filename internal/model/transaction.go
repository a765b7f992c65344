package model

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	StatusWaiting          TransactionStatus = "waiting"
	StatusCalling          TransactionStatus = "calling"
	StatusConsulting       TransactionStatus = "consulting"
	StatusConsultationDone TransactionStatus = "consultation_done"
	StatusNoShow           TransactionStatus = "no_show"
)

// validTransitions lists the allowed forward edges plus the explicit
// operator-triggered reverts back to waiting.
var validTransitions = map[TransactionStatus][]TransactionStatus{
	StatusWaiting:    {StatusCalling},
	StatusCalling:    {StatusConsulting, StatusNoShow, StatusWaiting},
	StatusConsulting: {StatusConsultationDone, StatusWaiting},
}

// CanTransition reports whether moving from one status to another is a
// legal edge of the queue state machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PatientTransaction is one visit: created at registration in waiting
// state and mutated only by queue engine transitions. Rows are never
// deleted; terminal states are kept for history.
type PatientTransaction struct {
	Base
	PatientID           uuid.UUID         `db:"patient_id" json:"patient_id"`
	GroupID             uuid.UUID         `db:"group_id" json:"group_id"`
	ClinicID            uuid.UUID         `db:"clinic_id" json:"clinic_id"`
	TokenNumber         string            `db:"token_number" json:"token_number"`
	TokenSeq            int               `db:"token_seq" json:"token_seq"`
	Status              TransactionStatus `db:"status" json:"status"`
	CabinID             *uuid.UUID        `db:"cabin_id" json:"cabin_id,omitempty"`
	RegisteredAt        time.Time         `db:"registered_at" json:"registered_at"`
	CalledAt            *time.Time        `db:"called_at" json:"called_at,omitempty"`
	CallGeneration      int               `db:"call_generation" json:"call_generation"`
	ConsultingStartedAt *time.Time        `db:"consulting_started_at" json:"consulting_started_at,omitempty"`
	ConsultingEndedAt   *time.Time        `db:"consulting_ended_at" json:"consulting_ended_at,omitempty"`
	Notes               string            `db:"notes" json:"notes,omitempty"`
}

// TransactionEvent is an append-only history row written inside the
// same store transaction as the transition it records.
type TransactionEvent struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	TransactionID uuid.UUID         `db:"transaction_id" json:"transaction_id"`
	Event         string            `db:"event" json:"event"`
	FromStatus    TransactionStatus `db:"from_status" json:"from_status"`
	ToStatus      TransactionStatus `db:"to_status" json:"to_status"`
	ActorID       *uuid.UUID        `db:"actor_id" json:"actor_id,omitempty"`
	CabinID       *uuid.UUID        `db:"cabin_id" json:"cabin_id,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

type UpdateNotesRequest struct {
	Notes string `json:"notes" binding:"max=4000"`
}
