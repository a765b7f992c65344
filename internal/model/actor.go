package model

import (
	"github.com/google/uuid"
)

type ActorType string

const (
	ActorAssistant ActorType = "assistant"
	ActorDoctor    ActorType = "doctor"
)

// Actor identifies the staff member invoking a queue operation, as
// extracted from the request token. Doctors act through their assigned
// cabin; assistants act for the whole clinic.
type Actor struct {
	ID       uuid.UUID `json:"id"`
	Type     ActorType `json:"type"`
	Name     string    `json:"name"`
	ClinicID uuid.UUID `json:"clinic_id"`
}
