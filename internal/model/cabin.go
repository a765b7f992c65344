package model

import (
	"github.com/google/uuid"
)

// Cabin is a physical consultation room. It carries at most one
// assigned doctor and at most one occupying transaction; the occupant,
// when present, must be in calling or consulting state.
type Cabin struct {
	Base
	ClinicID             uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	Name                 string     `db:"name" json:"name"`
	DoctorID             *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	DoctorName           *string    `db:"doctor_name" json:"doctor_name,omitempty"`
	OccupantTransaction  *uuid.UUID `db:"occupant_transaction_id" json:"occupant_transaction_id,omitempty"`
}

type AssignDoctorRequest struct {
	DoctorID   uuid.UUID `json:"doctor_id" binding:"required"`
	DoctorName string    `json:"doctor_name" binding:"required,min=2,max=100"`
}

type CallNextRequest struct {
	// Optional narrowing of the selection scope to one clinic group;
	// defaults to the cabin's whole clinic.
	GroupID *uuid.UUID `json:"group_id"`
}

// CabinDashboard is the per-room view used by doctor dashboards: the
// cabin plus its live occupant, if any.
type CabinDashboard struct {
	Cabin    *Cabin              `json:"cabin"`
	Occupant *PatientTransaction `json:"occupant,omitempty"`
	Patient  *PatientProfile     `json:"patient,omitempty"`
}
