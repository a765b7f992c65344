package model

import (
	"github.com/google/uuid"
)

// ClinicGroup is an organizational unit (department) with its own
// token sequence. Static configuration, read-only to the queue engine.
type ClinicGroup struct {
	Base
	ClinicID    uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Name        string    `db:"name" json:"name"`
	TokenPrefix string    `db:"token_prefix" json:"token_prefix"`
}

// Screen is a public display bound to one or more clinic groups.
type Screen struct {
	Base
	ClinicID uuid.UUID `db:"clinic_id" json:"clinic_id"`
	Name     string    `db:"name" json:"name"`
}
