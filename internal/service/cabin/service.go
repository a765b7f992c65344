// Package cabin manages the room registry: which doctor sits where and
// which transaction currently occupies each room.
package cabin

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/internal/service/queue"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

type Service struct {
	cabins   repository.CabinRepository
	txns     repository.TransactionRepository
	patients repository.PatientRepository
	queue    *queue.Service
	logger   zerolog.Logger
}

func NewService(
	cabins repository.CabinRepository,
	txns repository.TransactionRepository,
	patients repository.PatientRepository,
	queueSvc *queue.Service,
	logger zerolog.Logger,
) *Service {
	return &Service{
		cabins:   cabins,
		txns:     txns,
		patients: patients,
		queue:    queueSvc,
		logger:   logger,
	}
}

// AssignDoctor binds a doctor to a cabin. A cabin held by a different
// doctor must be vacated first.
func (s *Service) AssignDoctor(ctx context.Context, cabinID, doctorID uuid.UUID, doctorName string) (*model.Cabin, error) {
	if err := s.cabins.AssignDoctor(ctx, cabinID, doctorID, doctorName); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("cabin_id", cabinID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("doctor assigned to cabin")
	return s.cabins.Get(ctx, cabinID)
}

// Vacate releases a cabin. A live occupant is sent back to the queue
// first; the occupant revert and the doctor release commit together,
// so the room is never left half-freed.
func (s *Service) Vacate(ctx context.Context, actor *model.Actor, cabinID uuid.UUID) error {
	cabin, err := s.cabins.Get(ctx, cabinID)
	if err != nil {
		return err
	}
	if cabin.DoctorID == nil {
		return apperrors.NewValidation("cabin has no assigned doctor", nil)
	}

	if cabin.OccupantTransaction != nil {
		_, err := s.queue.RevertToWaiting(ctx, actor, *cabin.OccupantTransaction, true)
		if err != nil {
			return err
		}
		s.logger.Info().
			Str("cabin_id", cabinID.String()).
			Str("transaction_id", cabin.OccupantTransaction.String()).
			Msg("cabin vacated with live occupant reverted")
		return nil
	}

	if err := s.cabins.ClearDoctor(ctx, cabinID); err != nil {
		return err
	}
	s.logger.Info().Str("cabin_id", cabinID.String()).Msg("cabin vacated")
	return nil
}

// OccupantOf reports the transaction currently bound to a cabin, nil
// when the room is free.
func (s *Service) OccupantOf(ctx context.Context, cabinID uuid.UUID) (*uuid.UUID, error) {
	return s.cabins.OccupantOf(ctx, cabinID)
}

// Get returns a single cabin row.
func (s *Service) Get(ctx context.Context, cabinID uuid.UUID) (*model.Cabin, error) {
	return s.cabins.Get(ctx, cabinID)
}

// ListByClinic returns all cabins of a clinic, ordered by name.
func (s *Service) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.Cabin, error) {
	return s.cabins.ListByClinic(ctx, clinicID)
}

// Dashboard assembles the per-room doctor view: the cabin, the
// occupying transaction and the occupant's profile.
func (s *Service) Dashboard(ctx context.Context, cabinID uuid.UUID) (*model.CabinDashboard, error) {
	cabin, err := s.cabins.Get(ctx, cabinID)
	if err != nil {
		return nil, err
	}
	dash := &model.CabinDashboard{Cabin: cabin}
	if cabin.OccupantTransaction == nil {
		return dash, nil
	}

	txn, err := s.txns.Get(ctx, *cabin.OccupantTransaction)
	if err != nil {
		return nil, err
	}
	dash.Occupant = txn

	patient, err := s.patients.Get(ctx, txn.PatientID)
	if err != nil {
		return nil, err
	}
	dash.Patient = patient
	return dash, nil
}
