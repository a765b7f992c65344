package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

const cabinColumns = `
	id, clinic_id, name, doctor_id, doctor_name, occupant_transaction_id,
	created_at, updated_at
`

type cabinRepository struct {
	db *sqlx.DB
}

func NewCabinRepository(db *sqlx.DB) repository.CabinRepository {
	return &cabinRepository{db: db}
}

func (r *cabinRepository) Get(ctx context.Context, id uuid.UUID) (*model.Cabin, error) {
	query := `SELECT ` + cabinColumns + ` FROM cabins WHERE id = $1`

	var cabin model.Cabin
	err := r.db.GetContext(ctx, &cabin, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("cabin", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cabin: %w", err)
	}
	return &cabin, nil
}

func (r *cabinRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.Cabin, error) {
	query := `SELECT ` + cabinColumns + ` FROM cabins WHERE clinic_id = $1 ORDER BY name ASC`

	var cabins []*model.Cabin
	if err := r.db.SelectContext(ctx, &cabins, query, clinicID); err != nil {
		return nil, fmt.Errorf("failed to list cabins: %w", err)
	}
	return cabins, nil
}

// AssignDoctor binds a doctor to a cabin that is either free or already
// held by the same doctor. The condition is enforced in the WHERE
// clause so two doctors racing for one room cannot both win.
func (r *cabinRepository) AssignDoctor(ctx context.Context, cabinID, doctorID uuid.UUID, doctorName string) error {
	query := `
		UPDATE cabins
		SET doctor_id = $1, doctor_name = $2, updated_at = $3
		WHERE id = $4 AND (doctor_id IS NULL OR doctor_id = $1)
	`
	result, err := r.db.ExecContext(ctx, query, doctorID, doctorName, time.Now(), cabinID)
	if err != nil {
		return fmt.Errorf("failed to assign doctor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.Get(ctx, cabinID); getErr != nil {
			return getErr
		}
		return apperrors.NewCabinOccupied(cabinID.String())
	}
	return nil
}

func (r *cabinRepository) ClearDoctor(ctx context.Context, cabinID uuid.UUID) error {
	query := `
		UPDATE cabins
		SET doctor_id = NULL, doctor_name = NULL, updated_at = $1
		WHERE id = $2 AND occupant_transaction_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, time.Now(), cabinID)
	if err != nil {
		return fmt.Errorf("failed to clear doctor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.Get(ctx, cabinID); getErr != nil {
			return getErr
		}
		return apperrors.NewCabinOccupied(cabinID.String())
	}
	return nil
}

func (r *cabinRepository) OccupantOf(ctx context.Context, cabinID uuid.UUID) (*uuid.UUID, error) {
	query := `SELECT occupant_transaction_id FROM cabins WHERE id = $1`

	var occupant *uuid.UUID
	err := r.db.GetContext(ctx, &occupant, query, cabinID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("cabin", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cabin occupant: %w", err)
	}
	return occupant, nil
}
