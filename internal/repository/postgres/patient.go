package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

type patientRepository struct {
	db *sqlx.DB
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.PatientProfile, error) {
	query := `
		SELECT id, name, age, gender, COALESCE(contact_number, '') AS contact_number, email, created_at, updated_at
		FROM patient_profiles
		WHERE id = $1
	`
	var profile model.PatientProfile
	err := r.db.GetContext(ctx, &profile, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("patient profile", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient profile: %w", err)
	}
	return &profile, nil
}

func (r *patientRepository) UpsertByContact(ctx context.Context, profile *model.PatientProfile) error {
	now := time.Now()
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	profile.CreatedAt = now
	profile.UpdatedAt = now

	// Walk-ins without a contact number get a fresh profile every time.
	if profile.ContactNumber == "" {
		query := `
			INSERT INTO patient_profiles (id, name, age, gender, contact_number, email, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NULL, $5, $6, $7)
		`
		_, err := r.db.ExecContext(ctx, query,
			profile.ID, profile.Name, profile.Age, profile.Gender,
			profile.Email, profile.CreatedAt, profile.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create patient profile: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO patient_profiles (id, name, age, gender, contact_number, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (contact_number) DO UPDATE
		SET name = EXCLUDED.name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		profile.ID, profile.Name, profile.Age, profile.Gender,
		profile.ContactNumber, profile.Email, profile.CreatedAt, profile.UpdatedAt,
	).Scan(&profile.ID, &profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert patient profile: %w", err)
	}
	return nil
}

func (r *patientRepository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.PatientProfile, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*model.PatientProfile{}, nil
	}

	query := `
		SELECT id, name, age, gender, COALESCE(contact_number, '') AS contact_number, email, created_at, updated_at
		FROM patient_profiles
		WHERE id = ANY($1)
	`
	var profiles []*model.PatientProfile
	if err := r.db.SelectContext(ctx, &profiles, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list patient profiles: %w", err)
	}

	result := make(map[uuid.UUID]*model.PatientProfile, len(profiles))
	for _, p := range profiles {
		result[p.ID] = p
	}
	return result, nil
}
