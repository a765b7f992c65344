package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

type groupRepository struct {
	db *sqlx.DB
}

func NewGroupRepository(db *sqlx.DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Get(ctx context.Context, id uuid.UUID) (*model.ClinicGroup, error) {
	query := `
		SELECT id, clinic_id, name, token_prefix, created_at, updated_at
		FROM clinic_groups
		WHERE id = $1
	`
	var group model.ClinicGroup
	err := r.db.GetContext(ctx, &group, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("clinic group", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clinic group: %w", err)
	}
	return &group, nil
}

func (r *groupRepository) ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.ClinicGroup, error) {
	query := `
		SELECT id, clinic_id, name, token_prefix, created_at, updated_at
		FROM clinic_groups
		WHERE clinic_id = $1
		ORDER BY name ASC
	`
	var groups []*model.ClinicGroup
	if err := r.db.SelectContext(ctx, &groups, query, clinicID); err != nil {
		return nil, fmt.Errorf("failed to list clinic groups: %w", err)
	}
	return groups, nil
}

func (r *groupRepository) GetScreen(ctx context.Context, id uuid.UUID) (*model.Screen, error) {
	query := `
		SELECT id, clinic_id, name, created_at, updated_at
		FROM screens
		WHERE id = $1
	`
	var screen model.Screen
	err := r.db.GetContext(ctx, &screen, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("screen", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screen: %w", err)
	}
	return &screen, nil
}

func (r *groupRepository) GroupsForScreen(ctx context.Context, screenID uuid.UUID) ([]*model.ClinicGroup, error) {
	query := `
		SELECT g.id, g.clinic_id, g.name, g.token_prefix, g.created_at, g.updated_at
		FROM clinic_groups g
		JOIN screen_groups sg ON sg.group_id = g.id
		WHERE sg.screen_id = $1
		ORDER BY g.name ASC
	`
	var groups []*model.ClinicGroup
	if err := r.db.SelectContext(ctx, &groups, query, screenID); err != nil {
		return nil, fmt.Errorf("failed to list screen groups: %w", err)
	}
	return groups, nil
}
