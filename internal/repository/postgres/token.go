package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/repository"
)

type tokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) repository.TokenRepository {
	return &tokenRepository{db: db}
}

// NextSeq is a store-side atomic increment per (group, day), so token
// numbers stay strictly increasing across process restarts and
// concurrent instances.
func (r *tokenRepository) NextSeq(ctx context.Context, groupID uuid.UUID, day string) (int, error) {
	query := `
		INSERT INTO token_counters (group_id, day, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (group_id, day) DO UPDATE
		SET seq = token_counters.seq + 1
		RETURNING seq
	`
	var seq int
	if err := r.db.QueryRowxContext(ctx, query, groupID, day).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to increment token counter: %w", err)
	}
	return seq, nil
}
