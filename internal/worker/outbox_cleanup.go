package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/queue-api/internal/repository"
)

// OutboxCleanupWorker trims processed outbox rows past the retention
// window so the table stays small under clinic-day traffic.
type OutboxCleanupWorker struct {
	repo            repository.OutboxRepository
	retainFor       time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retainFor, cleanupInterval time.Duration, logger zerolog.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:            repo,
		retainFor:       retainFor,
		cleanupInterval: cleanupInterval,
		logger:          logger,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error().Err(err).Msg("outbox cleanup failed")
			}
		}
	}
}

func (w *OutboxCleanupWorker) cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-w.retainFor)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete processed outbox events: %w", err)
	}

	if rows > 0 {
		w.logger.Info().Int64("rows", rows).Time("cutoff", cutoff).Msg("trimmed processed outbox events")
	}
	return nil
}
