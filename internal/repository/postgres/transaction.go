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

const transactionColumns = `
	id, patient_id, group_id, clinic_id, token_number, token_seq, status,
	cabin_id, registered_at, called_at, call_generation,
	consulting_started_at, consulting_ended_at, COALESCE(notes, '') AS notes,
	created_at, updated_at
`

type transactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) repository.TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, txn *model.PatientTransaction, event *model.TransactionEvent, outbox *model.OutboxEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if txn.ID == uuid.Nil {
		txn.ID = uuid.Must(uuid.NewV7())
	}
	txn.CreatedAt = now
	txn.UpdatedAt = now

	query := `
		INSERT INTO patient_transactions (
			id, patient_id, group_id, clinic_id, token_number, token_seq,
			status, registered_at, call_generation, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11)
	`
	_, err = tx.ExecContext(ctx, query,
		txn.ID, txn.PatientID, txn.GroupID, txn.ClinicID,
		txn.TokenNumber, txn.TokenSeq, txn.Status, txn.RegisteredAt,
		txn.Notes, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient transaction: %w", err)
	}

	if event != nil {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}
	if outbox != nil {
		if err := insertOutbox(ctx, tx, outbox); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registration: %w", err)
	}
	return nil
}

func (r *transactionRepository) Get(ctx context.Context, id uuid.UUID) (*model.PatientTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM patient_transactions WHERE id = $1`

	var txn model.PatientTransaction
	err := r.db.GetContext(ctx, &txn, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("transaction", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &txn, nil
}

func (r *transactionRepository) NextWaiting(ctx context.Context, scope repository.Scope) (*model.PatientTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM patient_transactions
		WHERE clinic_id = $1 AND status = $2
	`
	args := []interface{}{scope.ClinicID, model.StatusWaiting}
	if scope.GroupID != nil {
		query += ` AND group_id = $3`
		args = append(args, *scope.GroupID)
	}
	query += ` ORDER BY registered_at ASC, id ASC LIMIT 1`

	var txn model.PatientTransaction
	err := r.db.GetContext(ctx, &txn, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next waiting: %w", err)
	}
	return &txn, nil
}

func (r *transactionRepository) ListByStatus(ctx context.Context, groupIDs []uuid.UUID, status model.TransactionStatus) ([]*model.PatientTransaction, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + transactionColumns + `
		FROM patient_transactions
		WHERE group_id = ANY($1) AND status = $2
		ORDER BY registered_at ASC, id ASC
	`
	var txns []*model.PatientTransaction
	if err := r.db.SelectContext(ctx, &txns, query, pq.Array(groupIDs), status); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// Apply commits one logical queue transition. The transaction row and,
// when present, the cabin row are updated with status preconditions in
// the WHERE clause; zero rows affected means another writer got there
// first and the whole commit is abandoned.
func (r *transactionRepository) Apply(ctx context.Context, t *repository.Transition) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition: %w", err)
	}
	defer tx.Rollback()

	if err := r.applyTransactionRow(ctx, tx, t); err != nil {
		return err
	}
	if t.Cabin != nil {
		if err := r.applyCabinRow(ctx, tx, t.Cabin); err != nil {
			return err
		}
	}
	if t.Event != nil {
		if err := insertEvent(ctx, tx, t.Event); err != nil {
			return err
		}
	}
	if t.Outbox != nil {
		if err := insertOutbox(ctx, tx, t.Outbox); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (r *transactionRepository) applyTransactionRow(ctx context.Context, tx *sqlx.Tx, t *repository.Transition) error {
	query := `UPDATE patient_transactions SET status = $1, updated_at = $2`
	args := []interface{}{t.ToStatus, time.Now()}

	addArg := func(clause string, value interface{}) {
		args = append(args, value)
		query += fmt.Sprintf(clause, len(args))
	}

	if t.SetCabin != nil {
		addArg(", cabin_id = $%d", *t.SetCabin)
	}
	if t.ClearCabin {
		query += ", cabin_id = NULL"
	}
	if t.SetCalledAt != nil {
		addArg(", called_at = $%d", *t.SetCalledAt)
	}
	if t.BumpCallGeneration {
		query += ", call_generation = call_generation + 1"
	}
	if t.SetConsultingStart != nil {
		addArg(", consulting_started_at = $%d", *t.SetConsultingStart)
	}
	if t.SetConsultingEnd != nil {
		addArg(", consulting_ended_at = $%d", *t.SetConsultingEnd)
	}

	args = append(args, t.TransactionID, t.FromStatus)
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", len(args)-1, len(args))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewConflict(fmt.Sprintf("transaction %s is no longer %s", t.TransactionID, t.FromStatus))
	}
	return nil
}

func (r *transactionRepository) applyCabinRow(ctx context.Context, tx *sqlx.Tx, c *repository.CabinChange) error {
	query := `UPDATE cabins SET occupant_transaction_id = $1, updated_at = $2`
	args := []interface{}{c.SetOccupant, time.Now()}

	if c.ClearDoctor {
		query += ", doctor_id = NULL, doctor_name = NULL"
	}

	args = append(args, c.CabinID)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	if c.ExpectOccupant != nil {
		args = append(args, *c.ExpectOccupant)
		query += fmt.Sprintf(" AND occupant_transaction_id = $%d", len(args))
	} else {
		query += " AND occupant_transaction_id IS NULL"
	}
	// An occupant may only ever be bound to a staffed cabin; the guard
	// must hold at commit time, not just at selection time.
	if c.SetOccupant != nil {
		query += " AND doctor_id IS NOT NULL"
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update cabin: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return r.cabinChangeConflict(ctx, tx, c)
	}
	return nil
}

// cabinChangeConflict reports why a guarded cabin update matched no row.
func (r *transactionRepository) cabinChangeConflict(ctx context.Context, tx *sqlx.Tx, c *repository.CabinChange) error {
	if c.ExpectOccupant != nil {
		return apperrors.NewConflict(fmt.Sprintf("cabin %s occupant changed", c.CabinID))
	}
	var occupied bool
	err := tx.GetContext(ctx, &occupied,
		`SELECT occupant_transaction_id IS NOT NULL FROM cabins WHERE id = $1`, c.CabinID)
	if err == nil && occupied {
		return apperrors.NewCabinOccupied(c.CabinID.String())
	}
	return apperrors.NewConflict(fmt.Sprintf("cabin %s cannot take an occupant", c.CabinID))
}

func (r *transactionRepository) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	query := `UPDATE patient_transactions SET notes = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, notes, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update notes: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("transaction", nil)
	}
	return nil
}

func (r *transactionRepository) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]*model.TransactionEvent, error) {
	query := `
		SELECT id, transaction_id, event, from_status, to_status, actor_id, cabin_id, created_at
		FROM transaction_events
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`
	var events []*model.TransactionEvent
	if err := r.db.SelectContext(ctx, &events, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to list transaction events: %w", err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, event *model.TransactionEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO transaction_events (id, transaction_id, event, from_status, to_status, actor_id, cabin_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID, event.TransactionID, event.Event,
		event.FromStatus, event.ToStatus, event.ActorID, event.CabinID, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction event: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now()
	event.Status = model.OutboxStatusPending
	event.CreatedAt = now
	event.UpdatedAt = now

	query := `
		INSERT INTO outbox_events (id, event_type, payload, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID, event.EventType, event.Payload, event.Status,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}
