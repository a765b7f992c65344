package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
)

// Scope narrows queue selection to a clinic and, optionally, one of
// its groups.
type Scope struct {
	ClinicID uuid.UUID
	GroupID  *uuid.UUID
}

// CabinChange describes the cabin side effect of a transition. The
// expectations are enforced with conditional writes; a failed
// expectation aborts the whole transition with a conflict.
type CabinChange struct {
	CabinID uuid.UUID
	// ExpectOccupant is the occupant the cabin must currently hold.
	// Nil means the cabin must be free.
	ExpectOccupant *uuid.UUID
	// SetOccupant is the new occupant. Nil clears the slot.
	SetOccupant *uuid.UUID
	// ClearDoctor also releases the doctor assignment (leave-room).
	ClearDoctor bool
}

// Transition is one logical queue-engine state change: the transaction
// row update, its cabin side effect, the history row and the outbox
// event, committed as a single store transaction. FromStatus is the
// precondition; a row no longer in that status fails the commit.
type Transition struct {
	TransactionID uuid.UUID
	FromStatus    model.TransactionStatus
	ToStatus      model.TransactionStatus

	SetCabin           *uuid.UUID
	ClearCabin         bool
	SetCalledAt        *time.Time
	BumpCallGeneration bool
	SetConsultingStart *time.Time
	SetConsultingEnd   *time.Time

	Cabin  *CabinChange
	Event  *model.TransactionEvent
	Outbox *model.OutboxEvent
}

type (
	PatientRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.PatientProfile, error)
		// UpsertByContact creates the profile or refreshes its
		// demographics when the contact number is already known.
		// Profiles without a contact number are always inserted.
		UpsertByContact(ctx context.Context, profile *model.PatientProfile) error
		GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.PatientProfile, error)
	}

	TransactionRepository interface {
		// Create inserts the waiting transaction together with its
		// registration history row and outbox event.
		Create(ctx context.Context, txn *model.PatientTransaction, event *model.TransactionEvent, outbox *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.PatientTransaction, error)
		// NextWaiting returns the oldest waiting transaction in scope,
		// or nil when the queue is empty. Timestamp ties are broken by
		// id; transaction ids are time-ordered v7, so that matches
		// insertion order.
		NextWaiting(ctx context.Context, scope Scope) (*model.PatientTransaction, error)
		ListByStatus(ctx context.Context, groupIDs []uuid.UUID, status model.TransactionStatus) ([]*model.PatientTransaction, error)
		// Apply commits a Transition atomically, or returns a conflict
		// when any precondition no longer holds.
		Apply(ctx context.Context, t *Transition) error
		UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
		ListEvents(ctx context.Context, transactionID uuid.UUID) ([]*model.TransactionEvent, error)
	}

	CabinRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Cabin, error)
		ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.Cabin, error)
		// AssignDoctor binds a doctor to a free cabin; fails when a
		// different doctor already holds it.
		AssignDoctor(ctx context.Context, cabinID, doctorID uuid.UUID, doctorName string) error
		ClearDoctor(ctx context.Context, cabinID uuid.UUID) error
		OccupantOf(ctx context.Context, cabinID uuid.UUID) (*uuid.UUID, error)
	}

	GroupRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.ClinicGroup, error)
		ListByClinic(ctx context.Context, clinicID uuid.UUID) ([]*model.ClinicGroup, error)
		GetScreen(ctx context.Context, id uuid.UUID) (*model.Screen, error)
		// GroupsForScreen resolves the clinic groups a public screen
		// is bound to.
		GroupsForScreen(ctx context.Context, screenID uuid.UUID) ([]*model.ClinicGroup, error)
	}

	TokenRepository interface {
		// NextSeq atomically increments and returns the token sequence
		// for a (group, day) pair. Safe across restarts and instances.
		NextSeq(ctx context.Context, groupID uuid.UUID, day string) (int, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingWithLock claims up to limit due events with
		// SKIP LOCKED semantics so concurrent workers never double-send.
		GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
