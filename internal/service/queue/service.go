package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/internal/service/timer"
	"github.com/jwalitptl/queue-api/internal/service/token"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

// callNextAttempts bounds the re-selection loop when a concurrent
// caller claims the transaction we picked.
const callNextAttempts = 2

// Service is the queue engine: it owns every status transition of a
// patient transaction and the cabin side effects that go with it.
// All mutations commit through repository.Transition, so a competing
// writer whose precondition no longer holds fails cleanly with a
// conflict instead of half-applying.
type Service struct {
	txns     repository.TransactionRepository
	patients repository.PatientRepository
	cabins   repository.CabinRepository
	groups   repository.GroupRepository
	tokens   *token.Service
	timers   *timer.Supervisor
	outbox   repository.OutboxRepository
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	txns repository.TransactionRepository,
	patients repository.PatientRepository,
	cabins repository.CabinRepository,
	groups repository.GroupRepository,
	tokens *token.Service,
	timers *timer.Supervisor,
	outbox repository.OutboxRepository,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		txns:     txns,
		patients: patients,
		cabins:   cabins,
		groups:   groups,
		tokens:   tokens,
		timers:   timers,
		outbox:   outbox,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Register validates the intake, upserts the demographic profile,
// issues the next token for the group and creates the transaction in
// waiting state.
func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*model.PatientTransaction, error) {
	if s.metrics != nil {
		t := prometheus.NewTimer(s.metrics.OperationDuration.WithLabelValues("register"))
		defer t.ObserveDuration()
	}

	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	group, err := s.groups.Get(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	profile := &model.PatientProfile{
		Name:          req.Name,
		Age:           req.Age,
		Gender:        req.Gender,
		ContactNumber: req.ContactNumber,
		Email:         req.EmailAddress,
	}
	if err := s.patients.UpsertByContact(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to upsert patient profile: %w", err)
	}

	tok, err := s.tokens.Issue(ctx, group)
	if err != nil {
		return nil, err
	}

	// v7 ids are time-ordered, so the id tie-break in NextWaiting
	// preserves insertion order for same-timestamp registrations.
	txn := &model.PatientTransaction{
		Base:         model.Base{ID: uuid.Must(uuid.NewV7())},
		PatientID:    profile.ID,
		GroupID:      group.ID,
		ClinicID:     group.ClinicID,
		TokenNumber:  tok.Number,
		TokenSeq:     tok.Seq,
		Status:       model.StatusWaiting,
		RegisteredAt: s.now(),
	}

	event := &model.TransactionEvent{
		TransactionID: txn.ID,
		Event:         "registered",
		FromStatus:    model.StatusWaiting,
		ToStatus:      model.StatusWaiting,
	}
	outboxEvt := s.buildOutbox(model.EventPatientRegistered, map[string]interface{}{
		"transaction_id": txn.ID,
		"token_number":   txn.TokenNumber,
		"group_id":       group.ID,
	})

	if err := s.txns.Create(ctx, txn, event, outboxEvt); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Registrations.Inc()
	}
	s.logger.Info().
		Str("transaction_id", txn.ID.String()).
		Str("token", txn.TokenNumber).
		Str("group", group.Name).
		Msg("patient registered")

	return txn, nil
}

// CallNext claims the oldest waiting transaction in scope for a cabin:
// the transaction moves waiting to calling and the cabin's occupant
// slot is bound in the same commit. If a concurrent caller wins the
// selected transaction, the selection is recomputed once.
func (s *Service) CallNext(ctx context.Context, actor *model.Actor, cabinID uuid.UUID, groupID *uuid.UUID) (*model.PatientTransaction, error) {
	if s.metrics != nil {
		t := prometheus.NewTimer(s.metrics.OperationDuration.WithLabelValues("call_next"))
		defer t.ObserveDuration()
	}

	cabin, err := s.cabins.Get(ctx, cabinID)
	if err != nil {
		return nil, err
	}
	if cabin.DoctorID == nil {
		return nil, apperrors.NewValidation("cabin has no assigned doctor", nil)
	}
	if cabin.OccupantTransaction != nil {
		return nil, apperrors.NewCabinOccupied(cabin.Name)
	}

	scope := repository.Scope{ClinicID: cabin.ClinicID, GroupID: groupID}

	var lastErr error
	for attempt := 0; attempt < callNextAttempts; attempt++ {
		next, err := s.txns.NextWaiting(ctx, scope)
		if err != nil {
			return nil, err
		}
		if next == nil {
			if s.metrics != nil {
				s.metrics.EmptyQueueResults.Inc()
			}
			return nil, apperrors.NewEmptyQueue(scopeName(scope))
		}

		claimed, err := s.claim(ctx, actor, next, cabin)
		if err == nil {
			return claimed, nil
		}
		if !apperrors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		// Lost the race for this transaction; recompute the selection.
		if s.metrics != nil {
			s.metrics.TransitionConflicts.Inc()
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) claim(ctx context.Context, actor *model.Actor, txn *model.PatientTransaction, cabin *model.Cabin) (*model.PatientTransaction, error) {
	patient, err := s.patients.Get(ctx, txn.PatientID)
	if err != nil {
		return nil, err
	}

	calledAt := s.now()
	announcement := &model.Announcement{
		TransactionID: txn.ID,
		TokenNumber:   txn.TokenNumber,
		PatientName:   patient.Name,
		CabinName:     cabin.Name,
	}

	t := &repository.Transition{
		TransactionID:      txn.ID,
		FromStatus:         model.StatusWaiting,
		ToStatus:           model.StatusCalling,
		SetCabin:           &cabin.ID,
		SetCalledAt:        &calledAt,
		BumpCallGeneration: true,
		Cabin: &repository.CabinChange{
			CabinID:        cabin.ID,
			ExpectOccupant: nil,
			SetOccupant:    &txn.ID,
		},
		Event: &model.TransactionEvent{
			TransactionID: txn.ID,
			Event:         "called",
			FromStatus:    model.StatusWaiting,
			ToStatus:      model.StatusCalling,
			ActorID:       actorID(actor),
			CabinID:       &cabin.ID,
		},
		Outbox: s.buildOutbox(model.EventPatientCalled, announcement),
	}

	if err := s.txns.Apply(ctx, t); err != nil {
		return nil, err
	}

	txn.Status = model.StatusCalling
	txn.CabinID = &cabin.ID
	txn.CalledAt = &calledAt
	txn.CallGeneration++

	s.armNoShowTimer(txn)
	s.countTransition(model.StatusWaiting, model.StatusCalling)
	s.logger.Info().
		Str("transaction_id", txn.ID.String()).
		Str("token", txn.TokenNumber).
		Str("cabin", cabin.Name).
		Msg("patient called")

	return txn, nil
}

// Start moves a called patient into consultation. Only legal on the
// cabin assigned to the invoking doctor.
func (s *Service) Start(ctx context.Context, actor *model.Actor, txnID uuid.UUID) (*model.PatientTransaction, error) {
	txn, err := s.txns.Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if err := requireEdge(txn.Status, model.StatusConsulting); err != nil {
		return nil, err
	}
	cabin, err := s.boundCabin(ctx, txn)
	if err != nil {
		return nil, err
	}
	if err := s.requireDoctorOwnsCabin(actor, cabin); err != nil {
		return nil, err
	}

	startedAt := s.now()
	t := &repository.Transition{
		TransactionID:      txn.ID,
		FromStatus:         model.StatusCalling,
		ToStatus:           model.StatusConsulting,
		SetConsultingStart: &startedAt,
		Event: &model.TransactionEvent{
			TransactionID: txn.ID,
			Event:         "consulting_started",
			FromStatus:    model.StatusCalling,
			ToStatus:      model.StatusConsulting,
			ActorID:       actorID(actor),
			CabinID:       txn.CabinID,
		},
		Outbox: s.buildOutbox(model.EventConsultingStarted, map[string]interface{}{
			"transaction_id": txn.ID,
			"token_number":   txn.TokenNumber,
			"cabin_id":       txn.CabinID,
		}),
	}
	if err := s.txns.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.timers.Cancel(txn.ID, txn.CallGeneration)
	s.countTransition(model.StatusCalling, model.StatusConsulting)

	txn.Status = model.StatusConsulting
	txn.ConsultingStartedAt = &startedAt
	return txn, nil
}

// End finishes a consultation: the transaction reaches its terminal
// state and the cabin's occupant slot is freed. The doctor keeps the
// room.
func (s *Service) End(ctx context.Context, actor *model.Actor, txnID uuid.UUID) (*model.PatientTransaction, error) {
	txn, err := s.txns.Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if err := requireEdge(txn.Status, model.StatusConsultationDone); err != nil {
		return nil, err
	}
	if txn.CabinID == nil {
		return nil, apperrors.NewConflict("consulting transaction has no cabin binding")
	}

	endedAt := s.now()
	t := &repository.Transition{
		TransactionID:    txn.ID,
		FromStatus:       model.StatusConsulting,
		ToStatus:         model.StatusConsultationDone,
		SetConsultingEnd: &endedAt,
		ClearCabin:       true,
		Cabin: &repository.CabinChange{
			CabinID:        *txn.CabinID,
			ExpectOccupant: &txn.ID,
			SetOccupant:    nil,
		},
		Event: &model.TransactionEvent{
			TransactionID: txn.ID,
			Event:         "consulting_ended",
			FromStatus:    model.StatusConsulting,
			ToStatus:      model.StatusConsultationDone,
			ActorID:       actorID(actor),
			CabinID:       txn.CabinID,
		},
		Outbox: s.buildOutbox(model.EventConsultingEnded, map[string]interface{}{
			"transaction_id": txn.ID,
			"token_number":   txn.TokenNumber,
		}),
	}
	if err := s.txns.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.timers.Cancel(txn.ID, txn.CallGeneration)
	s.countTransition(model.StatusConsulting, model.StatusConsultationDone)

	txn.Status = model.StatusConsultationDone
	txn.ConsultingEndedAt = &endedAt
	txn.CabinID = nil
	return txn, nil
}

// MarkNoShow retires a called patient who never appeared. Gated by
// elapsed wall-clock time since the call, recomputed from the stored
// timestamp so the decision survives restarts.
func (s *Service) MarkNoShow(ctx context.Context, actor *model.Actor, txnID uuid.UUID) (*model.PatientTransaction, error) {
	txn, err := s.txns.Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if err := requireEdge(txn.Status, model.StatusNoShow); err != nil {
		return nil, err
	}
	if txn.CalledAt == nil || txn.CabinID == nil {
		return nil, apperrors.NewConflict("calling transaction is missing call metadata")
	}
	if !s.timers.NoShowEligible(*txn.CalledAt) {
		remaining := s.timers.RemainingGrace(*txn.CalledAt)
		return nil, apperrors.NewTooEarly(fmt.Sprintf("no-show allowed in %s", remaining.Round(time.Second)))
	}

	t := &repository.Transition{
		TransactionID: txn.ID,
		FromStatus:    model.StatusCalling,
		ToStatus:      model.StatusNoShow,
		ClearCabin:    true,
		Cabin: &repository.CabinChange{
			CabinID:        *txn.CabinID,
			ExpectOccupant: &txn.ID,
			SetOccupant:    nil,
		},
		Event: &model.TransactionEvent{
			TransactionID: txn.ID,
			Event:         "no_show",
			FromStatus:    model.StatusCalling,
			ToStatus:      model.StatusNoShow,
			ActorID:       actorID(actor),
			CabinID:       txn.CabinID,
		},
		Outbox: s.buildOutbox(model.EventPatientNoShow, map[string]interface{}{
			"transaction_id": txn.ID,
			"token_number":   txn.TokenNumber,
		}),
	}
	if err := s.txns.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.timers.Cancel(txn.ID, txn.CallGeneration)
	s.countTransition(model.StatusCalling, model.StatusNoShow)

	txn.Status = model.StatusNoShow
	txn.CabinID = nil
	return txn, nil
}

// RevertToWaiting sends a called or in-consultation patient back to
// the queue and frees the cabin. With leaveRoom the doctor's cabin
// assignment is released in the same commit.
func (s *Service) RevertToWaiting(ctx context.Context, actor *model.Actor, txnID uuid.UUID, leaveRoom bool) (*model.PatientTransaction, error) {
	txn, err := s.txns.Get(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if err := requireEdge(txn.Status, model.StatusWaiting); err != nil {
		return nil, err
	}
	if txn.CabinID == nil {
		return nil, apperrors.NewConflict("active transaction has no cabin binding")
	}

	t := &repository.Transition{
		TransactionID: txn.ID,
		FromStatus:    txn.Status,
		ToStatus:      model.StatusWaiting,
		ClearCabin:    true,
		Cabin: &repository.CabinChange{
			CabinID:        *txn.CabinID,
			ExpectOccupant: &txn.ID,
			SetOccupant:    nil,
			ClearDoctor:    leaveRoom,
		},
		Event: &model.TransactionEvent{
			TransactionID: txn.ID,
			Event:         "reverted",
			FromStatus:    txn.Status,
			ToStatus:      model.StatusWaiting,
			ActorID:       actorID(actor),
			CabinID:       txn.CabinID,
		},
		Outbox: s.buildOutbox(model.EventPatientReverted, map[string]interface{}{
			"transaction_id": txn.ID,
			"token_number":   txn.TokenNumber,
		}),
	}
	if err := s.txns.Apply(ctx, t); err != nil {
		return nil, err
	}

	s.timers.Cancel(txn.ID, txn.CallGeneration)
	s.countTransition(txn.Status, model.StatusWaiting)

	txn.Status = model.StatusWaiting
	txn.CabinID = nil
	return txn, nil
}

// Recall re-announces a called patient. No state change: the commit
// only revalidates that the transaction is still calling and appends
// the event.
func (s *Service) Recall(ctx context.Context, actor *model.Actor, txnID uuid.UUID) error {
	txn, err := s.txns.Get(ctx, txnID)
	if err != nil {
		return err
	}
	if txn.Status != model.StatusCalling {
		return apperrors.NewInvalidTransition(string(txn.Status), string(model.StatusCalling))
	}
	if txn.CabinID == nil {
		return apperrors.NewConflict("calling transaction has no cabin binding")
	}

	patient, err := s.patients.Get(ctx, txn.PatientID)
	if err != nil {
		return err
	}
	cabin, err := s.cabins.Get(ctx, *txn.CabinID)
	if err != nil {
		return err
	}

	t := &repository.Transition{
		TransactionID: txn.ID,
		FromStatus:    model.StatusCalling,
		ToStatus:      model.StatusCalling,
		Event: &model.TransactionEvent{
			TransactionID: txn.ID,
			Event:         "recalled",
			FromStatus:    model.StatusCalling,
			ToStatus:      model.StatusCalling,
			ActorID:       actorID(actor),
			CabinID:       txn.CabinID,
		},
		Outbox: s.buildOutbox(model.EventPatientRecalled, &model.Announcement{
			TransactionID: txn.ID,
			TokenNumber:   txn.TokenNumber,
			PatientName:   patient.Name,
			CabinName:     cabin.Name,
		}),
	}
	return s.txns.Apply(ctx, t)
}

// Get returns a single transaction.
func (s *Service) Get(ctx context.Context, txnID uuid.UUID) (*model.PatientTransaction, error) {
	return s.txns.Get(ctx, txnID)
}

// WaitingList is the assistant worklist for one group, oldest first.
func (s *Service) WaitingList(ctx context.Context, groupID uuid.UUID) ([]*model.PatientTransaction, error) {
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	list, err := s.txns.ListByStatus(ctx, []uuid.UUID{groupID}, model.StatusWaiting)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.WaitingGauge.WithLabelValues(group.Name).Set(float64(len(list)))
	}
	return list, nil
}

// UpdateNotes attaches free-text notes to a transaction.
func (s *Service) UpdateNotes(ctx context.Context, txnID uuid.UUID, notes string) error {
	return s.txns.UpdateNotes(ctx, txnID, notes)
}

// History returns the append-only event trail of a transaction.
func (s *Service) History(ctx context.Context, txnID uuid.UUID) ([]*model.TransactionEvent, error) {
	if _, err := s.txns.Get(ctx, txnID); err != nil {
		return nil, err
	}
	return s.txns.ListEvents(ctx, txnID)
}

// armNoShowTimer schedules the advisory hint that the grace period
// elapsed. The authoritative gate stays in MarkNoShow.
func (s *Service) armNoShowTimer(txn *model.PatientTransaction) {
	id := txn.ID
	generation := txn.CallGeneration
	tokenNumber := txn.TokenNumber

	s.timers.Schedule(id, generation, func() {
		evt := s.buildOutbox(model.EventNoShowEligible, map[string]interface{}{
			"transaction_id":  id,
			"token_number":    tokenNumber,
			"call_generation": generation,
		})
		if err := s.outbox.Create(context.Background(), evt); err != nil {
			s.logger.Error().Err(err).
				Str("transaction_id", id.String()).
				Msg("failed to emit no-show eligibility hint")
		}
	})
}

func (s *Service) boundCabin(ctx context.Context, txn *model.PatientTransaction) (*model.Cabin, error) {
	if txn.CabinID == nil {
		return nil, apperrors.NewConflict("active transaction has no cabin binding")
	}
	return s.cabins.Get(ctx, *txn.CabinID)
}

func (s *Service) requireDoctorOwnsCabin(actor *model.Actor, cabin *model.Cabin) error {
	if actor == nil || actor.Type != model.ActorDoctor {
		return nil
	}
	if cabin.DoctorID == nil || *cabin.DoctorID != actor.ID {
		return apperrors.NewUnauthorized(fmt.Errorf("cabin %s is not assigned to doctor %s", cabin.ID, actor.ID))
	}
	return nil
}

func (s *Service) buildOutbox(eventType string, payload interface{}) *model.OutboxEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal outbox payload")
		raw = []byte(`{}`)
	}
	return &model.OutboxEvent{
		EventType: eventType,
		Payload:   raw,
	}
}

func (s *Service) countTransition(from, to model.TransactionStatus) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// requireEdge validates the requested move against the state machine
// table before any store work is attempted.
func requireEdge(from, to model.TransactionStatus) error {
	if !model.CanTransition(from, to) {
		return apperrors.NewInvalidTransition(string(from), string(to))
	}
	return nil
}

func validateRegistration(req *model.RegisterRequest) error {
	if len(req.Name) < 3 {
		return apperrors.NewValidation("name must be at least 3 characters", nil)
	}
	if req.Age < 0 {
		return apperrors.NewValidation("age cannot be negative", nil)
	}
	switch req.Gender {
	case model.GenderMale, model.GenderFemale, model.GenderOther:
	default:
		return apperrors.NewValidation("gender must be male, female or other", nil)
	}
	return nil
}

func actorID(actor *model.Actor) *uuid.UUID {
	if actor == nil {
		return nil
	}
	return &actor.ID
}

func scopeName(scope repository.Scope) string {
	if scope.GroupID != nil {
		return fmt.Sprintf("group %s", scope.GroupID)
	}
	return fmt.Sprintf("clinic %s", scope.ClinicID)
}
