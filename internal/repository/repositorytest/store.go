// Package repositorytest provides an in-memory implementation of the
// repository interfaces with the same precondition semantics as the
// postgres layer, for use in service tests.
package repositorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

// Store is a mutex-guarded in-memory backing store. Transitions apply
// atomically under the lock, mirroring the conditional writes of the
// postgres repositories.
type Store struct {
	mu sync.Mutex

	patients     map[uuid.UUID]*model.PatientProfile
	transactions map[uuid.UUID]*model.PatientTransaction
	cabins       map[uuid.UUID]*model.Cabin
	groups       map[uuid.UUID]*model.ClinicGroup
	screens      map[uuid.UUID]*model.Screen
	screenGroups map[uuid.UUID][]uuid.UUID
	events       []*model.TransactionEvent
	outbox       []*model.OutboxEvent
	seqs         map[string]int
}

func NewStore() *Store {
	return &Store{
		patients:     make(map[uuid.UUID]*model.PatientProfile),
		transactions: make(map[uuid.UUID]*model.PatientTransaction),
		cabins:       make(map[uuid.UUID]*model.Cabin),
		groups:       make(map[uuid.UUID]*model.ClinicGroup),
		screens:      make(map[uuid.UUID]*model.Screen),
		screenGroups: make(map[uuid.UUID][]uuid.UUID),
		seqs:         make(map[string]int),
	}
}

// Seed helpers

func (s *Store) AddGroup(group *model.ClinicGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = group
}

func (s *Store) AddCabin(cabin *model.Cabin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cabin
	s.cabins[cabin.ID] = &copied
}

func (s *Store) AddScreen(screen *model.Screen, groupIDs ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screens[screen.ID] = screen
	s.screenGroups[screen.ID] = groupIDs
}

// Cabin returns a snapshot of a cabin row.
func (s *Store) Cabin(id uuid.UUID) *model.Cabin {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cabins[id]; ok {
		copied := *c
		return &copied
	}
	return nil
}

// Events returns the recorded transaction events.
func (s *Store) Events() []*model.TransactionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.TransactionEvent(nil), s.events...)
}

// OutboxEvents returns the recorded outbox rows.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.OutboxEvent(nil), s.outbox...)
}

// Facades

func (s *Store) Patients() repository.PatientRepository         { return &patientFake{s} }
func (s *Store) Transactions() repository.TransactionRepository { return &transactionFake{s} }
func (s *Store) Cabins() repository.CabinRepository             { return &cabinFake{s} }
func (s *Store) Groups() repository.GroupRepository             { return &groupFake{s} }
func (s *Store) Tokens() repository.TokenRepository             { return &tokenFake{s} }
func (s *Store) Outbox() repository.OutboxRepository            { return &outboxFake{s} }

// Patient repository

type patientFake struct{ s *Store }

func (f *patientFake) Get(_ context.Context, id uuid.UUID) (*model.PatientProfile, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.patients[id]
	if !ok {
		return nil, apperrors.NewNotFound("patient profile", nil)
	}
	copied := *p
	return &copied, nil
}

func (f *patientFake) UpsertByContact(_ context.Context, profile *model.PatientProfile) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	now := time.Now()
	if profile.ContactNumber != "" {
		for _, p := range f.s.patients {
			if p.ContactNumber == profile.ContactNumber {
				p.Name = profile.Name
				p.Age = profile.Age
				p.Gender = profile.Gender
				p.Email = profile.Email
				p.UpdatedAt = now
				profile.ID = p.ID
				profile.CreatedAt = p.CreatedAt
				return nil
			}
		}
	}
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	profile.CreatedAt = now
	profile.UpdatedAt = now
	copied := *profile
	f.s.patients[profile.ID] = &copied
	return nil
}

func (f *patientFake) GetMany(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.PatientProfile, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	result := make(map[uuid.UUID]*model.PatientProfile)
	for _, id := range ids {
		if p, ok := f.s.patients[id]; ok {
			copied := *p
			result[id] = &copied
		}
	}
	return result, nil
}

// Transaction repository

type transactionFake struct{ s *Store }

func (f *transactionFake) Create(_ context.Context, txn *model.PatientTransaction, event *model.TransactionEvent, outbox *model.OutboxEvent) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	now := time.Now()
	if txn.ID == uuid.Nil {
		txn.ID = uuid.Must(uuid.NewV7())
	}
	txn.CreatedAt = now
	txn.UpdatedAt = now
	copied := *txn
	f.s.transactions[txn.ID] = &copied
	if event != nil {
		f.s.appendEvent(event)
	}
	if outbox != nil {
		f.s.appendOutbox(outbox)
	}
	return nil
}

func (f *transactionFake) Get(_ context.Context, id uuid.UUID) (*model.PatientTransaction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	txn, ok := f.s.transactions[id]
	if !ok {
		return nil, apperrors.NewNotFound("transaction", nil)
	}
	copied := *txn
	return &copied, nil
}

func (f *transactionFake) NextWaiting(_ context.Context, scope repository.Scope) (*model.PatientTransaction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	candidates := f.s.selectByStatus(model.StatusWaiting, func(t *model.PatientTransaction) bool {
		if t.ClinicID != scope.ClinicID {
			return false
		}
		return scope.GroupID == nil || t.GroupID == *scope.GroupID
	})
	if len(candidates) == 0 {
		return nil, nil
	}
	copied := *candidates[0]
	return &copied, nil
}

func (f *transactionFake) ListByStatus(_ context.Context, groupIDs []uuid.UUID, status model.TransactionStatus) ([]*model.PatientTransaction, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	inScope := make(map[uuid.UUID]bool, len(groupIDs))
	for _, id := range groupIDs {
		inScope[id] = true
	}
	candidates := f.s.selectByStatus(status, func(t *model.PatientTransaction) bool {
		return inScope[t.GroupID]
	})
	result := make([]*model.PatientTransaction, 0, len(candidates))
	for _, t := range candidates {
		copied := *t
		result = append(result, &copied)
	}
	return result, nil
}

func (f *transactionFake) Apply(_ context.Context, t *repository.Transition) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	txn, ok := f.s.transactions[t.TransactionID]
	if !ok {
		return apperrors.NewNotFound("transaction", nil)
	}
	if txn.Status != t.FromStatus {
		return apperrors.NewConflict(fmt.Sprintf("transaction %s is no longer %s", t.TransactionID, t.FromStatus))
	}

	var cabin *model.Cabin
	if t.Cabin != nil {
		cabin, ok = f.s.cabins[t.Cabin.CabinID]
		if !ok {
			return apperrors.NewNotFound("cabin", nil)
		}
		if t.Cabin.ExpectOccupant == nil {
			if cabin.OccupantTransaction != nil {
				return apperrors.NewCabinOccupied(cabin.Name)
			}
		} else if cabin.OccupantTransaction == nil || *cabin.OccupantTransaction != *t.Cabin.ExpectOccupant {
			return apperrors.NewConflict(fmt.Sprintf("cabin %s occupant changed", cabin.ID))
		}
		if t.Cabin.SetOccupant != nil && cabin.DoctorID == nil {
			return apperrors.NewConflict(fmt.Sprintf("cabin %s cannot take an occupant", cabin.ID))
		}
	}

	txn.Status = t.ToStatus
	txn.UpdatedAt = time.Now()
	if t.SetCabin != nil {
		txn.CabinID = t.SetCabin
	}
	if t.ClearCabin {
		txn.CabinID = nil
	}
	if t.SetCalledAt != nil {
		txn.CalledAt = t.SetCalledAt
	}
	if t.BumpCallGeneration {
		txn.CallGeneration++
	}
	if t.SetConsultingStart != nil {
		txn.ConsultingStartedAt = t.SetConsultingStart
	}
	if t.SetConsultingEnd != nil {
		txn.ConsultingEndedAt = t.SetConsultingEnd
	}

	if cabin != nil {
		cabin.OccupantTransaction = t.Cabin.SetOccupant
		if t.Cabin.ClearDoctor {
			cabin.DoctorID = nil
			cabin.DoctorName = nil
		}
		cabin.UpdatedAt = time.Now()
	}

	if t.Event != nil {
		f.s.appendEvent(t.Event)
	}
	if t.Outbox != nil {
		f.s.appendOutbox(t.Outbox)
	}
	return nil
}

func (f *transactionFake) UpdateNotes(_ context.Context, id uuid.UUID, notes string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	txn, ok := f.s.transactions[id]
	if !ok {
		return apperrors.NewNotFound("transaction", nil)
	}
	txn.Notes = notes
	txn.UpdatedAt = time.Now()
	return nil
}

func (f *transactionFake) ListEvents(_ context.Context, transactionID uuid.UUID) ([]*model.TransactionEvent, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var result []*model.TransactionEvent
	for _, e := range f.s.events {
		if e.TransactionID == transactionID {
			copied := *e
			result = append(result, &copied)
		}
	}
	return result, nil
}

// Cabin repository

type cabinFake struct{ s *Store }

func (f *cabinFake) Get(_ context.Context, id uuid.UUID) (*model.Cabin, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cabin, ok := f.s.cabins[id]
	if !ok {
		return nil, apperrors.NewNotFound("cabin", nil)
	}
	copied := *cabin
	return &copied, nil
}

func (f *cabinFake) ListByClinic(_ context.Context, clinicID uuid.UUID) ([]*model.Cabin, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var result []*model.Cabin
	for _, c := range f.s.cabins {
		if c.ClinicID == clinicID {
			copied := *c
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (f *cabinFake) AssignDoctor(_ context.Context, cabinID, doctorID uuid.UUID, doctorName string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cabin, ok := f.s.cabins[cabinID]
	if !ok {
		return apperrors.NewNotFound("cabin", nil)
	}
	if cabin.DoctorID != nil && *cabin.DoctorID != doctorID {
		return apperrors.NewCabinOccupied(cabinID.String())
	}
	cabin.DoctorID = &doctorID
	cabin.DoctorName = &doctorName
	cabin.UpdatedAt = time.Now()
	return nil
}

func (f *cabinFake) ClearDoctor(_ context.Context, cabinID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cabin, ok := f.s.cabins[cabinID]
	if !ok {
		return apperrors.NewNotFound("cabin", nil)
	}
	if cabin.OccupantTransaction != nil {
		return apperrors.NewCabinOccupied(cabinID.String())
	}
	cabin.DoctorID = nil
	cabin.DoctorName = nil
	cabin.UpdatedAt = time.Now()
	return nil
}

func (f *cabinFake) OccupantOf(_ context.Context, cabinID uuid.UUID) (*uuid.UUID, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cabin, ok := f.s.cabins[cabinID]
	if !ok {
		return nil, apperrors.NewNotFound("cabin", nil)
	}
	if cabin.OccupantTransaction == nil {
		return nil, nil
	}
	occupant := *cabin.OccupantTransaction
	return &occupant, nil
}

// Group repository

type groupFake struct{ s *Store }

func (f *groupFake) Get(_ context.Context, id uuid.UUID) (*model.ClinicGroup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	group, ok := f.s.groups[id]
	if !ok {
		return nil, apperrors.NewNotFound("clinic group", nil)
	}
	return group, nil
}

func (f *groupFake) ListByClinic(_ context.Context, clinicID uuid.UUID) ([]*model.ClinicGroup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var result []*model.ClinicGroup
	for _, g := range f.s.groups {
		if g.ClinicID == clinicID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (f *groupFake) GetScreen(_ context.Context, id uuid.UUID) (*model.Screen, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	screen, ok := f.s.screens[id]
	if !ok {
		return nil, apperrors.NewNotFound("screen", nil)
	}
	return screen, nil
}

func (f *groupFake) GroupsForScreen(_ context.Context, screenID uuid.UUID) ([]*model.ClinicGroup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var result []*model.ClinicGroup
	for _, id := range f.s.screenGroups[screenID] {
		if g, ok := f.s.groups[id]; ok {
			result = append(result, g)
		}
	}
	return result, nil
}

// Token repository

type tokenFake struct{ s *Store }

func (f *tokenFake) NextSeq(_ context.Context, groupID uuid.UUID, day string) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	key := groupID.String() + "/" + day
	f.s.seqs[key]++
	return f.s.seqs[key], nil
}

// Outbox repository

type outboxFake struct{ s *Store }

func (f *outboxFake) Create(_ context.Context, event *model.OutboxEvent) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.appendOutbox(event)
	return nil
}

func (f *outboxFake) GetPendingWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	now := time.Now()
	var result []*model.OutboxEvent
	for _, e := range f.s.outbox {
		if len(result) >= limit {
			break
		}
		due := e.RetryAt == nil || !e.RetryAt.After(now)
		if (e.Status == model.OutboxStatusPending || e.Status == model.OutboxStatusRetry) && due {
			copied := *e
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (f *outboxFake) MarkProcessed(_ context.Context, id uuid.UUID) error {
	return f.setStatus(id, model.OutboxStatusProcessed, nil, nil)
}

func (f *outboxFake) MarkRetry(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	return f.setStatus(id, model.OutboxStatusRetry, &errMsg, &retryAt)
}

func (f *outboxFake) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	return f.setStatus(id, model.OutboxStatusFailed, &errMsg, nil)
}

func (f *outboxFake) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var kept []*model.OutboxEvent
	var deleted int64
	for _, e := range f.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.s.outbox = kept
	return deleted, nil
}

func (f *outboxFake) setStatus(id uuid.UUID, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, e := range f.s.outbox {
		if e.ID == id {
			e.Status = status
			e.ErrorMessage = errMsg
			e.RetryAt = retryAt
			if status == model.OutboxStatusProcessed {
				now := time.Now()
				e.ProcessedAt = &now
			}
			if status == model.OutboxStatusRetry {
				e.RetryCount++
			}
			e.UpdatedAt = time.Now()
			return nil
		}
	}
	return apperrors.NewNotFound("outbox event", nil)
}

// internal helpers, caller holds the lock

func (s *Store) selectByStatus(status model.TransactionStatus, match func(*model.PatientTransaction) bool) []*model.PatientTransaction {
	var result []*model.PatientTransaction
	for _, t := range s.transactions {
		if t.Status == status && match(t) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RegisteredAt.Equal(result[j].RegisteredAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].RegisteredAt.Before(result[j].RegisteredAt)
	})
	return result
}

func (s *Store) appendEvent(event *model.TransactionEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	copied := *event
	s.events = append(s.events, &copied)
}

func (s *Store) appendOutbox(event *model.OutboxEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now()
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	event.CreatedAt = now
	event.UpdatedAt = now
	copied := *event
	s.outbox = append(s.outbox, &copied)
}
