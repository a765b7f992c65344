package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/internal/repository/repositorytest"
	"github.com/jwalitptl/queue-api/internal/service/timer"
	"github.com/jwalitptl/queue-api/internal/service/token"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

type fixture struct {
	store  *repositorytest.Store
	svc    *Service
	clinic uuid.UUID
	group  *model.ClinicGroup
	cabin  *model.Cabin
	doctor *model.Actor
	helper *model.Actor
	timers *timer.Supervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repositorytest.NewStore()
	clinicID := uuid.New()
	doctorID := uuid.New()

	group := &model.ClinicGroup{
		Base:        model.Base{ID: uuid.New()},
		ClinicID:    clinicID,
		Name:        "cardiology",
		TokenPrefix: "C",
	}
	store.AddGroup(group)

	doctorName := "Dr. Pillai"
	cabin := &model.Cabin{
		Base:       model.Base{ID: uuid.New()},
		ClinicID:   clinicID,
		Name:       "Cabin 1",
		DoctorID:   &doctorID,
		DoctorName: &doctorName,
	}
	store.AddCabin(cabin)

	timers := timer.NewSupervisor(30*time.Second, zerolog.Nop())
	t.Cleanup(timers.Stop)

	svc := NewService(
		store.Transactions(),
		store.Patients(),
		store.Cabins(),
		store.Groups(),
		token.NewService(store.Tokens()),
		timers,
		store.Outbox(),
		nil,
		zerolog.Nop(),
	)

	return &fixture{
		store:  store,
		svc:    svc,
		clinic: clinicID,
		group:  group,
		cabin:  cabin,
		doctor: &model.Actor{ID: doctorID, Type: model.ActorDoctor, Name: doctorName, ClinicID: clinicID},
		helper: &model.Actor{ID: uuid.New(), Type: model.ActorAssistant, ClinicID: clinicID},
		timers: timers,
	}
}

func (f *fixture) register(t *testing.T, name string) *model.PatientTransaction {
	t.Helper()
	txn, err := f.svc.Register(context.Background(), &model.RegisterRequest{
		Name:    name,
		Age:     35,
		Gender:  model.GenderFemale,
		GroupID: f.group.ID,
	})
	require.NoError(t, err)
	return txn
}

func TestRegisterIssuesSequentialTokens(t *testing.T) {
	f := newFixture(t)

	first := f.register(t, "Jane Doe")
	assert.Equal(t, "C1", first.TokenNumber)
	assert.Equal(t, model.StatusWaiting, first.Status)

	second := f.register(t, "John Roe")
	assert.Equal(t, "C2", second.TokenNumber)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  model.RegisterRequest
	}{
		{"short name", model.RegisterRequest{Name: "Jo", Age: 30, Gender: model.GenderMale, GroupID: f.group.ID}},
		{"negative age", model.RegisterRequest{Name: "Jane Doe", Age: -1, Gender: model.GenderMale, GroupID: f.group.ID}},
		{"bad gender", model.RegisterRequest{Name: "Jane Doe", Age: 30, Gender: "unknown", GroupID: f.group.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), &tc.req)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "expected validation error, got %v", err)
		})
	}
}

func TestRegisterUnknownGroup(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), &model.RegisterRequest{
		Name:    "Jane Doe",
		Age:     35,
		Gender:  model.GenderFemale,
		GroupID: uuid.New(),
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRegisterReusesProfileByContact(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Register(context.Background(), &model.RegisterRequest{
		Name:          "Jane Doe",
		Age:           35,
		Gender:        model.GenderFemale,
		GroupID:       f.group.ID,
		ContactNumber: "+919876543210",
	})
	require.NoError(t, err)

	second, err := f.svc.Register(context.Background(), &model.RegisterRequest{
		Name:          "Jane Doe",
		Age:           36,
		Gender:        model.GenderFemale,
		GroupID:       f.group.ID,
		ContactNumber: "+919876543210",
	})
	require.NoError(t, err)

	assert.Equal(t, first.PatientID, second.PatientID, "same contact number keeps one profile")
	assert.NotEqual(t, first.ID, second.ID, "each visit gets its own transaction")
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")
	assert.Equal(t, model.StatusWaiting, txn.Status)

	called, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, called.ID)
	assert.Equal(t, model.StatusCalling, called.Status)
	require.NotNil(t, called.CabinID)
	assert.Equal(t, f.cabin.ID, *called.CabinID)
	require.NotNil(t, f.store.Cabin(f.cabin.ID).OccupantTransaction)
	assert.Equal(t, txn.ID, *f.store.Cabin(f.cabin.ID).OccupantTransaction)

	started, err := f.svc.Start(ctx, f.doctor, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConsulting, started.Status)
	assert.NotNil(t, started.ConsultingStartedAt)

	ended, err := f.svc.End(ctx, f.doctor, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConsultationDone, ended.Status)
	assert.NotNil(t, ended.ConsultingEndedAt)
	assert.Nil(t, f.store.Cabin(f.cabin.ID).OccupantTransaction, "cabin freed after consultation")
	assert.NotNil(t, f.store.Cabin(f.cabin.ID).DoctorID, "doctor keeps the room")
}

func TestCallNextOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.register(t, "First Patient")
	f.register(t, "Second Patient")

	called, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, called.ID, "oldest registration is served first")
}

func TestCallNextTieBreakByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	patient := &model.PatientProfile{Name: "Tie Breaker", Age: 40, Gender: model.GenderMale}
	require.NoError(t, f.store.Patients().UpsertByContact(ctx, patient))

	registeredAt := time.Now().Add(-time.Minute)
	lowID := uuid.MustParse("018f0000-0000-7000-8000-000000000001")
	highID := uuid.MustParse("018f0000-0000-7000-8000-000000000002")

	// The higher id goes in first so map iteration order cannot mask a
	// broken comparator.
	for i, id := range []uuid.UUID{highID, lowID} {
		err := f.store.Transactions().Create(ctx, &model.PatientTransaction{
			Base:         model.Base{ID: id},
			PatientID:    patient.ID,
			GroupID:      f.group.ID,
			ClinicID:     f.clinic,
			TokenNumber:  fmt.Sprintf("C%d", i+1),
			TokenSeq:     i + 1,
			Status:       model.StatusWaiting,
			RegisteredAt: registeredAt,
		}, nil, nil)
		require.NoError(t, err)
	}

	called, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, lowID, called.ID, "same-timestamp ties resolve by id order")
}

func TestRegisterIssuesTimeOrderedIDs(t *testing.T) {
	f := newFixture(t)
	registeredAt := time.Now()
	f.svc.now = func() time.Time { return registeredAt }

	first := f.register(t, "First Patient")
	second := f.register(t, "Second Patient")

	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)
	assert.Less(t, first.ID.String(), second.ID.String(), "v7 ids keep insertion order on timestamp ties")

	called, err := f.svc.CallNext(context.Background(), f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, called.ID)
}

func TestClaimRejectsCabinVacatedBeforeCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")

	// A vacate landing between selection and commit must not leave a
	// doctorless cabin holding an occupant.
	require.NoError(t, f.store.Cabins().ClearDoctor(ctx, f.cabin.ID))

	calledAt := time.Now()
	err := f.store.Transactions().Apply(ctx, &repository.Transition{
		TransactionID:      txn.ID,
		FromStatus:         model.StatusWaiting,
		ToStatus:           model.StatusCalling,
		SetCabin:           &f.cabin.ID,
		SetCalledAt:        &calledAt,
		BumpCallGeneration: true,
		Cabin: &repository.CabinChange{
			CabinID:     f.cabin.ID,
			SetOccupant: &txn.ID,
		},
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	cabin := f.store.Cabin(f.cabin.ID)
	assert.Nil(t, cabin.OccupantTransaction)
	got, err := f.svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status, "failed claim leaves the transaction waiting")
}

func TestCallNextEmptyQueue(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CallNext(context.Background(), f.helper, f.cabin.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyQueue))
}

func TestCallNextCabinWithoutDoctor(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Jane Doe")

	bare := &model.Cabin{Base: model.Base{ID: uuid.New()}, ClinicID: f.clinic, Name: "Cabin 2"}
	f.store.AddCabin(bare)

	_, err := f.svc.CallNext(context.Background(), f.helper, bare.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestCallNextOccupiedCabin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "Jane Doe")
	f.register(t, "John Roe")

	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrCabinOccupied))
}

func TestCallNextGroupScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dental := &model.ClinicGroup{
		Base:        model.Base{ID: uuid.New()},
		ClinicID:    f.clinic,
		Name:        "dental",
		TokenPrefix: "D",
	}
	f.store.AddGroup(dental)

	f.register(t, "Cardiology Patient")

	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, &dental.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyQueue), "scoped call ignores other groups")

	called, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, &f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, "C1", called.TokenNumber)
}

func TestStartRequiresCallingState(t *testing.T) {
	f := newFixture(t)
	txn := f.register(t, "Jane Doe")

	_, err := f.svc.Start(context.Background(), f.doctor, txn.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestStartRequiresOwningDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")
	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)

	other := &model.Actor{ID: uuid.New(), Type: model.ActorDoctor, ClinicID: f.clinic}
	_, err = f.svc.Start(ctx, other, txn.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestEndRequiresConsultingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")
	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.End(ctx, f.doctor, txn.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestMarkNoShowGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")

	// Entering calling 29s in the past keeps the gate shut.
	f.svc.now = func() time.Time { return time.Now().Add(-29 * time.Second) }
	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.MarkNoShow(ctx, f.doctor, txn.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrTooEarly))

	// Re-run the same call 31s in the past: gate open.
	f2 := newFixture(t)
	txn2 := f2.register(t, "John Roe")
	f2.svc.now = func() time.Time { return time.Now().Add(-31 * time.Second) }
	_, err = f2.svc.CallNext(ctx, f2.helper, f2.cabin.ID, nil)
	require.NoError(t, err)

	marked, err := f2.svc.MarkNoShow(ctx, f2.doctor, txn2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, marked.Status)
	assert.Nil(t, f2.store.Cabin(f2.cabin.ID).OccupantTransaction, "cabin freed after no-show")
}

func TestMarkNoShowRequiresCalling(t *testing.T) {
	f := newFixture(t)
	txn := f.register(t, "Jane Doe")

	_, err := f.svc.MarkNoShow(context.Background(), f.doctor, txn.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestRevertToWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")
	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)

	reverted, err := f.svc.RevertToWaiting(ctx, f.doctor, txn.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, reverted.Status)
	assert.Nil(t, reverted.CabinID)
	assert.Nil(t, f.store.Cabin(f.cabin.ID).OccupantTransaction)
	assert.NotNil(t, f.store.Cabin(f.cabin.ID).DoctorID, "plain revert keeps the doctor")

	// The patient is back in the queue and can be called again.
	again, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, again.ID)
	assert.Equal(t, 2, again.CallGeneration, "re-entering calling bumps the generation")
}

func TestRevertWithLeaveRoomClearsDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")
	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, f.doctor, txn.ID)
	require.NoError(t, err)

	_, err = f.svc.RevertToWaiting(ctx, f.doctor, txn.ID, true)
	require.NoError(t, err)

	cabin := f.store.Cabin(f.cabin.ID)
	assert.Nil(t, cabin.OccupantTransaction)
	assert.Nil(t, cabin.DoctorID, "leave-room releases the cabin")
}

func TestRecall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")

	err := f.svc.Recall(ctx, f.doctor, txn.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition), "recall only valid while calling")

	_, err = f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Recall(ctx, f.doctor, txn.ID))

	after, err := f.svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCalling, after.Status, "recall does not change state")

	var recalled int
	for _, evt := range f.store.OutboxEvents() {
		if evt.EventType == model.EventPatientRecalled {
			recalled++
		}
	}
	assert.Equal(t, 1, recalled)
}

func TestConcurrentCallNextSameCabin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "First Patient")
	f.register(t, "Second Patient")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
		}(i)
	}
	wg.Wait()

	var successes, occupied int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case apperrors.Is(err, apperrors.ErrCabinOccupied), apperrors.Is(err, apperrors.ErrConflict):
			occupied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one caller binds the cabin")
	assert.Equal(t, 1, occupied)

	cabin := f.store.Cabin(f.cabin.ID)
	require.NotNil(t, cabin.OccupantTransaction, "winner holds the cabin")
}

func TestConcurrentCallNextTwoCabins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doctor2 := uuid.New()
	name2 := "Dr. Rao"
	cabin2 := &model.Cabin{
		Base:       model.Base{ID: uuid.New()},
		ClinicID:   f.clinic,
		Name:       "Cabin 2",
		DoctorID:   &doctor2,
		DoctorName: &name2,
	}
	f.store.AddCabin(cabin2)

	f.register(t, "First Patient")
	f.register(t, "Second Patient")

	var wg sync.WaitGroup
	claimed := make([]*model.PatientTransaction, 2)
	errs := make([]error, 2)
	cabins := []uuid.UUID{f.cabin.ID, cabin2.ID}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed[i], errs[i] = f.svc.CallNext(ctx, f.helper, cabins[i], nil)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, claimed[0].ID, claimed[1].ID, "no patient is double-bound")
}

func TestHistoryRecordsTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	txn := f.register(t, "Jane Doe")
	_, err := f.svc.CallNext(ctx, f.helper, f.cabin.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, f.doctor, txn.ID)
	require.NoError(t, err)
	_, err = f.svc.End(ctx, f.doctor, txn.ID)
	require.NoError(t, err)

	events, err := f.svc.History(ctx, txn.ID)
	require.NoError(t, err)

	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	assert.Equal(t, []string{"registered", "called", "consulting_started", "consulting_ended"}, names)
}

func TestWaitingList(t *testing.T) {
	f := newFixture(t)

	f.register(t, "First Patient")
	f.register(t, "Second Patient")

	list, err := f.svc.WaitingList(context.Background(), f.group.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "C1", list[0].TokenNumber)
	assert.Equal(t, "C2", list[1].TokenNumber)

	_, err = f.svc.WaitingList(context.Background(), uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
