package display

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/internal/repository/repositorytest"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

type fixture struct {
	store  *repositorytest.Store
	svc    *Service
	clinic uuid.UUID
	group  *model.ClinicGroup
	screen *model.Screen
	seq    int
}

func newFixture(t *testing.T, cacheTTL time.Duration) *fixture {
	t.Helper()

	store := repositorytest.NewStore()
	clinicID := uuid.New()

	group := &model.ClinicGroup{
		Base:        model.Base{ID: uuid.New()},
		ClinicID:    clinicID,
		Name:        "cardiology",
		TokenPrefix: "C",
	}
	store.AddGroup(group)

	screen := &model.Screen{
		Base:     model.Base{ID: uuid.New()},
		ClinicID: clinicID,
		Name:     "Lobby",
	}
	store.AddScreen(screen, group.ID)

	svc := NewService(
		store.Groups(),
		store.Transactions(),
		store.Patients(),
		store.Cabins(),
		15*time.Second,
		cacheTTL,
		zerolog.Nop(),
	)

	return &fixture{
		store:  store,
		svc:    svc,
		clinic: clinicID,
		group:  group,
		screen: screen,
	}
}

func (f *fixture) addCabin(t *testing.T, name string) *model.Cabin {
	t.Helper()
	doctorID := uuid.New()
	doctorName := "Dr. " + name
	cab := &model.Cabin{
		Base:       model.Base{ID: uuid.New()},
		ClinicID:   f.clinic,
		Name:       name,
		DoctorID:   &doctorID,
		DoctorName: &doctorName,
	}
	f.store.AddCabin(cab)
	return cab
}

func (f *fixture) seedWaiting(t *testing.T, name string, registeredAt time.Time) *model.PatientTransaction {
	t.Helper()
	ctx := context.Background()

	profile := &model.PatientProfile{Name: name, Age: 40, Gender: model.GenderOther}
	require.NoError(t, f.store.Patients().UpsertByContact(ctx, profile))

	f.seq++
	txn := &model.PatientTransaction{
		Base:         model.Base{ID: uuid.New()},
		PatientID:    profile.ID,
		GroupID:      f.group.ID,
		ClinicID:     f.clinic,
		TokenNumber:  f.group.TokenPrefix + string(rune('0'+f.seq)),
		TokenSeq:     f.seq,
		Status:       model.StatusWaiting,
		RegisteredAt: registeredAt,
	}
	require.NoError(t, f.store.Transactions().Create(ctx, txn, nil, nil))
	return txn
}

func (f *fixture) seedCalling(t *testing.T, name string, cabin *model.Cabin, calledAt time.Time) *model.PatientTransaction {
	t.Helper()
	txn := f.seedWaiting(t, name, calledAt.Add(-time.Minute))
	err := f.store.Transactions().Apply(context.Background(), &repository.Transition{
		TransactionID:      txn.ID,
		FromStatus:         model.StatusWaiting,
		ToStatus:           model.StatusCalling,
		SetCabin:           &cabin.ID,
		SetCalledAt:        &calledAt,
		BumpCallGeneration: true,
		Cabin: &repository.CabinChange{
			CabinID:     cabin.ID,
			SetOccupant: &txn.ID,
		},
	})
	require.NoError(t, err)
	txn.Status = model.StatusCalling
	txn.CabinID = &cabin.ID
	txn.CalledAt = &calledAt
	return txn
}

func (f *fixture) seedConsulting(t *testing.T, name string, cabin *model.Cabin) *model.PatientTransaction {
	t.Helper()
	txn := f.seedCalling(t, name, cabin, time.Now().Add(-time.Minute))
	startedAt := time.Now().Add(-30 * time.Second)
	err := f.store.Transactions().Apply(context.Background(), &repository.Transition{
		TransactionID:      txn.ID,
		FromStatus:         model.StatusCalling,
		ToStatus:           model.StatusConsulting,
		SetConsultingStart: &startedAt,
	})
	require.NoError(t, err)
	txn.Status = model.StatusConsulting
	return txn
}

func TestSnapshotUnknownScreen(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.Snapshot(context.Background(), uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestSnapshotEmptyQueue(t *testing.T) {
	f := newFixture(t, time.Minute)

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.NowCalling)
	assert.Empty(t, snap.Waiting)
	assert.Empty(t, snap.InConsultation)
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestSnapshotWaitingOrder(t *testing.T) {
	f := newFixture(t, time.Minute)
	base := time.Now().Add(-time.Hour)

	f.seedWaiting(t, "Second Patient", base.Add(time.Minute))
	f.seedWaiting(t, "First Patient", base)

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	require.Len(t, snap.Waiting, 2)
	assert.Equal(t, "First Patient", snap.Waiting[0].PatientName)
	assert.Equal(t, "Second Patient", snap.Waiting[1].PatientName)
}

func TestNowCallingPicksMostRecent(t *testing.T) {
	f := newFixture(t, time.Minute)
	now := time.Now()

	f.seedCalling(t, "Older Call", f.addCabin(t, "Cabin 1"), now.Add(-10*time.Second))
	newer := f.seedCalling(t, "Newer Call", f.addCabin(t, "Cabin 2"), now.Add(-2*time.Second))

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.NowCalling)
	assert.Equal(t, newer.ID, snap.NowCalling.TransactionID)
	assert.Equal(t, "Newer Call", snap.NowCalling.PatientName)
	assert.Equal(t, "Cabin 2", snap.NowCalling.CabinName)
}

func TestNowCallingDemotesAfterWindow(t *testing.T) {
	f := newFixture(t, time.Minute)

	f.seedCalling(t, "Stale Call", f.addCabin(t, "Cabin 1"), time.Now().Add(-16*time.Second))

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.NowCalling, "calls older than the display window are not announced")
}

func TestNowCallingSkipsStaleForFresh(t *testing.T) {
	f := newFixture(t, time.Minute)
	now := time.Now()

	f.seedCalling(t, "Stale Call", f.addCabin(t, "Cabin 1"), now.Add(-20*time.Second))
	fresh := f.seedCalling(t, "Fresh Call", f.addCabin(t, "Cabin 2"), now.Add(-5*time.Second))

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.NowCalling)
	assert.Equal(t, fresh.ID, snap.NowCalling.TransactionID)
}

func TestInConsultationCarriesCabinName(t *testing.T) {
	f := newFixture(t, time.Minute)

	f.seedConsulting(t, "Consulting Patient", f.addCabin(t, "Cabin 3"))

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	require.Len(t, snap.InConsultation, 1)
	assert.Equal(t, "Cabin 3", snap.InConsultation[0].CabinName)
}

func TestSnapshotScopedToScreenGroups(t *testing.T) {
	f := newFixture(t, time.Minute)

	other := &model.ClinicGroup{
		Base:        model.Base{ID: uuid.New()},
		ClinicID:    f.clinic,
		Name:        "dental",
		TokenPrefix: "D",
	}
	f.store.AddGroup(other)

	f.seedWaiting(t, "In Scope", time.Now().Add(-time.Minute))

	profile := &model.PatientProfile{Name: "Out Of Scope", Age: 40, Gender: model.GenderOther}
	require.NoError(t, f.store.Patients().UpsertByContact(context.Background(), profile))
	outOfScope := &model.PatientTransaction{
		Base:         model.Base{ID: uuid.New()},
		PatientID:    profile.ID,
		GroupID:      other.ID,
		ClinicID:     f.clinic,
		TokenNumber:  "D1",
		TokenSeq:     1,
		Status:       model.StatusWaiting,
		RegisteredAt: time.Now(),
	}
	require.NoError(t, f.store.Transactions().Create(context.Background(), outOfScope, nil, nil))

	snap, err := f.svc.Snapshot(context.Background(), f.screen.ID)
	require.NoError(t, err)
	require.Len(t, snap.Waiting, 1)
	assert.Equal(t, "In Scope", snap.Waiting[0].PatientName)
}

func TestSnapshotCached(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	first, err := f.svc.Snapshot(ctx, f.screen.ID)
	require.NoError(t, err)

	f.seedWaiting(t, "Late Arrival", time.Now())

	second, err := f.svc.Snapshot(ctx, f.screen.ID)
	require.NoError(t, err)
	assert.Same(t, first, second, "within the TTL the memoized snapshot is served")
}

func TestSnapshotCacheExpires(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	ctx := context.Background()

	first, err := f.svc.Snapshot(ctx, f.screen.ID)
	require.NoError(t, err)
	assert.Empty(t, first.Waiting)

	f.seedWaiting(t, "Late Arrival", time.Now())
	time.Sleep(10 * time.Millisecond)

	second, err := f.svc.Snapshot(ctx, f.screen.ID)
	require.NoError(t, err)
	assert.Len(t, second.Waiting, 1)
}
