// Package display builds the read-only queue snapshot consumed by the
// public waiting-room screens.
package display

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

// Service assembles snapshots per screen. Snapshots are memoized for a
// short TTL so a wall of polling screens does not multiply reads.
type Service struct {
	groups   repository.GroupRepository
	txns     repository.TransactionRepository
	patients repository.PatientRepository
	cabins   repository.CabinRepository

	displayWindow time.Duration
	cache         *gocache.Cache
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(
	groups repository.GroupRepository,
	txns repository.TransactionRepository,
	patients repository.PatientRepository,
	cabins repository.CabinRepository,
	displayWindow time.Duration,
	cacheTTL time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		groups:        groups,
		txns:          txns,
		patients:      patients,
		cabins:        cabins,
		displayWindow: displayWindow,
		cache:         gocache.New(cacheTTL, 2*cacheTTL),
		logger:        logger,
		now:           time.Now,
	}
}

// Snapshot returns the current queue view for one screen. The entry in
// now-calling is the most recently called transaction still inside the
// display window; older calls demote to regular queue order until they
// start consulting or are retired.
func (s *Service) Snapshot(ctx context.Context, screenID uuid.UUID) (*model.QueueSnapshot, error) {
	key := screenID.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.QueueSnapshot), nil
	}

	screen, err := s.groups.GetScreen(ctx, screenID)
	if err != nil {
		return nil, err
	}
	groups, err := s.groups.GroupsForScreen(ctx, screen.ID)
	if err != nil {
		return nil, err
	}

	groupIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	snapshot, err := s.build(ctx, groupIDs)
	if err != nil {
		return nil, err
	}

	s.cache.SetDefault(key, snapshot)
	return snapshot, nil
}

func (s *Service) build(ctx context.Context, groupIDs []uuid.UUID) (*model.QueueSnapshot, error) {
	now := s.now()
	snapshot := &model.QueueSnapshot{
		Waiting:        []model.QueueEntry{},
		InConsultation: []model.QueueEntry{},
		GeneratedAt:    now,
	}
	if len(groupIDs) == 0 {
		return snapshot, nil
	}

	waiting, err := s.txns.ListByStatus(ctx, groupIDs, model.StatusWaiting)
	if err != nil {
		return nil, err
	}
	calling, err := s.txns.ListByStatus(ctx, groupIDs, model.StatusCalling)
	if err != nil {
		return nil, err
	}
	consulting, err := s.txns.ListByStatus(ctx, groupIDs, model.StatusConsulting)
	if err != nil {
		return nil, err
	}

	names, err := s.patientNames(ctx, waiting, calling, consulting)
	if err != nil {
		return nil, err
	}
	cabinNames := s.cabinNames(ctx, calling, consulting)

	for _, txn := range waiting {
		snapshot.Waiting = append(snapshot.Waiting, s.entry(txn, names, cabinNames))
	}
	for _, txn := range consulting {
		snapshot.InConsultation = append(snapshot.InConsultation, s.entry(txn, names, cabinNames))
	}

	// Most recent call wins the announcement slot, but only while the
	// display window is open.
	sort.Slice(calling, func(i, j int) bool {
		return calledAt(calling[i]).After(calledAt(calling[j]))
	})
	for _, txn := range calling {
		if now.Sub(calledAt(txn)) < s.displayWindow {
			entry := s.entry(txn, names, cabinNames)
			snapshot.NowCalling = &entry
			break
		}
	}

	return snapshot, nil
}

func (s *Service) entry(txn *model.PatientTransaction, names map[uuid.UUID]string, cabinNames map[uuid.UUID]string) model.QueueEntry {
	e := model.QueueEntry{
		TransactionID: txn.ID,
		TokenNumber:   txn.TokenNumber,
		PatientName:   names[txn.PatientID],
		RegisteredAt:  txn.RegisteredAt,
	}
	if txn.CabinID != nil {
		e.CabinName = cabinNames[*txn.CabinID]
	}
	return e
}

func (s *Service) patientNames(ctx context.Context, lists ...[]*model.PatientTransaction) (map[uuid.UUID]string, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, list := range lists {
		for _, txn := range list {
			if !seen[txn.PatientID] {
				seen[txn.PatientID] = true
				ids = append(ids, txn.PatientID)
			}
		}
	}
	if len(ids) == 0 {
		return map[uuid.UUID]string{}, nil
	}

	profiles, err := s.patients.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(profiles))
	for id, p := range profiles {
		names[id] = p.Name
	}
	return names, nil
}

func (s *Service) cabinNames(ctx context.Context, lists ...[]*model.PatientTransaction) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string)
	for _, list := range lists {
		for _, txn := range list {
			if txn.CabinID == nil {
				continue
			}
			if _, ok := names[*txn.CabinID]; ok {
				continue
			}
			cabin, err := s.cabins.Get(ctx, *txn.CabinID)
			if err != nil {
				// A missing cabin row only degrades the label.
				s.logger.Warn().Err(err).
					Str("cabin_id", txn.CabinID.String()).
					Msg("failed to resolve cabin name for snapshot")
				continue
			}
			names[*txn.CabinID] = cabin.Name
		}
	}
	return names
}

func calledAt(txn *model.PatientTransaction) time.Time {
	if txn.CalledAt == nil {
		return time.Time{}
	}
	return *txn.CalledAt
}
