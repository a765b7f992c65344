package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Supervisor owns the advisory call timers. The authoritative no-show
// gate is recomputed from the stored called-at timestamp, so a timer
// that is lost to a restart costs nothing; these in-process timers
// exist only to push "no-show now possible" hints without polling.
//
// Timers are keyed by transaction id plus the call generation, so a
// transaction re-entering calling later never inherits a previous
// call's expiry.
type Supervisor struct {
	grace  time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

type timerKey struct {
	transactionID uuid.UUID
	generation    int
}

func NewSupervisor(grace time.Duration, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		grace:  grace,
		now:    time.Now,
		logger: logger,
		timers: make(map[timerKey]*time.Timer),
	}
}

// Grace returns the configured no-show grace period.
func (s *Supervisor) Grace() time.Duration {
	return s.grace
}

// NoShowEligible is the authoritative gate: state plus elapsed
// wall-clock time since the call, never a scheduled callback.
func (s *Supervisor) NoShowEligible(calledAt time.Time) bool {
	return s.now().Sub(calledAt) >= s.grace
}

// RemainingGrace reports how long until NoShowEligible flips, zero if
// it already has.
func (s *Supervisor) RemainingGrace(calledAt time.Time) time.Duration {
	remaining := s.grace - s.now().Sub(calledAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Schedule arms the advisory timer for one call. A previous timer
// under the same key is replaced.
func (s *Supervisor) Schedule(transactionID uuid.UUID, generation int, fn func()) {
	key := timerKey{transactionID, generation}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	s.timers[key] = time.AfterFunc(s.grace, func() {
		if !s.expire(key) {
			return
		}
		fn()
	})
}

// Cancel stops the timer for one call generation. A cancelled timer
// never runs its callback.
func (s *Supervisor) Cancel(transactionID uuid.UUID, generation int) {
	key := timerKey{transactionID, generation}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Stop cancels every outstanding timer. Used on shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.logger.Debug().Msg("timer supervisor stopped")
}

// expire removes the key and reports whether the timer was still
// registered. A timer cancelled between firing and running sees false
// here and does nothing, which keeps stale callbacks from acting on a
// transaction that already moved on.
func (s *Supervisor) expire(key timerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[key]; !ok {
		return false
	}
	delete(s.timers, key)
	return true
}
