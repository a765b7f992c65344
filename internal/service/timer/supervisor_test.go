package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNoShowGate(t *testing.T) {
	s := NewSupervisor(30*time.Second, zerolog.Nop())

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	calledAt := base

	s.now = func() time.Time { return base.Add(29 * time.Second) }
	assert.False(t, s.NoShowEligible(calledAt), "strictly before the grace period")
	assert.Equal(t, time.Second, s.RemainingGrace(calledAt))

	s.now = func() time.Time { return base.Add(30 * time.Second) }
	assert.True(t, s.NoShowEligible(calledAt), "at the grace boundary")
	assert.Equal(t, time.Duration(0), s.RemainingGrace(calledAt))

	s.now = func() time.Time { return base.Add(5 * time.Minute) }
	assert.True(t, s.NoShowEligible(calledAt))
}

func TestScheduleFires(t *testing.T) {
	s := NewSupervisor(10*time.Millisecond, zerolog.Nop())
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule(uuid.New(), 1, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestCancelPreventsCallback(t *testing.T) {
	s := NewSupervisor(20*time.Millisecond, zerolog.Nop())
	defer s.Stop()

	var fired atomic.Int32
	id := uuid.New()
	s.Schedule(id, 1, func() { fired.Add(1) })
	s.Cancel(id, 1)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "cancelled timer must not fire")
}

func TestGenerationsAreIndependent(t *testing.T) {
	s := NewSupervisor(20*time.Millisecond, zerolog.Nop())
	defer s.Stop()

	var gen1, gen2 atomic.Int32
	id := uuid.New()

	s.Schedule(id, 1, func() { gen1.Add(1) })
	s.Cancel(id, 1)
	// Same transaction re-enters calling with a new generation.
	s.Schedule(id, 2, func() { gen2.Add(1) })

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), gen1.Load(), "old generation stays cancelled")
	assert.Equal(t, int32(1), gen2.Load(), "new generation fires")
}

func TestRescheduleReplacesTimer(t *testing.T) {
	s := NewSupervisor(20*time.Millisecond, zerolog.Nop())
	defer s.Stop()

	var fired atomic.Int32
	id := uuid.New()
	s.Schedule(id, 1, func() { fired.Add(1) })
	s.Schedule(id, 1, func() { fired.Add(1) })

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "replaced timer fires once")
}
