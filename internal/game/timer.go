package game

import (
	"log"
	"sync"
	"time"

	"github.com/scythe504/dejavu-backend/internal"
)

// =============================================================================
// ALARM MANAGEMENT
// =============================================================================

// AlarmScheduler arms the in-process timer behind a room's durable alarm.
// A room has at most one; arming again replaces the previous timer.
type AlarmScheduler interface {
	Arm(code string, a internal.Alarm)
	Disarm(code string)
}

// Scheduler owns alarm timers for every room, loaded or not, so a room
// with no connections still moves through its phases.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	now    func() time.Time
	fire   func(code string, a internal.Alarm)
}

func NewScheduler(fire func(code string, a internal.Alarm)) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		now:    time.Now,
		fire:   fire,
	}
}

func (s *Scheduler) Arm(code string, a internal.Alarm) {
	delay := max(a.Time().Sub(s.now()), 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[code]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[code] == t {
			delete(s.timers, code)
		}
		s.mu.Unlock()
		s.fire(code, a)
	})
	s.timers[code] = t
}

func (s *Scheduler) Disarm(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[code]; ok {
		t.Stop()
		delete(s.timers, code)
	}
}

// Pending reports how many alarms are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer. Durable alarms stay in the store and are
// re-armed by Manager.Recover on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, t := range s.timers {
		t.Stop()
		delete(s.timers, code)
	}
	log.Printf("[Scheduler] Stopped all alarm timers")
}
