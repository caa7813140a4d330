package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// expiryFunc runs on its own goroutine when a round deadline passes.
type expiryFunc func(postID string, round int)

// armedRound is one armed deadline. done unblocks the waiting goroutine when
// the deadline is disarmed or replaced before firing.
type armedRound struct {
	timer clockwork.Timer
	done  chan struct{}
	round int
}

// scheduler keeps at most one deadline timer per game. Starting a round
// replaces the game's previous timer; ending or pausing the game disarms it.
type scheduler struct {
	clock    clockwork.Clock
	onExpiry expiryFunc

	mu    sync.Mutex
	armed map[string]*armedRound
}

func newScheduler(clock clockwork.Clock, onExpiry expiryFunc) *scheduler {
	return &scheduler{
		clock:    clock,
		onExpiry: onExpiry,
		armed:    make(map[string]*armedRound),
	}
}

func (s *scheduler) schedule(postID string, round int, d time.Duration) {
	entry := &armedRound{
		timer: s.clock.NewTimer(d),
		done:  make(chan struct{}),
		round: round,
	}

	s.mu.Lock()
	if old, ok := s.armed[postID]; ok {
		stopAndDrainTimer(old.timer)
		close(old.done)
		log.Debug().Str("post_id", postID).Msg("replaced armed round deadline")
	}
	s.armed[postID] = entry
	s.mu.Unlock()

	go func() {
		select {
		case <-entry.timer.Chan():
			s.remove(postID, entry)
			s.onExpiry(postID, entry.round)
		case <-entry.done:
			stopAndDrainTimer(entry.timer)
		}
	}()

	log.Debug().
		Str("post_id", postID).
		Int("round", round).
		Dur("deadline_in", d).
		Msg("armed round deadline")
}

// cancel disarms a game's deadline, if one is armed.
func (s *scheduler) cancel(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.armed[postID]; ok {
		stopAndDrainTimer(entry.timer)
		close(entry.done)
		delete(s.armed, postID)
		log.Debug().Str("post_id", postID).Int("round", entry.round).Msg("disarmed round deadline")
	}
}

func (s *scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for postID, entry := range s.armed {
		stopAndDrainTimer(entry.timer)
		close(entry.done)
		delete(s.armed, postID)
	}
}

// remove drops a fired entry, unless a newer timer already took its slot.
func (s *scheduler) remove(postID string, entry *armedRound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed[postID] == entry {
		delete(s.armed, postID)
	}
}

// stopAndDrainTimer stops a timer and drains its channel, following the
// pattern in the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
