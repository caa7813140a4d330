// Package timesync gives every client a common reference for round
// countdowns. Clients subtract the server reference time from the start
// times, so their own clock drift cancels out of the display.
package timesync

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ThreadTimes is the slice of the thread model the synchronizer reads.
type ThreadTimes interface {
	PostID() string
	CreatedAt() time.Time
	LatestRoundStartedAt() (time.Time, bool)
}

// Timer is one synchronization sample. RoundStartTime is nil when no round
// has started yet, which is a normal condition, not an error.
type Timer struct {
	ServerTime     time.Time  `json:"server_time"`
	GameStartTime  time.Time  `json:"game_start_time"`
	RoundStartTime *time.Time `json:"round_start_time,omitempty"`
}

// Synchronizer computes timer samples on demand. It is stateless apart from
// the injected clock.
type Synchronizer struct {
	clock clockwork.Clock
}

func NewSynchronizer(clock clockwork.Clock) *Synchronizer {
	return &Synchronizer{clock: clock}
}

// Sync samples the server clock against the thread's recorded start times.
// It never fails: a start time the thread could not record (restored threads
// lose creation times) degrades to the current instant, since a timer display
// that assumes "now" beats blocking the game.
func (s *Synchronizer) Sync(th ThreadTimes) Timer {
	now := s.clock.Now()
	t := Timer{ServerTime: now, GameStartTime: th.CreatedAt()}
	if t.GameStartTime.IsZero() {
		log.Debug().Str("post_id", th.PostID()).Msg("game start time unknown, assuming now")
		t.GameStartTime = now
	}
	if at, ok := th.LatestRoundStartedAt(); ok {
		if at.IsZero() {
			log.Debug().Str("post_id", th.PostID()).Msg("round start time unknown, assuming now")
			at = now
		}
		t.RoundStartTime = &at
	}
	return t
}

// RoundRemaining reports how much of a round of the given length is left.
// ok is false when no round has started. The result clamps at zero once the
// deadline has passed.
func (s *Synchronizer) RoundRemaining(th ThreadTimes, roundDuration time.Duration) (time.Duration, bool) {
	t := s.Sync(th)
	if t.RoundStartTime == nil {
		return 0, false
	}
	remaining := roundDuration - t.ServerTime.Sub(*t.RoundStartTime)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
