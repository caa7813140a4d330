package poller

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/snaphunt/snaphunt/internal/metrics"
	"github.com/snaphunt/snaphunt/internal/protocol"
	"github.com/snaphunt/snaphunt/internal/thread"
)

// loop is the per-game polling state. key, postID, thread, cb, ctx, cancel
// and updates are immutable after Start; the counters below them are guarded
// by the engine mutex so registry membership and counter updates stay atomic
// with respect to Stop.
type loop struct {
	key     string
	postID  string
	thread  *thread.Thread
	cb      Callback
	ctx     context.Context
	cancel  context.CancelFunc
	updates chan Event

	errorCount  int
	lastSuccess time.Time
	interval    time.Duration
	since       time.Time
}

// run drives the loop's tick timer until the loop is cancelled or removed.
func (e *Engine) run(l *loop) {
	defer l.cancel()

	timer := e.clock.NewTimer(e.cfg.Interval)
	defer stopAndDrainTimer(timer)

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-timer.Chan():
		}

		e.tick(l)

		next, ok := e.nextInterval(l)
		if !ok {
			// Removed by Stop or the circuit breaker while ticking.
			return
		}
		timer.Reset(next)
	}
}

// tick performs one fetch-decode-deliver pass. A tick that loses its registry
// entry mid-flight discards its result instead of reviving removed state.
func (e *Engine) tick(l *loop) {
	since, ok := e.sinceTime(l)
	if !ok {
		return
	}

	start := e.clock.Now()
	comments, err := e.gw.ListComments(l.ctx, l.postID, since)
	elapsed := e.clock.Since(start)
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		metrics.ObservePoll(false, elapsed)
		e.recordFailure(l, err)
		return
	}
	metrics.ObservePoll(true, elapsed)
	metrics.AddCommentsFetched(len(comments))

	// The forum does not guarantee causal arrival order; deliver by comment
	// creation time instead of fetch order.
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})

	var newest time.Time
	delivered := 0
	for _, c := range comments {
		if c.CreatedAt.After(newest) {
			newest = c.CreatedAt
		}
		u := protocol.Decode(c, l.thread)
		if u == nil {
			continue
		}
		metrics.RecordUpdateDecoded(string(u.Kind()))
		select {
		case <-l.ctx.Done():
			return
		case l.updates <- Event{PostID: l.postID, Comment: c, Update: u}:
			delivered++
		}
	}

	e.recordSuccess(l, newest)
	if delivered > 0 {
		log.Debug().
			Str("key", l.key).
			Int("fetched", len(comments)).
			Int("delivered", delivered).
			Msg("poll tick delivered updates")
	}
}

// dispatch is the loop's single consumer: it hands updates to the callback
// one at a time, so game logic never sees concurrent deliveries and the
// callback may itself start new game actions without re-entering the tick.
func (l *loop) dispatch() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.updates:
			l.cb(ev)
		}
	}
}

func (e *Engine) sinceTime(l *loop) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loops[l.key] != l {
		return time.Time{}, false
	}
	return l.since, true
}

func (e *Engine) nextInterval(l *loop) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loops[l.key] != l {
		return 0, false
	}
	return l.interval, true
}

// recordSuccess resets the failure state and advances the fetch watermark to
// the newest comment seen. The watermark follows comment timestamps, not the
// engine clock, so forum-side clock skew cannot skip comments.
func (e *Engine) recordSuccess(l *loop, newest time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loops[l.key] != l {
		return
	}
	l.errorCount = 0
	l.interval = e.cfg.Interval
	l.lastSuccess = e.clock.Now()
	if newest.After(l.since) {
		l.since = newest
		l.thread.Touch(newest)
	}
}

// recordFailure bumps the consecutive-error counter and widens the next tick
// delay. Once the counter exceeds the retry maximum the breaker trips: the
// loop is cancelled and its state deleted, and status reads report nothing
// was ever there. Rate limiting counts like any other transient failure so
// the breaker policy stays uniform.
func (e *Engine) recordFailure(l *loop, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loops[l.key] != l {
		return
	}
	l.errorCount++
	if l.errorCount > e.cfg.MaxRetries {
		delete(e.loops, l.key)
		metrics.SetActiveGames(len(e.loops))
		l.cancel()
		log.Error().
			Err(err).
			Str("key", l.key).
			Int("error_count", l.errorCount).
			Msg("poll retries exhausted, removing game from registry")
		return
	}

	backoff := e.cfg.BackoffBase << (l.errorCount - 1)
	if backoff > e.cfg.MaxInterval || backoff <= 0 {
		backoff = e.cfg.MaxInterval
	}
	l.interval = backoff
	log.Warn().
		Err(err).
		Str("key", l.key).
		Int("error_count", l.errorCount).
		Dur("backoff", backoff).
		Msg("poll tick failed, backing off")
}

// stopAndDrainTimer stops a timer and drains its channel so a fired timer
// never leaks a pending tick.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
