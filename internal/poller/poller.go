// Package poller owns one independent, cancellable polling loop per active
// game. Each loop fetches new comments under the game's root post, runs them
// through the codec, and delivers decoded updates to the subscriber in
// comment-creation order. Failures back off exponentially and trip a circuit
// breaker that removes the game from the registry entirely; the caller must
// re-initialize to resume.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/snaphunt/snaphunt/internal/forum"
	"github.com/snaphunt/snaphunt/internal/metrics"
	"github.com/snaphunt/snaphunt/internal/protocol"
	"github.com/snaphunt/snaphunt/internal/thread"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultBackoffBase = 2 * time.Second
	DefaultMaxInterval = 2 * time.Minute
	DefaultMaxRetries  = 3
	DefaultBufferSize  = 32
)

var (
	ErrInvalidThread = errors.New("poller: thread is nil or has no post id")
	ErrNilCallback   = errors.New("poller: nil callback")
	ErrAlreadyActive = errors.New("poller: game already being polled")
)

// Config tunes the engine. Zero fields fall back to the defaults above; a nil
// Clock falls back to the real clock.
type Config struct {
	Interval    time.Duration
	BackoffBase time.Duration
	MaxInterval time.Duration
	MaxRetries  int
	BufferSize  int
	Clock       clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Key derives the registry key for a game's root post ID.
func Key(postID string) string {
	return "game_" + postID
}

// Status is a read-only snapshot of one game's polling state. Reading it
// never mutates or extends the loop's lifetime.
type Status struct {
	Key          string        `json:"key"`
	PostID       string        `json:"post_id"`
	Active       bool          `json:"is_active"`
	ErrorCount   int           `json:"error_count"`
	LastSuccess  time.Time     `json:"last_success,omitempty"`
	NextInterval time.Duration `json:"next_interval"`
}

// Event is one delivered update together with the comment it was decoded
// from.
type Event struct {
	PostID  string
	Comment forum.Comment
	Update  protocol.Update
}

// Callback receives decoded updates for one game. Invocations are serialized
// per game: at most one callback is in flight at a time, in comment-creation
// order.
type Callback func(Event)

// CommentLister is the slice of the forum gateway the engine needs.
type CommentLister interface {
	ListComments(ctx context.Context, postID string, since time.Time) ([]forum.Comment, error)
}

// Engine is the keyed registry of polling loops. All registry mutation goes
// through engine methods so that a tick racing a Stop always sees a
// consistent view and discards its result once the loop is gone.
type Engine struct {
	gw    CommentLister
	cfg   Config
	clock clockwork.Clock

	mu    sync.Mutex
	loops map[string]*loop
}

func NewEngine(gw CommentLister, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		gw:    gw,
		cfg:   cfg,
		clock: cfg.Clock,
		loops: make(map[string]*loop),
	}
}

// Start registers a polling loop for the thread's game and begins ticking at
// the base interval. It returns the registry key for later Stop and Status
// calls. Starting an already-registered game fails with ErrAlreadyActive; the
// existing loop is untouched.
func (e *Engine) Start(th *thread.Thread, cb Callback) (string, error) {
	if th == nil || th.PostID() == "" {
		return "", ErrInvalidThread
	}
	if cb == nil {
		return "", ErrNilCallback
	}
	postID := th.PostID()
	key := Key(postID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.loops[key]; exists {
		return key, ErrAlreadyActive
	}

	// Fetch only comments newer than the thread's watermark. A fresh thread
	// with no recorded activity starts from now so history is not replayed.
	since := th.LastUpdated()
	if since.IsZero() {
		since = e.clock.Now()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		key:      key,
		postID:   postID,
		thread:   th,
		cb:       cb,
		ctx:      ctx,
		cancel:   cancel,
		updates:  make(chan Event, e.cfg.BufferSize),
		interval: e.cfg.Interval,
		since:    since,
	}
	e.loops[key] = l
	metrics.SetActiveGames(len(e.loops))

	go e.run(l)
	go l.dispatch()

	log.Info().
		Str("key", key).
		Dur("interval", e.cfg.Interval).
		Msg("polling started")
	return key, nil
}

// Stop cancels a game's loop and removes its state immediately, regardless
// of error count. It reports whether the key was registered.
func (e *Engine) Stop(key string) bool {
	e.mu.Lock()
	l, ok := e.loops[key]
	if ok {
		delete(e.loops, key)
		metrics.SetActiveGames(len(e.loops))
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	l.cancel()
	log.Info().Str("key", key).Msg("polling stopped")
	return true
}

// StopAll cancels every registered loop. Safe to call at any time, including
// while ticks are in flight.
func (e *Engine) StopAll() {
	e.mu.Lock()
	stopped := make([]*loop, 0, len(e.loops))
	for key, l := range e.loops {
		stopped = append(stopped, l)
		delete(e.loops, key)
	}
	metrics.SetActiveGames(0)
	e.mu.Unlock()

	for _, l := range stopped {
		l.cancel()
	}
	if len(stopped) > 0 {
		log.Info().Int("count", len(stopped)).Msg("all polling stopped")
	}
}

// Status returns a snapshot for the key, or nil when no loop is registered.
// A game removed by the circuit breaker reads the same as one never started;
// callers treating that as "live updates unavailable" should fall back to
// their last known snapshot.
func (e *Engine) Status(key string) *Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.loops[key]
	if !ok {
		return nil
	}
	return &Status{
		Key:          key,
		PostID:       l.postID,
		Active:       true,
		ErrorCount:   l.errorCount,
		LastSuccess:  l.lastSuccess,
		NextInterval: l.interval,
	}
}

// Keys lists the currently registered registry keys.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.loops))
	for key := range e.loops {
		keys = append(keys, key)
	}
	return keys
}
