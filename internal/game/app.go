// Package game is the write side of the engine: it publishes rounds, status,
// standings and phase changes into a game's thread through the gateway, and
// keeps the in-memory record the encoders need. The thread out on the forum
// stays the durable record; everything here can be rebuilt from it.
package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/snaphunt/snaphunt/internal/forum"
	"github.com/snaphunt/snaphunt/internal/protocol"
	"github.com/snaphunt/snaphunt/internal/thread"
	"github.com/snaphunt/snaphunt/internal/timesync"
)

var (
	ErrGameNotFound    = errors.New("game: not found")
	ErrWrongPhase      = errors.New("game: operation not allowed in current phase")
	ErrNoRound         = errors.New("game: no round in progress")
	ErrNotCurrentRound = errors.New("game: submission does not reply to the current round")
)

const DefaultRoundLength = 3 * time.Minute

type Config struct {
	// Target is the board or subreddit games are posted to.
	Target      string
	RoundLength time.Duration
}

// CreateGameRequest carries the caller-supplied parts of a new game.
type CreateGameRequest struct {
	Title       string
	Rules       []string
	RoundLength time.Duration
}

// Info is a read-only snapshot of one game.
type Info struct {
	PostID          string                      `json:"post_id"`
	Title           string                      `json:"title"`
	Phase           protocol.LifecycleState     `json:"phase"`
	Round           int                         `json:"round"`
	Submissions     int                         `json:"submissions"`
	RoundLength     time.Duration               `json:"round_length"`
	Timer           timesync.Timer              `json:"timer"`
	Standings       []protocol.LeaderboardEntry `json:"standings,omitempty"`
	GameCommentID   string                      `json:"game_comment_id"`
	RulesCommentID  string                      `json:"rules_comment_id"`
	StatusCommentID string                      `json:"status_comment_id"`
}

type standing struct {
	points int
	wins   int
}

// gameState serializes all operations on one game, gateway calls included,
// so encoded posts never interleave for a single thread.
type gameState struct {
	mu          sync.Mutex
	thread      *thread.Thread
	title       string
	roundLength time.Duration
	phase       protocol.LifecycleState
	scores      map[string]*standing
}

// App publishes game events into forum threads and tracks live game state.
type App struct {
	gw     forum.Gateway
	clock  clockwork.Clock
	tsync  *timesync.Synchronizer
	sched  *scheduler
	target string
	length time.Duration

	mu    sync.Mutex
	games map[string]*gameState
}

func NewApp(gw forum.Gateway, clock clockwork.Clock, cfg Config) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RoundLength <= 0 {
		cfg.RoundLength = DefaultRoundLength
	}
	a := &App{
		gw:     gw,
		clock:  clock,
		tsync:  timesync.NewSynchronizer(clock),
		target: cfg.Target,
		length: cfg.RoundLength,
		games:  make(map[string]*gameState),
	}
	a.sched = newScheduler(clock, a.handleRoundExpiry)
	return a
}

// CreateGame submits the game post, seeds the thread's role comments (root
// game comment, rules, status anchor), announces the STARTED phase, and
// registers the game. The returned snapshot carries the new post ID.
func (a *App) CreateGame(ctx context.Context, req CreateGameRequest) (*Info, error) {
	if err := a.validateCreateGameRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if req.RoundLength <= 0 {
		req.RoundLength = a.length
	}

	postID, err := a.gw.CreatePost(ctx, fmt.Sprintf("📸 SnapHunt: %s", req.Title), protocol.EncodeGameInfo(req.Title), a.target)
	if err != nil {
		return nil, fmt.Errorf("create game post: %w", err)
	}

	th, err := thread.Create(ctx, a.gw, a.clock, postID, protocol.EncodeGameInfo(req.Title))
	if err != nil {
		return nil, fmt.Errorf("seed game thread: %w", err)
	}

	rulesID, err := a.gw.CreateComment(ctx, th.GameCommentID(), protocol.EncodeRules(req.Rules))
	if err != nil {
		return nil, fmt.Errorf("seed rules comment: %w", err)
	}
	th.SetRulesComment(rulesID)

	statusID, err := a.gw.CreateComment(ctx, th.GameCommentID(), protocol.EncodeStatusAnchor())
	if err != nil {
		return nil, fmt.Errorf("seed status comment: %w", err)
	}
	th.SetStatusComment(statusID)

	if _, err := a.gw.CreateComment(ctx, th.GameCommentID(), protocol.EncodeLifecycle(protocol.LifecycleStarted)); err != nil {
		return nil, fmt.Errorf("announce game start: %w", err)
	}

	g := &gameState{
		thread:      th,
		title:       req.Title,
		roundLength: req.RoundLength,
		phase:       protocol.LifecycleStarted,
		scores:      make(map[string]*standing),
	}
	a.mu.Lock()
	a.games[postID] = g
	a.mu.Unlock()

	log.Info().
		Str("post_id", postID).
		Str("title", req.Title).
		Dur("round_length", req.RoundLength).
		Msg("created game")
	return a.snapshot(g), nil
}

// Adopt registers an existing thread (typically restored from config) so
// publishing operations work after a restart.
func (a *App) Adopt(th *thread.Thread, title string, roundLength time.Duration) (*Info, error) {
	if th == nil || th.PostID() == "" {
		return nil, fmt.Errorf("validation failed: thread is nil or has no post id")
	}
	if roundLength <= 0 {
		roundLength = a.length
	}
	g := &gameState{
		thread:      th,
		title:       title,
		roundLength: roundLength,
		phase:       protocol.LifecycleStarted,
		scores:      make(map[string]*standing),
	}
	a.mu.Lock()
	a.games[th.PostID()] = g
	a.mu.Unlock()

	log.Info().Str("post_id", th.PostID()).Msg("adopted existing game thread")
	return a.snapshot(g), nil
}

// StartRound announces the next round under the root game comment and arms
// the round deadline timer.
func (a *App) StartRound(ctx context.Context, postID, prompt string) (int, error) {
	if prompt == "" {
		return 0, fmt.Errorf("validation failed: prompt is required")
	}
	g, err := a.game(postID)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !phaseActive(g.phase) {
		return 0, fmt.Errorf("%w: phase %s", ErrWrongPhase, g.phase)
	}

	round := g.thread.RoundCount() + 1
	body := protocol.EncodeRoundStart(round, prompt, g.roundLength)
	id, err := a.gw.CreateComment(ctx, g.thread.GameCommentID(), body)
	if err != nil {
		return 0, fmt.Errorf("announce round %d: %w", round, err)
	}
	g.thread.AppendRound(id, a.clock.Now())
	a.sched.schedule(postID, round, g.roundLength)

	log.Info().
		Str("post_id", postID).
		Int("round", round).
		Str("comment_id", id).
		Msg("round started")
	return round, nil
}

// EndRound posts the winner marker under the current round's comment, scores
// the winner, and disarms the deadline timer.
func (a *App) EndRound(ctx context.Context, postID, winner string, points int) error {
	if winner == "" {
		return fmt.Errorf("validation failed: winner is required")
	}
	if points < 0 {
		return fmt.Errorf("validation failed: points must not be negative")
	}
	g, err := a.game(postID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !phaseActive(g.phase) {
		return fmt.Errorf("%w: phase %s", ErrWrongPhase, g.phase)
	}
	roundID, round, ok := g.thread.LatestRound()
	if !ok {
		return ErrNoRound
	}

	if _, err := a.gw.CreateComment(ctx, roundID, protocol.EncodeRoundEnd(winner, points)); err != nil {
		return fmt.Errorf("end round %d: %w", round, err)
	}

	s := g.scores[winner]
	if s == nil {
		s = &standing{}
		g.scores[winner] = s
	}
	s.points += points
	s.wins++
	a.sched.cancel(postID)

	log.Info().
		Str("post_id", postID).
		Int("round", round).
		Str("winner", winner).
		Int("points", points).
		Msg("round ended")
	return nil
}

// AcceptSubmission records a player's entry comment and posts a short
// confirmation reply under it. Only replies to the current round count.
func (a *App) AcceptSubmission(ctx context.Context, postID string, c forum.Comment) error {
	g, err := a.game(postID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !phaseActive(g.phase) {
		return fmt.Errorf("%w: phase %s", ErrWrongPhase, g.phase)
	}
	_, current, ok := g.thread.LatestRound()
	if !ok {
		return ErrNoRound
	}
	role := g.thread.RoleOf(c.ParentID)
	if role.Kind != thread.RoleRound || role.Round != current {
		return fmt.Errorf("%w: parent %s", ErrNotCurrentRound, c.ParentID)
	}

	g.thread.AppendSubmission(c.ID)
	n := g.thread.SubmissionCount()
	if _, err := a.gw.CreateComment(ctx, c.ID, fmt.Sprintf("📸 Submission #%d received.", n)); err != nil {
		// The submission is already recorded; the confirmation is cosmetic.
		log.Warn().Err(err).Str("comment_id", c.ID).Msg("failed to confirm submission")
	}

	log.Info().
		Str("post_id", postID).
		Str("comment_id", c.ID).
		Str("author", c.Author).
		Int("round", current).
		Msg("submission accepted")
	return nil
}

// PublishStatus posts a status snapshot as a reply to the status anchor.
func (a *App) PublishStatus(ctx context.Context, postID string) error {
	g, err := a.game(postID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining, _ := a.tsync.RoundRemaining(g.thread, g.roundLength)
	body := protocol.EncodeStatus(g.thread.RoundCount(), g.thread.SubmissionCount(), remaining)
	if _, err := a.gw.CreateComment(ctx, g.thread.StatusCommentID(), body); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// PublishLeaderboard posts the current standings under the root game comment.
func (a *App) PublishLeaderboard(ctx context.Context, postID string) error {
	g, err := a.game(postID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return a.publishLeaderboardLocked(ctx, g)
}

func (a *App) publishLeaderboardLocked(ctx context.Context, g *gameState) error {
	body := protocol.EncodeLeaderboard(standingsLocked(g))
	if _, err := a.gw.CreateComment(ctx, g.thread.GameCommentID(), body); err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}
	return nil
}

// Pause halts an active game. Resume reverses it. End closes the game for
// good: it posts the final leaderboard, announces GAME ENDED, and disarms the
// deadline timer. The thread itself stays up as the permanent record.
func (a *App) Pause(ctx context.Context, postID string) error {
	return a.transition(ctx, postID, protocol.LifecyclePaused, phaseActive)
}

func (a *App) Resume(ctx context.Context, postID string) error {
	return a.transition(ctx, postID, protocol.LifecycleResumed, func(p protocol.LifecycleState) bool {
		return p == protocol.LifecyclePaused
	})
}

func (a *App) End(ctx context.Context, postID string) error {
	g, err := a.game(postID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == protocol.LifecycleEnded {
		return fmt.Errorf("%w: phase %s", ErrWrongPhase, g.phase)
	}

	if err := a.publishLeaderboardLocked(ctx, g); err != nil {
		return err
	}
	if _, err := a.gw.CreateComment(ctx, g.thread.GameCommentID(), protocol.EncodeLifecycle(protocol.LifecycleEnded)); err != nil {
		return fmt.Errorf("announce game end: %w", err)
	}
	g.phase = protocol.LifecycleEnded
	a.sched.cancel(postID)

	log.Info().Str("post_id", postID).Msg("game ended")
	return nil
}

func (a *App) transition(ctx context.Context, postID string, to protocol.LifecycleState, allowed func(protocol.LifecycleState) bool) error {
	g, err := a.game(postID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !allowed(g.phase) {
		return fmt.Errorf("%w: phase %s", ErrWrongPhase, g.phase)
	}
	if _, err := a.gw.CreateComment(ctx, g.thread.GameCommentID(), protocol.EncodeLifecycle(to)); err != nil {
		return fmt.Errorf("announce phase %s: %w", to, err)
	}
	g.phase = to
	if to == protocol.LifecyclePaused {
		a.sched.cancel(postID)
	}

	log.Info().Str("post_id", postID).Str("phase", string(to)).Msg("game phase changed")
	return nil
}

// Info returns a snapshot of one game, or ErrGameNotFound.
func (a *App) Info(postID string) (*Info, error) {
	g, err := a.game(postID)
	if err != nil {
		return nil, err
	}
	return a.snapshot(g), nil
}

// Thread exposes a game's thread model, which the polling engine needs at
// startup.
func (a *App) Thread(postID string) (*thread.Thread, error) {
	g, err := a.game(postID)
	if err != nil {
		return nil, err
	}
	return g.thread, nil
}

// PostIDs lists the registered games.
func (a *App) PostIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.games))
	for id := range a.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown disarms all round deadline timers.
func (a *App) Shutdown() {
	a.sched.cancelAll()
}

func (a *App) game(postID string) (*gameState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.games[postID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, postID)
	}
	return g, nil
}

func (a *App) snapshot(g *gameState) *Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &Info{
		PostID:          g.thread.PostID(),
		Title:           g.title,
		Phase:           g.phase,
		Round:           g.thread.RoundCount(),
		Submissions:     g.thread.SubmissionCount(),
		RoundLength:     g.roundLength,
		Timer:           a.tsync.Sync(g.thread),
		Standings:       standingsLocked(g),
		GameCommentID:   g.thread.GameCommentID(),
		RulesCommentID:  g.thread.RulesCommentID(),
		StatusCommentID: g.thread.StatusCommentID(),
	}
}

// handleRoundExpiry fires when an announced round's duration elapses with no
// EndRound call. It publishes a status snapshot so the thread shows the
// countdown has run out; picking a winner stays with the host.
func (a *App) handleRoundExpiry(postID string, round int) {
	log.Info().Str("post_id", postID).Int("round", round).Msg("round deadline elapsed")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.PublishStatus(ctx, postID); err != nil {
		log.Error().Err(err).Str("post_id", postID).Msg("failed to publish expiry status")
	}
}

func (a *App) validateCreateGameRequest(req CreateGameRequest) error {
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(req.Rules) == 0 {
		return fmt.Errorf("at least one rule line is required")
	}
	if req.RoundLength < 0 {
		return fmt.Errorf("round length must not be negative")
	}
	return nil
}

func phaseActive(p protocol.LifecycleState) bool {
	return p == protocol.LifecycleStarted || p == protocol.LifecycleResumed
}

func standingsLocked(g *gameState) []protocol.LeaderboardEntry {
	entries := make([]protocol.LeaderboardEntry, 0, len(g.scores))
	for player, s := range g.scores {
		entries = append(entries, protocol.LeaderboardEntry{Player: player, Points: s.points, Wins: s.wins})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		return entries[i].Player < entries[j].Player
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
