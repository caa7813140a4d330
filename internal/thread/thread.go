// Package thread maintains the Game Thread Model: the authoritative map from
// semantic role to comment ID for one game. A game's durable public record is
// the set of forum comments these IDs point at; the model itself is cheap to
// rebuild and is never deleted while the process runs.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RoleKind enumerates the semantic positions a comment ID can occupy in a
// game thread.
type RoleKind int

const (
	RoleUnknown RoleKind = iota
	RolePost
	RoleGameComment
	RoleRulesComment
	RoleStatusComment
	RoleRound
	RoleSubmission
)

func (k RoleKind) String() string {
	switch k {
	case RolePost:
		return "post"
	case RoleGameComment:
		return "game_comment"
	case RoleRulesComment:
		return "rules_comment"
	case RoleStatusComment:
		return "status_comment"
	case RoleRound:
		return "round"
	case RoleSubmission:
		return "submission"
	default:
		return "unknown"
	}
}

// Role is the result of a role-slot lookup. Round is the 1-based round number
// when Kind is RoleRound, zero otherwise.
type Role struct {
	Kind  RoleKind
	Round int
}

// ErrEmptyPostID is returned when a thread is created or restored without a
// root post identifier.
var ErrEmptyPostID = errors.New("thread: empty post id")

// CommentPoster is the slice of the forum gateway the model needs to allocate
// its root game comment.
type CommentPoster interface {
	CreateComment(ctx context.Context, parentID, body string) (string, error)
}

// Thread is one game's presence in the forum. Round and submission sequences
// are append-only and never reorder. The game service and the poll loop share
// a Thread, so all access goes through the internal lock.
type Thread struct {
	mu sync.RWMutex

	postID          string
	gameCommentID   string
	rulesCommentID  string
	statusCommentID string

	roundIDs    []string
	roundTimes  []time.Time
	submissions []string
	rolesByID   map[string]Role
	createdAt   time.Time // creation time of the root game comment
	lastUpdated time.Time
}

// Create allocates the root game comment under postID and returns a thread
// with empty round and submission sequences. The rules and status slots are
// bound later via SetRulesComment and SetStatusComment.
func Create(ctx context.Context, gw CommentPoster, clock clockwork.Clock, postID, infoBody string) (*Thread, error) {
	if postID == "" {
		return nil, ErrEmptyPostID
	}
	id, err := gw.CreateComment(ctx, postID, infoBody)
	if err != nil {
		return nil, fmt.Errorf("create root game comment: %w", err)
	}
	now := clock.Now()
	t := newThread(postID)
	t.gameCommentID = id
	t.createdAt = now
	t.lastUpdated = now
	t.rolesByID[id] = Role{Kind: RoleGameComment}
	return t, nil
}

// Restore rebuilds a thread model from identifiers recorded elsewhere (the
// comments themselves are the durable record). Creation times are unknown
// after a restore; the timer synchronizer degrades to "assume now" for them.
func Restore(postID, gameCommentID, rulesCommentID, statusCommentID string, roundIDs []string) (*Thread, error) {
	if postID == "" {
		return nil, ErrEmptyPostID
	}
	t := newThread(postID)
	if gameCommentID != "" {
		t.gameCommentID = gameCommentID
		t.rolesByID[gameCommentID] = Role{Kind: RoleGameComment}
	}
	if rulesCommentID != "" {
		t.rulesCommentID = rulesCommentID
		t.rolesByID[rulesCommentID] = Role{Kind: RoleRulesComment}
	}
	if statusCommentID != "" {
		t.statusCommentID = statusCommentID
		t.rolesByID[statusCommentID] = Role{Kind: RoleStatusComment}
	}
	for _, id := range roundIDs {
		t.appendRoundLocked(id, time.Time{})
	}
	return t, nil
}

func newThread(postID string) *Thread {
	return &Thread{
		postID:    postID,
		rolesByID: map[string]Role{postID: {Kind: RolePost}},
	}
}

// SetRulesComment binds the rules comment slot.
func (t *Thread) SetRulesComment(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rulesCommentID = id
	t.ensureRoles()
	t.rolesByID[id] = Role{Kind: RoleRulesComment}
}

// SetStatusComment binds the live status comment slot.
func (t *Thread) SetStatusComment(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusCommentID = id
	t.ensureRoles()
	t.rolesByID[id] = Role{Kind: RoleStatusComment}
}

// AppendRound records a new round comment. Duplicate or empty IDs are
// rejected as logged no-ops; the sequence never shrinks or reorders.
func (t *Thread) AppendRound(id string, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendRoundLocked(id, startedAt)
}

func (t *Thread) appendRoundLocked(id string, startedAt time.Time) {
	if id == "" {
		log.Warn().Str("post_id", t.postID).Msg("empty round comment id ignored")
		return
	}
	t.ensureRoles()
	if _, exists := t.rolesByID[id]; exists {
		log.Warn().Str("post_id", t.postID).Str("comment_id", id).Msg("duplicate round comment ignored")
		return
	}
	t.roundIDs = append(t.roundIDs, id)
	t.roundTimes = append(t.roundTimes, startedAt)
	t.rolesByID[id] = Role{Kind: RoleRound, Round: len(t.roundIDs)}
	if startedAt.After(t.lastUpdated) {
		t.lastUpdated = startedAt
	}
}

// AppendSubmission records an accepted player submission comment. Duplicate
// or empty IDs are rejected as logged no-ops.
func (t *Thread) AppendSubmission(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" {
		log.Warn().Str("post_id", t.postID).Msg("empty submission comment id ignored")
		return
	}
	t.ensureRoles()
	if _, exists := t.rolesByID[id]; exists {
		log.Warn().Str("post_id", t.postID).Str("comment_id", id).Msg("duplicate submission comment ignored")
		return
	}
	t.submissions = append(t.submissions, id)
	t.rolesByID[id] = Role{Kind: RoleSubmission}
}

// RoleOf returns the role the given comment ID plays in this thread, or a
// RoleUnknown role for IDs the thread has never seen. Matching is exact.
func (t *Thread) RoleOf(id string) Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.rolesByID[id]; ok {
		return r
	}
	return Role{Kind: RoleUnknown}
}

// PostID returns the root post identifier.
func (t *Thread) PostID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.postID
}

// GameCommentID returns the root game comment identifier.
func (t *Thread) GameCommentID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gameCommentID
}

// RulesCommentID returns the rules comment identifier.
func (t *Thread) RulesCommentID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rulesCommentID
}

// StatusCommentID returns the live status comment identifier.
func (t *Thread) StatusCommentID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statusCommentID
}

// RoundCount returns the number of rounds recorded so far.
func (t *Thread) RoundCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roundIDs)
}

// SubmissionCount returns the number of accepted submissions recorded so far.
func (t *Thread) SubmissionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.submissions)
}

// LatestRound returns the most recent round comment ID and its 1-based
// number. ok is false when no round has started yet.
func (t *Thread) LatestRound() (id string, round int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.roundIDs) == 0 {
		return "", 0, false
	}
	return t.roundIDs[len(t.roundIDs)-1], len(t.roundIDs), true
}

// LatestRoundStartedAt returns the recorded creation time of the most recent
// round comment. ok is false when no round has started yet; the returned time
// may be zero for restored threads.
func (t *Thread) LatestRoundStartedAt() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.roundTimes) == 0 {
		return time.Time{}, false
	}
	return t.roundTimes[len(t.roundTimes)-1], true
}

// CreatedAt returns the recorded creation time of the root game comment. Zero
// for restored threads.
func (t *Thread) CreatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.createdAt
}

// LastUpdated returns the thread's last-update timestamp.
func (t *Thread) LastUpdated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdated
}

// Touch advances the last-update timestamp. Earlier times are ignored.
func (t *Thread) Touch(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.lastUpdated) {
		t.lastUpdated = at
	}
}

func (t *Thread) ensureRoles() {
	if t.rolesByID == nil {
		t.rolesByID = map[string]Role{}
		if t.postID != "" {
			t.rolesByID[t.postID] = Role{Kind: RolePost}
		}
	}
}
