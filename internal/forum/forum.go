// Package forum defines the contract between the game engine and the host
// forum platform. The engine consumes the platform through this narrow
// surface only: create a post, create a comment, list comments under a post.
package forum

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Comment is one comment fetched from the platform. Immutable once fetched;
// the platform remains the source of truth for comment content.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	ParentID  string    `json:"parent_id"` // post ID for top-level comments, comment ID otherwise
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Permalink string    `json:"permalink"`
}

// Gateway defines what the engine needs from the forum platform. The engine
// never calls any other capability of the host.
type Gateway interface {
	// CreatePost submits a new post to target (e.g. a subreddit) and returns
	// the new post's ID.
	CreatePost(ctx context.Context, title, body, target string) (string, error)

	// CreateComment posts a reply under parentID (a post or comment ID) and
	// returns the new comment's ID.
	CreateComment(ctx context.Context, parentID, body string) (string, error)

	// ListComments returns the comments under postID created strictly after
	// since. Implementations may over-return; callers filter defensively.
	// A zero since means "no lower bound".
	ListComments(ctx context.Context, postID string, since time.Time) ([]Comment, error)
}

// RateLimitError reports that the platform refused a request because the
// shared request budget was exhausted. The polling engine treats it like any
// other transient failure so backoff stays uniform.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by platform, retry after %s", e.RetryAfter)
	}
	return "rate limited by platform"
}

// IsRateLimit reports whether err is a platform rate-limit error.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
