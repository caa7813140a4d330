package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/snaphunt/snaphunt/internal/forum"
)

// CreateComment replies to a post or comment identified by fullname and
// returns the new comment's fullname.
func (c *Client) CreateComment(ctx context.Context, parentID, body string) (string, error) {
	form := url.Values{
		"thing_id": {parentID},
		"text":     {body},
		"api_type": {"json"},
	}
	raw, err := c.do(ctx, CommentEndpoint, form)
	if err != nil {
		return "", fmt.Errorf("submit comment: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unmarshal comment response: %w, raw response: %s", err, string(raw))
	}
	if err := checkAPIErrors(resp); err != nil {
		return "", err
	}

	for _, th := range resp.JSON.Data.Things {
		if th.Kind != CommentKind {
			continue
		}
		var cd commentData
		if err := json.Unmarshal(th.Data, &cd); err != nil {
			return "", fmt.Errorf("unmarshal created comment: %w", err)
		}
		if cd.Name != "" {
			return cd.Name, nil
		}
	}
	return "", fmt.Errorf("comment response missing comment fullname")
}

// ListComments fetches the full comment tree under a post and returns the
// comments created strictly after since, flattened across reply nesting. The
// caller is responsible for ordering.
func (c *Client) ListComments(ctx context.Context, postID string, since time.Time) ([]forum.Comment, error) {
	endpoint := fmt.Sprintf("%s%s.json?limit=500&depth=10&sort=new", CommentsEndpoint, id36(postID))
	raw, err := c.do(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	// The comments endpoint returns two listings: the post itself, then the
	// comment tree.
	var pages []thing
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("unmarshal comments response: %w", err)
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("unexpected comments response shape: %d listings", len(pages))
	}

	all := flattenComments(pages[1], nil)
	fresh := make([]forum.Comment, 0, len(all))
	for _, cm := range all {
		if cm.CreatedAt.After(since) {
			fresh = append(fresh, cm)
		}
	}
	return fresh, nil
}
