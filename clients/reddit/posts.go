package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/snaphunt/snaphunt/internal/forum"
)

// CreatePost submits a self post to the target subreddit and returns its
// fullname.
func (c *Client) CreatePost(ctx context.Context, title, body, target string) (string, error) {
	form := url.Values{
		"sr":       {target},
		"kind":     {"self"},
		"title":    {title},
		"text":     {body},
		"api_type": {"json"},
	}
	raw, err := c.do(ctx, SubmitEndpoint, form)
	if err != nil {
		return "", fmt.Errorf("submit post: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unmarshal submit response: %w, raw response: %s", err, string(raw))
	}
	if err := checkAPIErrors(resp); err != nil {
		return "", err
	}
	if resp.JSON.Data.Name == "" {
		return "", fmt.Errorf("submit response missing post fullname")
	}
	return resp.JSON.Data.Name, nil
}

func checkAPIErrors(resp apiResponse) error {
	if len(resp.JSON.Errors) == 0 {
		return nil
	}
	e := resp.JSON.Errors[0]
	code := ""
	msg := ""
	if len(e) > 0 {
		code = e[0]
	}
	if len(e) > 1 {
		msg = e[1]
	}
	if code == "RATELIMIT" {
		return &forum.RateLimitError{}
	}
	return fmt.Errorf("reddit API error %s: %s", code, msg)
}
