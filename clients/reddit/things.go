package reddit

import (
	"encoding/json"
	"time"

	"github.com/snaphunt/snaphunt/internal/forum"
)

// thing is Reddit's polymorphic JSON envelope: a kind tag plus a payload
// whose shape depends on the kind.
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingData struct {
	Children []thing `json:"children"`
	After    string  `json:"after"`
}

type commentData struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Author     string          `json:"author"`
	ParentID   string          `json:"parent_id"`
	Body       string          `json:"body"`
	CreatedUTC float64         `json:"created_utc"`
	Permalink  string          `json:"permalink"`
	Replies    json.RawMessage `json:"replies"`
}

// apiResponse is the envelope returned by write endpoints called with
// api_type=json. Errors come as triples of [code, message, field].
type apiResponse struct {
	JSON struct {
		Errors [][]string `json:"errors"`
		Data   struct {
			Name   string  `json:"name"`
			Things []thing `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

func (c commentData) toComment() forum.Comment {
	return forum.Comment{
		ID:        c.Name,
		Author:    c.Author,
		ParentID:  c.ParentID,
		Body:      c.Body,
		CreatedAt: time.Unix(int64(c.CreatedUTC), 0).UTC(),
		Permalink: c.Permalink,
	}
}

// flattenComments walks a comment listing depth-first, collecting every
// comment in the tree. "more" stubs and other non-comment kinds are skipped.
func flattenComments(listing thing, out []forum.Comment) []forum.Comment {
	var data listingData
	if err := json.Unmarshal(listing.Data, &data); err != nil {
		return out
	}
	for _, child := range data.Children {
		if child.Kind != CommentKind {
			continue
		}
		var cd commentData
		if err := json.Unmarshal(child.Data, &cd); err != nil {
			continue
		}
		out = append(out, cd.toComment())

		// Replies is either an empty string or a nested listing.
		if len(cd.Replies) > 0 && cd.Replies[0] == '{' {
			var nested thing
			if err := json.Unmarshal(cd.Replies, &nested); err == nil {
				out = flattenComments(nested, out)
			}
		}
	}
	return out
}
