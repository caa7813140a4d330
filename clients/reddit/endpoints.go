package reddit

import "time"

const (
	// Base URLs
	BaseURL  = "https://oauth.reddit.com"
	TokenURL = "https://www.reddit.com/api/v1/access_token"

	// API endpoints
	SubmitEndpoint   = "/api/submit"
	CommentEndpoint  = "/api/comment"
	CommentsEndpoint = "/comments/"

	// Thing kind prefixes
	PostKind    = "t3"
	CommentKind = "t1"

	DefaultTimeout = 30 * time.Second

	// Refresh the cached token slightly before Reddit expires it.
	tokenExpirySkew = 30 * time.Second
)
