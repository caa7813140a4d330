package forum

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{RetryAfter: 30 * time.Second}
	assert.Contains(t, err.Error(), "30s")

	bare := &RateLimitError{}
	assert.Equal(t, "rate limited by platform", bare.Error())
}

func TestIsRateLimit(t *testing.T) {
	rle := &RateLimitError{RetryAfter: time.Second}
	assert.True(t, IsRateLimit(rle))
	assert.True(t, IsRateLimit(fmt.Errorf("list comments: %w", rle)))
	assert.False(t, IsRateLimit(errors.New("connection refused")))
	assert.False(t, IsRateLimit(nil))
}
