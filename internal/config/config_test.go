package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDDIT_CLIENT_ID", "cid")
	t.Setenv("REDDIT_CLIENT_SECRET", "csecret")
	t.Setenv("REDDIT_USERNAME", "snapbot")
	t.Setenv("REDDIT_PASSWORD", "hunter2")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REDDIT_CLIENT_ID", "REDDIT_CLIENT_SECRET", "REDDIT_USERNAME", "REDDIT_PASSWORD",
		"SNAPHUNT_TARGET", "SNAPHUNT_LISTEN_ADDR", "SNAPHUNT_POLL_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snaphunt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setCredEnv(t)
	t.Setenv("SNAPHUNT_TARGET", "r/photohunts")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8084", cfg.App.ListenAddr)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "r/photohunts", cfg.App.Target)
	assert.Equal(t, 3*time.Minute, cfg.App.RoundLength.Std())
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval.Std())
	assert.Equal(t, 2*time.Second, cfg.Poll.BackoffBase.Std())
	assert.Equal(t, 2*time.Minute, cfg.Poll.MaxInterval.Std())
	assert.Equal(t, 3, cfg.Poll.MaxRetries)
	assert.Equal(t, 32, cfg.Poll.BufferSize)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "GAME_UPDATES", cfg.NATS.Stream)
	assert.Equal(t, "snaphunt.games", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "cid", cfg.Reddit.ClientID)
	assert.Empty(t, cfg.Games)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	setCredEnv(t)

	path := writeConfigFile(t, `
app:
  listen_addr: ":9090"
  log_level: debug
  target: r/cityhunts
  round_length: 5m
poll:
  interval: 10s
  max_retries: 5
nats:
  enabled: true
  url: nats://nats.internal:4222
games:
  - post_id: t3_abc
    title: Old Hunt
    game_comment_id: t1_g1
    status_comment_id: t1_s1
    round_ids: [t1_r1, t1_r2]
    round_length: 4m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.App.ListenAddr)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "r/cityhunts", cfg.App.Target)
	assert.Equal(t, 5*time.Minute, cfg.App.RoundLength.Std())
	assert.Equal(t, 10*time.Second, cfg.Poll.Interval.Std())
	assert.Equal(t, 5, cfg.Poll.MaxRetries)
	// Fields the file omits keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Poll.BackoffBase.Std())
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)

	require.Len(t, cfg.Games, 1)
	assert.Equal(t, "t3_abc", cfg.Games[0].PostID)
	assert.Equal(t, "Old Hunt", cfg.Games[0].Title)
	assert.Equal(t, []string{"t1_r1", "t1_r2"}, cfg.Games[0].RoundIDs)
	assert.Equal(t, 4*time.Minute, cfg.Games[0].RoundLength.Std())
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	setCredEnv(t)
	t.Setenv("SNAPHUNT_LISTEN_ADDR", ":7070")
	t.Setenv("SNAPHUNT_POLL_INTERVAL", "30s")

	path := writeConfigFile(t, `
app:
  listen_addr: ":9090"
  target: r/cityhunts
poll:
  interval: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.App.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval.Std())
	assert.Equal(t, "r/cityhunts", cfg.App.Target)
}

func TestLoadValidation(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SNAPHUNT_TARGET", "r/photohunts")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REDDIT_CLIENT_ID")
	})

	t.Run("missing target", func(t *testing.T) {
		clearEnv(t)
		setCredEnv(t)
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target")
	})

	t.Run("game without post id", func(t *testing.T) {
		clearEnv(t)
		setCredEnv(t)
		path := writeConfigFile(t, `
app:
  target: r/photohunts
games:
  - title: Broken
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "post_id")
	})
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)
	setCredEnv(t)
	t.Setenv("SNAPHUNT_TARGET", "r/photohunts")

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfigFile(t, "app: [not: a map")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeConfigFile(t, "poll:\n  interval: soon\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid duration")
	})
}
