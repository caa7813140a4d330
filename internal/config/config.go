// Package config loads daemon configuration from an optional YAML file with
// environment overrides on top. Reddit credentials come from the environment
// only and never from the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "5s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	App    AppConfig    `yaml:"app"`
	Reddit RedditConfig `yaml:"reddit"`
	Poll   PollConfig   `yaml:"poll"`
	NATS   NATSConfig   `yaml:"nats"`
	Games  []GameConfig `yaml:"games"`
}

type AppConfig struct {
	ListenAddr  string   `yaml:"listen_addr"`
	LogLevel    string   `yaml:"log_level"`
	Target      string   `yaml:"target"`
	RoundLength Duration `yaml:"round_length"`
}

type RedditConfig struct {
	BaseURL   string `yaml:"base_url"`
	TokenURL  string `yaml:"token_url"`
	UserAgent string `yaml:"user_agent"`

	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
	Username     string `yaml:"-"`
	Password     string `yaml:"-"`
}

type PollConfig struct {
	Interval    Duration `yaml:"interval"`
	BackoffBase Duration `yaml:"backoff_base"`
	MaxInterval Duration `yaml:"max_interval"`
	MaxRetries  int      `yaml:"max_retries"`
	BufferSize  int      `yaml:"buffer_size"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// GameConfig identifies an existing game thread the daemon re-adopts at
// startup. The comments on the forum are the durable record; these IDs are
// enough to rebuild the thread model.
type GameConfig struct {
	PostID          string   `yaml:"post_id"`
	Title           string   `yaml:"title"`
	GameCommentID   string   `yaml:"game_comment_id"`
	RulesCommentID  string   `yaml:"rules_comment_id"`
	StatusCommentID string   `yaml:"status_comment_id"`
	RoundIDs        []string `yaml:"round_ids"`
	RoundLength     Duration `yaml:"round_length"`
}

func Default() Config {
	return Config{
		App: AppConfig{
			ListenAddr:  ":8084",
			LogLevel:    "info",
			RoundLength: Duration(3 * time.Minute),
		},
		Poll: PollConfig{
			Interval:    Duration(5 * time.Second),
			BackoffBase: Duration(2 * time.Second),
			MaxInterval: Duration(2 * time.Minute),
			MaxRetries:  3,
			BufferSize:  32,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Stream:        "GAME_UPDATES",
			SubjectPrefix: "snaphunt.games",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file when
// path is non-empty, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.App.ListenAddr = getEnv("SNAPHUNT_LISTEN_ADDR", cfg.App.ListenAddr)
	cfg.App.LogLevel = getEnv("SNAPHUNT_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.Target = getEnv("SNAPHUNT_TARGET", cfg.App.Target)
	cfg.App.RoundLength = getEnvAsDuration("SNAPHUNT_ROUND_LENGTH", cfg.App.RoundLength)

	cfg.Reddit.BaseURL = getEnv("REDDIT_BASE_URL", cfg.Reddit.BaseURL)
	cfg.Reddit.TokenURL = getEnv("REDDIT_TOKEN_URL", cfg.Reddit.TokenURL)
	cfg.Reddit.UserAgent = getEnv("REDDIT_USER_AGENT", cfg.Reddit.UserAgent)
	cfg.Reddit.ClientID = getEnv("REDDIT_CLIENT_ID", cfg.Reddit.ClientID)
	cfg.Reddit.ClientSecret = getEnv("REDDIT_CLIENT_SECRET", cfg.Reddit.ClientSecret)
	cfg.Reddit.Username = getEnv("REDDIT_USERNAME", cfg.Reddit.Username)
	cfg.Reddit.Password = getEnv("REDDIT_PASSWORD", cfg.Reddit.Password)

	cfg.Poll.Interval = getEnvAsDuration("SNAPHUNT_POLL_INTERVAL", cfg.Poll.Interval)
	cfg.Poll.BackoffBase = getEnvAsDuration("SNAPHUNT_POLL_BACKOFF_BASE", cfg.Poll.BackoffBase)
	cfg.Poll.MaxInterval = getEnvAsDuration("SNAPHUNT_POLL_MAX_INTERVAL", cfg.Poll.MaxInterval)
	cfg.Poll.MaxRetries = getEnvAsInt("SNAPHUNT_POLL_MAX_RETRIES", cfg.Poll.MaxRetries)
	cfg.Poll.BufferSize = getEnvAsInt("SNAPHUNT_POLL_BUFFER_SIZE", cfg.Poll.BufferSize)

	if v := os.Getenv("NATS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NATS.Enabled = b
		}
	}
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Stream = getEnv("NATS_STREAM", cfg.NATS.Stream)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Reddit.ClientID == "" || c.Reddit.ClientSecret == "" {
		return fmt.Errorf("REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET are required")
	}
	if c.Reddit.Username == "" || c.Reddit.Password == "" {
		return fmt.Errorf("REDDIT_USERNAME and REDDIT_PASSWORD are required")
	}
	if c.App.Target == "" {
		return fmt.Errorf("target board is required (app.target or SNAPHUNT_TARGET)")
	}
	for i, g := range c.Games {
		if g.PostID == "" {
			return fmt.Errorf("games[%d]: post_id is required", i)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return Duration(d)
		}
	}
	return defaultValue
}
