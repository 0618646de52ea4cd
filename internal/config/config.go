package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Target     Target     `yaml:"target"`
	Sources    Sources    `yaml:"sources"`
	Telegram   Telegram   `yaml:"telegram"`
	Judgment   Judgment   `yaml:"judgment"`
	Queue      Queue      `yaml:"queue"`
	Merge      Merge      `yaml:"merge"`
	Digest     Digest     `yaml:"digest"`
	Context    Context    `yaml:"context"`
	RateLimits RateLimits `yaml:"rate_limits"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

// Target is the channel that receives published posts.
type Target struct {
	Channel   string `yaml:"channel"`
	Signature string `yaml:"signature"`
}

type Sources struct {
	Channels     []string      `yaml:"channels"`
	Feeds        []Feed        `yaml:"feeds"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Bridge       Bridge        `yaml:"bridge"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// Bridge is an optional NATS subject carrying JSON-encoded messages.
type Bridge struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Telegram struct {
	BotTokenEnv string        `yaml:"bot_token_env"`
	APIURL      string        `yaml:"api_url"`
	PreviewURL  string        `yaml:"preview_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	Reconnect   Backoff       `yaml:"reconnect"`
}

type Backoff struct {
	Attempts   int           `yaml:"attempts"`
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
}

type Judgment struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	OllamaURL   string   `yaml:"ollama_url"`
	OpenAIModel string   `yaml:"openai_model"`
	OpenAIURL   string   `yaml:"openai_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	MaxTokens   int      `yaml:"max_tokens"`
	Concurrency int      `yaml:"concurrency"`
	Voice       []string `yaml:"voice"`
}

type Queue struct {
	DedupWindow     time.Duration `yaml:"dedup_window"`
	RecentCacheSize int           `yaml:"recent_cache_size"`
	PopTimeout      time.Duration `yaml:"pop_timeout"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	InboundBuffer   int           `yaml:"inbound_buffer"`
}

type Merge struct {
	Candidates       int    `yaml:"candidates"`
	MaxContentLength int    `yaml:"max_content_length"`
	Separator        string `yaml:"separator"`
}

// Digest controls the batch flush cadence. Firings are aligned to
// midnight in Timezone plus Offset, then every Interval.
type Digest struct {
	Interval time.Duration `yaml:"interval"`
	Offset   time.Duration `yaml:"offset"`
	Timezone string        `yaml:"timezone"`
	MaxItems int           `yaml:"max_items"`
}

type Context struct {
	Window      time.Duration `yaml:"window"`
	FetchLimit  int           `yaml:"fetch_limit"`
	Parallelism int           `yaml:"parallelism"`
	MaxLength   int           `yaml:"max_length"`
}

type RateLimits struct {
	MaxPostsPerHour int `yaml:"max_posts_per_hour"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for autonews.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "autonews")
}

// DataDir returns the XDG data directory for autonews.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "autonews")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/autonews/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'autonews init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when a field is absent from the file.
func Defaults() *Config {
	return &Config{
		Target: Target{Channel: "hamidspulse"},
		Sources: Sources{
			PollInterval: 2 * time.Minute,
			Bridge:       Bridge{URL: "nats://127.0.0.1:4222", Subject: "autonews.inbound"},
		},
		Telegram: Telegram{
			BotTokenEnv: "TELEGRAM_BOT_TOKEN",
			APIURL:      "https://api.telegram.org",
			PreviewURL:  "https://t.me/s",
			PollTimeout: 30 * time.Second,
			Reconnect: Backoff{
				Attempts:   10,
				Base:       5 * time.Second,
				Multiplier: 2,
				Max:        5 * time.Minute,
			},
		},
		Judgment: Judgment{
			Provider:    "openai",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			OpenAIURL:   "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   2048,
			Concurrency: 3,
		},
		Queue: Queue{
			DedupWindow:     time.Hour,
			RecentCacheSize: 1000,
			PopTimeout:      time.Second,
			StopTimeout:     30 * time.Second,
			InboundBuffer:   256,
		},
		Merge: Merge{
			Candidates:       5,
			MaxContentLength: 1600,
			Separator:        "\n\n---\n\n",
		},
		Digest: Digest{
			Interval: 3 * time.Hour,
			Timezone: "Asia/Tehran",
			MaxItems: 50,
		},
		Context: Context{
			Window:      24 * time.Hour,
			FetchLimit:  1000,
			Parallelism: 4,
			MaxLength:   1200,
		},
		RateLimits: RateLimits{MaxPostsPerHour: 5},
		Server:     Server{Host: "127.0.0.1", Port: 8000},
		Logging:    Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTONEWS_DATA_DIR"); v != "" {
		cfg.Output.DataDir = v
	}
	if v := os.Getenv("AUTONEWS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Sources.Bridge.URL = v
		cfg.Sources.Bridge.Enabled = true
	}
}

// Validate rejects configurations the scheduler or publisher cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target.Channel) == "" {
		return fmt.Errorf("target.channel must be set")
	}
	if c.Digest.Interval < time.Minute {
		return fmt.Errorf("digest.interval must be at least 1m, got %s", c.Digest.Interval)
	}
	if c.Digest.Offset < 0 {
		return fmt.Errorf("digest.offset must not be negative")
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return fmt.Errorf("digest.timezone: %w", err)
	}
	if c.Judgment.Concurrency < 1 {
		return fmt.Errorf("judgment.concurrency must be positive")
	}
	if c.Queue.RecentCacheSize < 1 {
		return fmt.Errorf("queue.recent_cache_size must be positive")
	}
	return nil
}

// Location returns the digest timezone; Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Digest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BotToken reads the Telegram bot token from the configured environment variable.
func (c *Config) BotToken() string {
	return os.Getenv(c.Telegram.BotTokenEnv)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "autonews.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
