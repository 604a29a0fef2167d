// Package config loads and validates agent configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// The acquisition policy itself lives in its own strictly-validated file
// (see internal/policy); this struct only covers operational knobs.
type Config struct {
	Home      string          `mapstructure:"home"`
	Server    ServerConfig    `mapstructure:"server"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FetcherConfig governs politeness fetcher behavior.
type FetcherConfig struct {
	UserAgent       string  `mapstructure:"user_agent"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	ThrottleSeconds float64 `mapstructure:"throttle_seconds"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
}

// IngestConfig governs chunking and corroboration.
type IngestConfig struct {
	ChunkSize       int      `mapstructure:"chunk_size"`
	MinSources      int      `mapstructure:"min_sources"`
	AllowedLicences []string `mapstructure:"allowed_licences"`
}

// SchedulerConfig controls the serve-mode evaluation loop.
type SchedulerConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VEILLEUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("home", filepath.Join(home, ".veilleur"))
	v.SetDefault("server.port", 8090)
	v.SetDefault("fetcher.user_agent", "veilleur-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.throttle_seconds", 1.0)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("ingest.chunk_size", 512)
	v.SetDefault("ingest.min_sources", 2)
	v.SetDefault("ingest.allowed_licences", []string{
		"CC-BY-4.0", "CC-BY-SA-4.0", "MIT", "Apache-2.0",
	})
	v.SetDefault("scheduler.tick_seconds", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home must be set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.ThrottleSeconds < 0 {
		return fmt.Errorf("fetcher.throttle_seconds must be >= 0")
	}
	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("ingest.chunk_size must be >= 1")
	}
	if c.Ingest.MinSources < 2 {
		return fmt.Errorf("ingest.min_sources must be >= 2")
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be > 0")
	}
	return nil
}

// PolicyPath is the location of the strictly-validated policy file.
func (c Config) PolicyPath() string { return filepath.Join(c.Home, "policy.yaml") }

// LedgerPath is the location of the signed consent ledger.
func (c Config) LedgerPath() string { return filepath.Join(c.Home, "consent-ledger.jsonl") }

// StatePath is the location of the persisted scheduler state.
func (c Config) StatePath() string { return filepath.Join(c.Home, "autopilot-state.json") }

// StorePath is the location of the default file-backed vector store.
func (c Config) StorePath() string { return filepath.Join(c.Home, "vector-store.json") }

// ReportPath is the location of the acquisition history record.
func (c Config) ReportPath() string { return filepath.Join(c.Home, "reports", "history.json") }

// FetchTimeout converts the fetcher timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}
