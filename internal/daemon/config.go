// Package daemon manages the Cascade daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/cascade-app/cascade/internal/app/engagement"
)

// Config holds all daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api"`
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Progression ProgressionConfig `toml:"progression"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"` // per client IP; 0 disables
}

// DatabaseConfig controls where the SQLite file lives.
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"` // empty = console only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxFiles   int    `toml:"max_files"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// ProgressionConfig tunes the engine.
type ProgressionConfig struct {
	DailyChallenges  int  `toml:"daily_challenges"`
	WeeklyChallenges int  `toml:"weekly_challenges"`
	StreakBonus      bool `toml:"streak_bonus"`
	AtRiskHour       int  `toml:"at_risk_hour"` // local hour after which an unextended streak is at risk
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := cascadeHome()
	return Config{
		API: APIConfig{
			Host:               "127.0.0.1",
			Port:               8420,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 600,
		},
		Database: DatabaseConfig{
			Dir: homeDir,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       filepath.Join(homeDir, "cascade.log"),
			MaxSizeMB:  50,
			MaxFiles:   5,
			MaxAgeDays: 14,
		},
		Progression: ProgressionConfig{
			DailyChallenges:  engagement.DefaultDailyChallenges,
			WeeklyChallenges: engagement.DefaultWeeklyChallenges,
			StreakBonus:      true,
			AtRiskHour:       engagement.DefaultAtRiskHour,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Progression.DailyChallenges < 0 || c.Progression.WeeklyChallenges < 0 {
		return fmt.Errorf("progression: challenge counts must not be negative")
	}
	if c.Progression.AtRiskHour < 0 || c.Progression.AtRiskHour > 23 {
		return fmt.Errorf("progression.at_risk_hour %d out of range", c.Progression.AtRiskHour)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// EngineOptions maps the [progression] section onto engine options.
func (c Config) EngineOptions() engagement.Options {
	opts := engagement.DefaultOptions()
	opts.StreakBonus = c.Progression.StreakBonus
	opts.DailyChallenges = c.Progression.DailyChallenges
	opts.WeeklyChallenges = c.Progression.WeeklyChallenges
	opts.AtRiskHour = c.Progression.AtRiskHour
	return opts
}

// LoadConfig reads config from $CASCADE_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads one TOML file over the defaults. A missing file is
// not an error.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Database.Dir == "" {
		cfg.Database.Dir = cascadeHome()
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes the config to $CASCADE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath is the location LoadConfig reads.
func ConfigPath() string {
	return filepath.Join(cascadeHome(), "config.toml")
}

// cascadeHome returns the Cascade data directory.
func cascadeHome() string {
	if env := os.Getenv("CASCADE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cascade")
}

// CascadeHome is exported for use by other packages.
func CascadeHome() string {
	return cascadeHome()
}
