// Package config provides configuration management for the Stoneforge core.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestration core.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Events     EventsConfig     `mapstructure:"events"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Spawner    SpawnerConfig    `mapstructure:"spawner"`
	Steward    StewardConfig    `mapstructure:"steward"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Worktree   WorktreeConfig   `mapstructure:"worktree"`
	Repository RepositoryConfig `mapstructure:"repository"`
}

// DatabaseConfig holds the SQLite Store's database file location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration for the event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DispatchConfig holds Dispatch Daemon tuning.
type DispatchConfig struct {
	PollIntervalMs    int `mapstructure:"pollIntervalMs"`
	MaxPerTick        int `mapstructure:"maxPerTick"`
	ShutdownTimeoutMs int `mapstructure:"shutdownTimeoutMs"`
}

// SpawnerConfig holds Spawner tuning and the default CLI agent
// executable the built-in exec-based providers shell out to.
type SpawnerConfig struct {
	InitTimeoutMs    int      `mapstructure:"initTimeoutMs"`
	TombstoneDelayMs int      `mapstructure:"tombstoneDelayMs"`
	Executable       string   `mapstructure:"executable"`
	Args             []string `mapstructure:"args"`
}

// StewardConfig holds Steward Scheduler tuning.
type StewardConfig struct {
	DefaultTimeoutMs     int `mapstructure:"defaultTimeoutMs"`
	MaxHistoryPerSteward int `mapstructure:"maxHistoryPerSteward"`
}

// SyncConfig holds External Sync Daemon tuning.
type SyncConfig struct {
	IntervalMs        int `mapstructure:"intervalMs"`
	ShutdownTimeoutMs int `mapstructure:"shutdownTimeoutMs"`
}

// WorktreeConfig holds git worktree allocator configuration.
type WorktreeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BasePath string `mapstructure:"basePath"`
}

// RepositoryConfig names the git repository the Dispatch Daemon allocates
// per-task worktrees in, when worktree.enabled is true.
type RepositoryConfig struct {
	Path       string `mapstructure:"path"`
	BaseBranch string `mapstructure:"baseBranch"`
}

// detectDefaultLogFormat returns "json" in containerized/production
// environments and "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("STONEFORGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", ".stoneforge/stoneforge.db")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "stoneforge-cluster")
	v.SetDefault("nats.clientId", "stoneforge-core")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("dispatch.pollIntervalMs", 5000)
	v.SetDefault("dispatch.maxPerTick", 10)
	v.SetDefault("dispatch.shutdownTimeoutMs", 10000)

	v.SetDefault("spawner.initTimeoutMs", 120000)
	v.SetDefault("spawner.tombstoneDelayMs", 5000)
	v.SetDefault("spawner.executable", "")
	v.SetDefault("spawner.args", []string{})

	v.SetDefault("steward.defaultTimeoutMs", 300000)
	v.SetDefault("steward.maxHistoryPerSteward", 100)

	v.SetDefault("sync.intervalMs", 60000)
	v.SetDefault("sync.shutdownTimeoutMs", 10000)

	v.SetDefault("worktree.enabled", true)
	v.SetDefault("worktree.basePath", ".stoneforge/.worktrees")

	v.SetDefault("repository.path", ".")
	v.SetDefault("repository.baseBranch", "main")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix STONEFORGE_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("STONEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "STONEFORGE_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "STONEFORGE_EVENTS_NAMESPACE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".stoneforge")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Dispatch.PollIntervalMs <= 0 {
		errs = append(errs, "dispatch.pollIntervalMs must be positive")
	}
	if cfg.Sync.IntervalMs < 10000 || cfg.Sync.IntervalMs > 30*60*1000 {
		errs = append(errs, "sync.intervalMs must be within [10s, 30min]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
