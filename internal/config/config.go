// Package config loads deploypilot configuration from YAML with CLI-flag
// overrides. Missing files yield defaults; malformed files are errors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Deployment mode constants. The mode decides how far the pipeline may
// advance: dry-run stops after tests, local-commit stops after the local
// commit, full-publish runs the complete pipeline.
const (
	ModeDryRun      = "dry-run"
	ModeLocalCommit = "local-commit"
	ModeFullPublish = "full-publish"
)

// Config holds every tunable of a deployment run.
type Config struct {
	// Mode is one of dry-run, local-commit, full-publish.
	Mode string `yaml:"mode"`

	// BatchSize is the number of recommendations pulled per batch.
	BatchSize int `yaml:"batch_size"`

	// MaxConcurrency bounds the worker pool within a batch.
	MaxConcurrency int `yaml:"max_concurrency"`

	// BlockOnTestFailure makes a failing test run fatal for the item.
	BlockOnTestFailure bool `yaml:"block_on_test_failure"`

	// MaxRetries maps stage category (network, local) to attempt budget.
	MaxRetries map[string]int `yaml:"max_retries_per_stage"`

	// RetryBaseDelay is the delay before the first retry.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// BreakerThreshold is the failure ratio (0.0-1.0) that opens the
	// circuit breaker.
	BreakerThreshold float64 `yaml:"circuit_breaker_threshold"`

	// BreakerWindow is the ring buffer size of recent outcomes.
	BreakerWindow int `yaml:"circuit_breaker_window"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration `yaml:"circuit_breaker_cooldown"`

	// CostLimitUSD caps code generation spend per run (0 = unlimited).
	CostLimitUSD float64 `yaml:"cost_limit_usd"`

	// StoreDir is where durable state (audit log, backups, locks) lives.
	StoreDir string `yaml:"store_dir"`

	// LogLevel sets console verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir is where per-run log files are written.
	LogDir string `yaml:"log_dir"`
}

// DefaultConfig returns a Config with the documented defaults. Dry-run is
// the default mode so an unconfigured invocation never touches version
// control.
func DefaultConfig() *Config {
	return &Config{
		Mode:               ModeDryRun,
		BatchSize:          5,
		MaxConcurrency:     3,
		BlockOnTestFailure: true,
		MaxRetries: map[string]int{
			"network": 3,
			"local":   1,
		},
		RetryBaseDelay:   500 * time.Millisecond,
		BreakerThreshold: 0.5,
		BreakerWindow:    10,
		BreakerCooldown:  300 * time.Second,
		CostLimitUSD:     0,
		StoreDir:         ".deploypilot",
		LogLevel:         "info",
		LogDir:           ".deploypilot/logs",
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDryRun, ModeLocalCommit, ModeFullPublish:
	default:
		return fmt.Errorf("invalid mode %q (want %s, %s or %s)", c.Mode, ModeDryRun, ModeLocalCommit, ModeFullPublish)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.BreakerThreshold < 0 || c.BreakerThreshold > 1 {
		return fmt.Errorf("circuit_breaker_threshold must be in [0.0, 1.0], got %v", c.BreakerThreshold)
	}
	if c.BreakerWindow <= 0 {
		return fmt.Errorf("circuit_breaker_window must be positive, got %d", c.BreakerWindow)
	}
	return nil
}

// LoadConfig loads configuration from path, merging file values over
// defaults. A missing file returns defaults without error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are parsed from strings; a temporary struct keeps the
	// yaml tags in one place.
	type yamlConfig struct {
		Mode             string         `yaml:"mode"`
		BatchSize        int            `yaml:"batch_size"`
		MaxConcurrency   int            `yaml:"max_concurrency"`
		MaxRetries       map[string]int `yaml:"max_retries_per_stage"`
		RetryBaseDelay   string         `yaml:"retry_base_delay"`
		BreakerThreshold *float64       `yaml:"circuit_breaker_threshold"`
		BreakerWindow    int            `yaml:"circuit_breaker_window"`
		BreakerCooldown  string         `yaml:"circuit_breaker_cooldown"`
		CostLimitUSD     float64        `yaml:"cost_limit_usd"`
		StoreDir         string         `yaml:"store_dir"`
		LogLevel         string         `yaml:"log_level"`
		LogDir           string         `yaml:"log_dir"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.Mode != "" {
		cfg.Mode = yamlCfg.Mode
	}
	if yamlCfg.BatchSize != 0 {
		cfg.BatchSize = yamlCfg.BatchSize
	}
	if yamlCfg.MaxConcurrency != 0 {
		cfg.MaxConcurrency = yamlCfg.MaxConcurrency
	}
	for category, attempts := range yamlCfg.MaxRetries {
		cfg.MaxRetries[category] = attempts
	}
	if yamlCfg.RetryBaseDelay != "" {
		d, err := time.ParseDuration(yamlCfg.RetryBaseDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid retry_base_delay %q: %w", yamlCfg.RetryBaseDelay, err)
		}
		cfg.RetryBaseDelay = d
	}
	if yamlCfg.BreakerThreshold != nil {
		cfg.BreakerThreshold = *yamlCfg.BreakerThreshold
	}
	if yamlCfg.BreakerWindow != 0 {
		cfg.BreakerWindow = yamlCfg.BreakerWindow
	}
	if yamlCfg.BreakerCooldown != "" {
		d, err := time.ParseDuration(yamlCfg.BreakerCooldown)
		if err != nil {
			return nil, fmt.Errorf("invalid circuit_breaker_cooldown %q: %w", yamlCfg.BreakerCooldown, err)
		}
		cfg.BreakerCooldown = d
	}
	if yamlCfg.CostLimitUSD != 0 {
		cfg.CostLimitUSD = yamlCfg.CostLimitUSD
	}
	if yamlCfg.StoreDir != "" {
		cfg.StoreDir = yamlCfg.StoreDir
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}

	// block_on_test_failure defaults to true, so merging non-zero values
	// would make an explicit "false" unrepresentable. Detect presence
	// instead.
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if v, exists := rawMap["block_on_test_failure"]; exists {
			if b, ok := v.(bool); ok {
				cfg.BlockOnTestFailure = b
			}
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .deploypilot/config.yaml in
// the given directory, falling back to defaults when absent.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".deploypilot", "config.yaml"))
}

// FlagOverrides carries CLI flag values; nil pointers mean "not set".
type FlagOverrides struct {
	Mode           *string
	BatchSize      *int
	MaxConcurrency *int
	LogLevel       *string
	LogDir         *string
}

// MergeWithFlags applies non-nil flag values over the configuration.
func (c *Config) MergeWithFlags(flags FlagOverrides) {
	if flags.Mode != nil {
		c.Mode = *flags.Mode
	}
	if flags.BatchSize != nil {
		c.BatchSize = *flags.BatchSize
	}
	if flags.MaxConcurrency != nil {
		c.MaxConcurrency = *flags.MaxConcurrency
	}
	if flags.LogLevel != nil {
		c.LogLevel = *flags.LogLevel
	}
	if flags.LogDir != nil {
		c.LogDir = *flags.LogDir
	}
}
