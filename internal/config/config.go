// Package config loads the configuration values the orchestration core
// reads: sleep/distraction thresholds, watchdog tuning,
// handoff deadlines, promotion polling, and checkpoint retention. It
// follows the load-from-file-then-overlay-from-env idiom used by the
// pack's vc watchdog config, adapted to this domain and to YAML (already
// a teacher dependency) instead of JSON.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// HandoffDeadlines are the per-phase sub-deadlines of one GPU handoff.
// Their sum must not exceed Outer.
type HandoffDeadlines struct {
	Outer  time.Duration `yaml:"outer_deadline"`
	Drain  time.Duration `yaml:"drain"`
	Release time.Duration `yaml:"release"`
	Start  time.Duration `yaml:"start"`
	Verify time.Duration `yaml:"verify"`
}

// WatchdogConfig tunes the HealthWatchdog's hysteresis.
type WatchdogConfig struct {
	Interval         time.Duration `yaml:"interval"`
	FailThreshold    int           `yaml:"fail_threshold"`
	RecoverThreshold int           `yaml:"recover_threshold"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
}

// DistractionConfig tunes ResourceProbe's sustained-utilization hysteresis.
type DistractionConfig struct {
	ThresholdPct   float64 `yaml:"threshold_pct"`
	WindowSamples  int     `yaml:"window_samples"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// SleepConfig tunes the SleepWakeManager.
type SleepConfig struct {
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	WakeBackoffBase time.Duration `yaml:"wake_backoff_base"`
	WakeBackoffMax  time.Duration `yaml:"wake_backoff_max"`
}

// CheckpointConfig tunes CheckpointStore retention.
type CheckpointConfig struct {
	HistoryMaxEntries int `yaml:"history_max_entries"`
}

// PromotionConfig tunes the PromotionPipeline.
type PromotionConfig struct {
	HealthPollMax time.Duration `yaml:"health_poll_max"`
}

// Config is the complete configuration surface of the orchestration core.
type Config struct {
	Sleep      SleepConfig      `yaml:"sleep"`
	Distraction DistractionConfig `yaml:"distraction"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Handoff    HandoffDeadlines `yaml:"handoff"`
	Promotion  PromotionConfig  `yaml:"promotion"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// DataDir is where the ledger, checkpoint store, and BoltDB files live.
	DataDir string `yaml:"data_dir"`

	// MaintenanceFlagPath is the well-known shared-volume path whose mere
	// presence freezes HA routing at primary.
	MaintenanceFlagPath string `yaml:"maintenance_flag_path"`
}

// Default returns a Config populated with reasonable production defaults.
func Default() *Config {
	return &Config{
		Sleep: SleepConfig{
			IdleThreshold:   5 * time.Minute,
			WakeBackoffBase: 500 * time.Millisecond,
			WakeBackoffMax:  60 * time.Second,
		},
		Distraction: DistractionConfig{
			ThresholdPct:   25,
			WindowSamples:  1,
			SampleInterval: 5 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Interval:         5 * time.Second,
			FailThreshold:    2,
			RecoverThreshold: 3,
			ProbeTimeout:     3 * time.Second,
		},
		Handoff: HandoffDeadlines{
			Outer:   180 * time.Second,
			Drain:   10 * time.Second,
			Release: 30 * time.Second,
			Start:   60 * time.Second,
			Verify:  90 * time.Second,
		},
		Promotion: PromotionConfig{
			HealthPollMax: 180 * time.Second,
		},
		Checkpoint: CheckpointConfig{
			HistoryMaxEntries: 1000,
		},
		DataDir:             "/var/lib/gaia",
		MaintenanceFlagPath: "/var/lib/gaia/MAINTENANCE",
	}
}

// LoadFromFile loads configuration from a YAML file, returning defaults if
// the file does not exist. An existing-but-invalid file is an error: the
// core must fail to start rather than partially initialize.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration in %s: %w", path, err)
	}

	return cfg, nil
}

// OverlayFromEnv overrides select values from GAIA_-prefixed environment
// variables, mirroring the VC_WATCHDOG_-style overlay pattern.
func (c *Config) OverlayFromEnv() {
	if v := os.Getenv("GAIA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("GAIA_MAINTENANCE_FLAG_PATH"); v != "" {
		c.MaintenanceFlagPath = v
	}
	if v := os.Getenv("GAIA_WATCHDOG_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watchdog.Interval = d
		}
	}
	if v := os.Getenv("GAIA_WATCHDOG_FAIL_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watchdog.FailThreshold = n
		}
	}
	if v := os.Getenv("GAIA_WATCHDOG_RECOVER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Watchdog.RecoverThreshold = n
		}
	}
	if v := os.Getenv("GAIA_SLEEP_IDLE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sleep.IdleThreshold = d
		}
	}
	if v := os.Getenv("GAIA_HANDOFF_OUTER_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Handoff.Outer = d
		}
	}
}

// Validate rejects configuration that would leave the core in an
// ill-defined state. Called from LoadFromFile; exported so callers that
// mutate a Config at runtime can re-check it.
func (c *Config) Validate() error {
	if c.Watchdog.FailThreshold < 1 {
		return fmt.Errorf("watchdog.fail_threshold must be >= 1, got %d", c.Watchdog.FailThreshold)
	}
	if c.Watchdog.RecoverThreshold < 1 {
		return fmt.Errorf("watchdog.recover_threshold must be >= 1, got %d", c.Watchdog.RecoverThreshold)
	}
	if c.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog.interval must be positive, got %v", c.Watchdog.Interval)
	}
	if c.Distraction.WindowSamples < 1 {
		return fmt.Errorf("distraction.window_samples must be >= 1, got %d", c.Distraction.WindowSamples)
	}
	if c.Distraction.ThresholdPct <= 0 || c.Distraction.ThresholdPct > 100 {
		return fmt.Errorf("distraction.threshold_pct must be in (0, 100], got %f", c.Distraction.ThresholdPct)
	}

	sum := c.Handoff.Drain + c.Handoff.Release + c.Handoff.Start + c.Handoff.Verify
	if sum > c.Handoff.Outer {
		return fmt.Errorf("handoff sub-deadlines sum to %v, exceeding outer deadline %v", sum, c.Handoff.Outer)
	}
	if c.Handoff.Outer <= 0 {
		return fmt.Errorf("handoff.outer_deadline must be positive, got %v", c.Handoff.Outer)
	}

	if c.Checkpoint.HistoryMaxEntries < 0 {
		return fmt.Errorf("checkpoint.history.max_entries must be >= 0, got %d", c.Checkpoint.HistoryMaxEntries)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	return nil
}
