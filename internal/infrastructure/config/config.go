package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for nodewatch.
// All configuration is loaded from YAML and can be overridden by environment
// variables and CLI flags (defaults < file < environment < flags).
type Config struct {
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Logging  LoggingConfig  `yaml:"logging"`
	Journal  JournalConfig  `yaml:"journal"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// WatchdogConfig contains the supervision settings for the child process.
type WatchdogConfig struct {
	// Script is the path to the worker script to supervise.
	Script string `yaml:"script"`

	// LogFile is the live log file the child's combined output is written to.
	// Idle detection and keyword detection both read this file.
	LogFile string `yaml:"log_file"`

	// IdleThresholdSeconds is how long the log may go without new writes
	// before the child is considered hung.
	IdleThresholdSeconds int `yaml:"idle_threshold_seconds"`

	// PollIntervalSeconds is how often the supervisor inspects the log
	// while the child is running.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// KeywordsFile is an optional plain-text file with one error keyword
	// per line. If empty, the built-in keyword list is used.
	KeywordsFile string `yaml:"keywords_file"`

	// CaseInsensitive controls keyword matching case rules.
	CaseInsensitive bool `yaml:"case_insensitive"`

	// BackoffInitialSeconds is the first restart delay. The delay doubles
	// after every restart cycle and never resets.
	BackoffInitialSeconds int `yaml:"backoff_initial_seconds"`

	// BackoffMaxSeconds caps the restart delay.
	BackoffMaxSeconds int `yaml:"backoff_max_seconds"`

	// GracePeriodSeconds is how long to wait after SIGTERM before the
	// process group is killed forcefully.
	GracePeriodSeconds int `yaml:"grace_period_seconds"`

	// RotationRetention is how many compressed log archives to keep.
	RotationRetention int `yaml:"rotation_retention"`

	// LockFile is the path of the single-instance lock file.
	LockFile string `yaml:"lock_file"`

	// SweepPatterns are executable-path substrings that the orphan sweep
	// force-kills as a safety net after the group kill.
	SweepPatterns []string `yaml:"sweep_patterns"`

	// StdinScript are lines fed to the child's stdin shortly after spawn
	// to auto-answer interactive prompts.
	StdinScript []string `yaml:"stdin_script"`

	// StdinDelaySeconds is how long to wait before sending StdinScript.
	StdinDelaySeconds int `yaml:"stdin_delay_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// JournalConfig contains the SQLite cycle-event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the optional status notifier settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// MetricsConfig contains the optional InfluxDB cycle-metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// DefaultKeywords is the built-in error keyword list used when no keywords
// file is configured. Keywords are matched as literal substrings of the log.
var DefaultKeywords = []string{
	"CUDA out of memory",
	"CUDA error",
	"Segmentation fault",
	"FATAL ERROR",
	"JavaScript heap out of memory",
	"Unhandled rejection",
	"ECONNREFUSED",
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NODEWATCH_SECTION_KEY
// For example: NODEWATCH_WATCHDOG_SCRIPT, NODEWATCH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file. Empty means no file; the
//     defaults plus environment overrides are used.
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Watchdog: WatchdogConfig{
			Script:                "./run_worker.sh",
			LogFile:               "./logs/worker.log",
			IdleThresholdSeconds:  900,
			PollIntervalSeconds:   5,
			CaseInsensitive:       true,
			BackoffInitialSeconds: 3,
			BackoffMaxSeconds:     60,
			GracePeriodSeconds:    10,
			RotationRetention:     5,
			LockFile:              "/tmp/nodewatch.lock",
			SweepPatterns:         []string{"run_worker.sh"},
			StdinScript:           []string{"", "y"},
			StdinDelaySeconds:     2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Journal: JournalConfig{
			Path:        "./data/nodewatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			ClientID:    "nodewatch",
			QoS:         1,
			TopicPrefix: "nodewatch",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NODEWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Watchdog
	if v := os.Getenv("NODEWATCH_WATCHDOG_SCRIPT"); v != "" {
		cfg.Watchdog.Script = v
	}
	if v := os.Getenv("NODEWATCH_WATCHDOG_LOG_FILE"); v != "" {
		cfg.Watchdog.LogFile = v
	}
	if v := envInt("NODEWATCH_WATCHDOG_IDLE_SECONDS"); v > 0 {
		cfg.Watchdog.IdleThresholdSeconds = v
	}
	if v := os.Getenv("NODEWATCH_WATCHDOG_KEYWORDS_FILE"); v != "" {
		cfg.Watchdog.KeywordsFile = v
	}
	if v := os.Getenv("NODEWATCH_WATCHDOG_CASE_INSENSITIVE"); v != "" {
		cfg.Watchdog.CaseInsensitive = v != "0"
	}
	if v := envInt("NODEWATCH_WATCHDOG_BACKOFF_START"); v > 0 {
		cfg.Watchdog.BackoffInitialSeconds = v
	}
	if v := envInt("NODEWATCH_WATCHDOG_BACKOFF_MAX"); v > 0 {
		cfg.Watchdog.BackoffMaxSeconds = v
	}
	if v := os.Getenv("NODEWATCH_WATCHDOG_LOCK_FILE"); v != "" {
		cfg.Watchdog.LockFile = v
	}

	// Journal
	if v := os.Getenv("NODEWATCH_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// MQTT
	if v := os.Getenv("NODEWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("NODEWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("NODEWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// Metrics
	if v := os.Getenv("NODEWATCH_METRICS_TOKEN"); v != "" {
		cfg.Metrics.Token = v
	}
}

// envInt reads an integer environment variable, returning 0 when unset or
// unparsable.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Validate checks the configuration for errors.
//
// A backoff maximum below the initial delay is clamped up to the initial
// delay rather than rejected; everything else invalid is an error.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Watchdog.Script == "" {
		errs = append(errs, "watchdog.script is required")
	}
	if c.Watchdog.LogFile == "" {
		errs = append(errs, "watchdog.log_file is required")
	}
	if c.Watchdog.IdleThresholdSeconds <= 0 {
		errs = append(errs, "watchdog.idle_threshold_seconds must be > 0")
	}
	if c.Watchdog.PollIntervalSeconds <= 0 {
		errs = append(errs, "watchdog.poll_interval_seconds must be > 0")
	}
	if c.Watchdog.BackoffInitialSeconds <= 0 {
		errs = append(errs, "watchdog.backoff_initial_seconds must be > 0")
	}
	if c.Watchdog.BackoffMaxSeconds <= 0 {
		errs = append(errs, "watchdog.backoff_max_seconds must be > 0")
	} else if c.Watchdog.BackoffMaxSeconds < c.Watchdog.BackoffInitialSeconds {
		// Clamp rather than reject: a max below the start is interpreted as
		// "constant backoff at the initial delay".
		c.Watchdog.BackoffMaxSeconds = c.Watchdog.BackoffInitialSeconds
	}
	if c.Watchdog.GracePeriodSeconds <= 0 {
		errs = append(errs, "watchdog.grace_period_seconds must be > 0")
	}
	if c.Watchdog.RotationRetention < 1 {
		errs = append(errs, "watchdog.rotation_retention must be >= 1")
	}
	if c.Watchdog.LockFile == "" {
		errs = append(errs, "watchdog.lock_file is required")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errs = append(errs, "mqtt.host is required when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			errs = append(errs, "mqtt.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.URL == "" {
			errs = append(errs, "metrics.url is required when metrics is enabled")
		}
		if c.Metrics.Org == "" || c.Metrics.Bucket == "" {
			errs = append(errs, "metrics.org and metrics.bucket are required when metrics is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IdleThreshold returns the idle threshold as a Duration.
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Watchdog.IdleThresholdSeconds) * time.Second
}

// PollInterval returns the monitoring poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watchdog.PollIntervalSeconds) * time.Second
}

// BackoffInitial returns the initial restart delay as a Duration.
func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.Watchdog.BackoffInitialSeconds) * time.Second
}

// BackoffMax returns the maximum restart delay as a Duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Watchdog.BackoffMaxSeconds) * time.Second
}

// GracePeriod returns the graceful-kill grace period as a Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Watchdog.GracePeriodSeconds) * time.Second
}

// StdinDelay returns the delay before the stdin auto-answer script is sent.
func (c *Config) StdinDelay() time.Duration {
	return time.Duration(c.Watchdog.StdinDelaySeconds) * time.Second
}
