package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxTimingJitter caps the jitter ratio; larger values make waits too short
// to let the page settle.
const MaxTimingJitter = 0.7

// Config holds all xhspilot configuration.
type Config struct {
	// Chrome DevTools endpoint and launch options
	CDP CDPConfig `yaml:"cdp"`

	// Pacing between automation actions
	Timing TimingConfig `yaml:"timing"`

	// Primitive retry policy
	Retry RetryConfig `yaml:"retry"`

	// Network capture bounds
	Capture CaptureConfig `yaml:"capture"`

	// Login detection and manual login escalation
	Login LoginConfig `yaml:"login"`

	// Workflow-level settings
	Workflow WorkflowConfig `yaml:"workflow"`

	// Filesystem locations
	Paths PathsConfig `yaml:"paths"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CDPConfig configures how the browser is reached.
type CDPConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	ChromeBin        string   `yaml:"chrome_bin"`  // empty = launcher lookup
	ExtraFlags       []string `yaml:"extra_flags"` // e.g. --no-sandbox
	ReuseExistingTab bool     `yaml:"reuse_existing_tab"`
	Headless         bool     `yaml:"headless"` // windowed runs never escalate
	ConnectTimeout   string   `yaml:"connect_timeout"`
}

// TimingConfig holds base delays; every wait is jittered by Jitter.
type TimingConfig struct {
	Jitter         float64 `yaml:"jitter"`
	PageLoadWait   string  `yaml:"page_load_wait"`
	ActionInterval string  `yaml:"action_interval"`
	TabClickWait   string  `yaml:"tab_click_wait"`
	UploadWait     string  `yaml:"upload_wait"`
	TagSettle      string  `yaml:"tag_settle"` // autocomplete settle per tag
	VideoTimeout   string  `yaml:"video_timeout"`
	VideoPoll      string  `yaml:"video_poll"`
	PublishSettle  string  `yaml:"publish_settle"`
}

// RetryConfig bounds primitive retries.
type RetryConfig struct {
	Attempts  int    `yaml:"attempts"`
	BaseDelay string `yaml:"base_delay"`
	MaxDelay  string `yaml:"max_delay"`
}

// CaptureConfig bounds response capture.
type CaptureConfig struct {
	Timeout string `yaml:"timeout"`
	// Settle is the quiet period after a multi-request trigger, such as
	// applying search filters, before the last response is taken.
	Settle string `yaml:"settle"`
}

// LoginConfig configures login probing.
type LoginConfig struct {
	HomePromptKeyword string `yaml:"home_prompt_keyword"`
	HomeWait          string `yaml:"home_wait"`
	ManualWait        string `yaml:"manual_wait"` // 0 = open login page and return
	Poll              string `yaml:"poll"`

	// Escalate lets a headless run that finds itself logged out restart
	// windowed and wait for a QR login.
	Escalate bool `yaml:"escalate"`
}

// WorkflowConfig configures orchestrators.
type WorkflowConfig struct {
	Deadline string `yaml:"deadline"`
}

// PathsConfig configures on-disk state.
type PathsConfig struct {
	DataDir       string `yaml:"data_dir"`
	SelectorsFile string `yaml:"selectors_file"` // optional override catalog
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CDP: CDPConfig{
			Host:           "127.0.0.1",
			Port:           9222,
			Headless:       true,
			ConnectTimeout: "5s",
		},
		Timing: TimingConfig{
			Jitter:         0.25,
			PageLoadWait:   "3s",
			ActionInterval: "1s",
			TabClickWait:   "2s",
			UploadWait:     "6s",
			TagSettle:      "3s",
			VideoTimeout:   "120s",
			VideoPoll:      "3s",
			PublishSettle:  "5s",
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: "500ms",
			MaxDelay:  "4s",
		},
		Capture: CaptureConfig{
			Timeout: "18s",
			Settle:  "1500ms",
		},
		Login: LoginConfig{
			HomePromptKeyword: "登录后推荐更懂你的笔记",
			HomeWait:          "8s",
			ManualWait:        "3m",
			Poll:              "3s",
			Escalate:          true,
		},
		Workflow: WorkflowConfig{
			Deadline: "10m",
		},
		Paths: PathsConfig{
			DataDir: DefaultDataDir(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDataDir returns ~/.xhspilot, or .xhspilot when the home directory
// cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".xhspilot"
	}
	return filepath.Join(home, ".xhspilot")
}

// DefaultConfigPath returns the config file location inside the data dir.
func DefaultConfigPath() string {
	if dir := os.Getenv("XHSPILOT_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()
	cfg.Timing.Jitter = ClampJitter(cfg.Timing.Jitter)

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("XHSPILOT_CDP_HOST"); host != "" {
		c.CDP.Host = host
	}
	if raw := os.Getenv("XHSPILOT_CDP_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			c.CDP.Port = port
		}
	}
	if bin := os.Getenv("XHSPILOT_CHROME_BIN"); bin != "" {
		c.CDP.ChromeBin = bin
	}
	if dir := os.Getenv("XHSPILOT_DATA_DIR"); dir != "" {
		c.Paths.DataDir = dir
	}
	if raw := os.Getenv("XHSPILOT_TIMING_JITTER"); raw != "" {
		if j, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Timing.Jitter = j
		}
	}
}

// ClampJitter clamps a jitter ratio into [0, MaxTimingJitter].
func ClampJitter(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxTimingJitter {
		return MaxTimingJitter
	}
	return v
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// ConnectTimeout returns the CDP connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDuration(c.CDP.ConnectTimeout, 5*time.Second)
}

// CaptureTimeout returns the max wait for a captured response.
func (c *Config) CaptureTimeout() time.Duration {
	return parseDuration(c.Capture.Timeout, 18*time.Second)
}

// CaptureSettle returns the quiet period closing a multi-request capture.
func (c *Config) CaptureSettle() time.Duration {
	return parseDuration(c.Capture.Settle, 1500*time.Millisecond)
}

// WorkflowDeadline returns the overall deadline for one workflow run.
func (c *Config) WorkflowDeadline() time.Duration {
	return parseDuration(c.Workflow.Deadline, 10*time.Minute)
}

// RetryBaseDelay returns the first backoff delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return parseDuration(c.Retry.BaseDelay, 500*time.Millisecond)
}

// RetryMaxDelay returns the backoff ceiling.
func (c *Config) RetryMaxDelay() time.Duration {
	return parseDuration(c.Retry.MaxDelay, 4*time.Second)
}

// HomeLoginWait returns how long the home login prompt is polled for.
func (c *Config) HomeLoginWait() time.Duration {
	return parseDuration(c.Login.HomeWait, 8*time.Second)
}

// ManualLoginWait returns how long an escalated windowed login is awaited.
func (c *Config) ManualLoginWait() time.Duration {
	return parseDuration(c.Login.ManualWait, 3*time.Minute)
}

// LoginPoll returns the manual-login poll interval.
func (c *Config) LoginPoll() time.Duration {
	return parseDuration(c.Login.Poll, 3*time.Second)
}

// Durations resolves every timing knob.
func (t TimingConfig) Durations() Timings {
	return Timings{
		PageLoad:       parseDuration(t.PageLoadWait, 3*time.Second),
		ActionInterval: parseDuration(t.ActionInterval, time.Second),
		TabClick:       parseDuration(t.TabClickWait, 2*time.Second),
		Upload:         parseDuration(t.UploadWait, 6*time.Second),
		TagSettle:      parseDuration(t.TagSettle, 3*time.Second),
		VideoTimeout:   parseDuration(t.VideoTimeout, 120*time.Second),
		VideoPoll:      parseDuration(t.VideoPoll, 3*time.Second),
		PublishSettle:  parseDuration(t.PublishSettle, 5*time.Second),
	}
}

// Timings is the parsed form of TimingConfig.
type Timings struct {
	PageLoad       time.Duration
	ActionInterval time.Duration
	TabClick       time.Duration
	Upload         time.Duration
	TagSettle      time.Duration
	VideoTimeout   time.Duration
	VideoPoll      time.Duration
	PublishSettle  time.Duration
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CDP.Host == "" {
		return fmt.Errorf("cdp.host must not be empty")
	}
	if c.CDP.Port <= 0 || c.CDP.Port > 65535 {
		return fmt.Errorf("cdp.port out of range: %d", c.CDP.Port)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1, got %d", c.Retry.Attempts)
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must not be empty")
	}
	return c.Logging.validate()
}

// AccountsFile is where the profile store persists accounts.
func (c *Config) AccountsFile() string {
	return filepath.Join(c.Paths.DataDir, "accounts.yaml")
}

// ProfilesDir is the parent of every per-account browser profile.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.Paths.DataDir, "profiles")
}

// RunDir holds pid records and port lock files.
func (c *Config) RunDir() string {
	return filepath.Join(c.Paths.DataDir, "run")
}

// JournalPath is the publish journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.DataDir, "journal.db")
}

// LogsDir is where category logs are written.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Paths.DataDir, "logs")
}
