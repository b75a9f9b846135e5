package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete ParaPR engine configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Tmux       TmuxConfig       `mapstructure:"tmux"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Worktrees  WorktreesConfig  `mapstructure:"worktrees"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP and streaming surface
type ServerConfig struct {
	// Host is the address the server binds to (default: "127.0.0.1")
	Host string `mapstructure:"host"`
	// Port is the TCP port the server listens on (default: 8420)
	Port int `mapstructure:"port"`
	// StreamIntervalMs is how often connected stream subscribers receive
	// a state snapshot when nothing else has changed (default: 300)
	StreamIntervalMs int `mapstructure:"stream_interval_ms"`
	// ShutdownTimeoutSeconds bounds graceful shutdown (default: 10)
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// TmuxConfig controls how terminal sessions are created and driven
type TmuxConfig struct {
	// Width is the width of new tmux panes (default: 200)
	Width int `mapstructure:"width"`
	// Height is the height of new tmux panes (default: 50)
	Height int `mapstructure:"height"`
	// HistoryLimit is the scrollback line count for new sessions (default: 50000)
	HistoryLimit int `mapstructure:"history_limit"`
	// SendSettleMs is the pause between clearing the input line and sending
	// text, giving the pane time to process the clear (default: 100)
	SendSettleMs int `mapstructure:"send_settle_ms"`
	// CaptureLines is how many trailing pane lines each capture reads (default: 100)
	CaptureLines int `mapstructure:"capture_lines"`
	// LaunchCommand is the agent command started in each new session (default: "claude")
	LaunchCommand string `mapstructure:"launch_command"`
}

// MonitorConfig controls the output-change detection loop
type MonitorConfig struct {
	// PollIntervalMs is the detector cycle period per session (default: 1500)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// MaxConsecutiveFailures is how many capture failures in a row move a
	// session to the error state (default: 5)
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	// MaxConcurrent bounds how many sessions are polled at once (default: 8)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// OutputBufferLines is the per-session output ring buffer size (default: 200)
	OutputBufferLines int `mapstructure:"output_buffer_lines"`
}

// ClassifierConfig controls the safety classifier and its oracle gateway
type ClassifierConfig struct {
	// OracleEnabled enables the external LLM oracle; when false only the
	// pattern tables run and ambiguous prompts degrade to needs-attention
	OracleEnabled bool `mapstructure:"oracle_enabled"`
	// Endpoint is the OpenAI-compatible chat completions URL
	Endpoint string `mapstructure:"endpoint"`
	// APIKeyEnv names the environment variable holding the API key (default: "PARAPR_ORACLE_API_KEY")
	APIKeyEnv string `mapstructure:"api_key_env"`
	// Model is the model name sent to the oracle (default: "gpt-4o-mini")
	Model string `mapstructure:"model"`
	// TimeoutSeconds bounds each oracle call; valid range 3-8 (default: 5)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxConcurrent is the fleet-wide cap on in-flight oracle calls (default: 4)
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// WorkflowConfig controls stage progression
type WorkflowConfig struct {
	// AutoAdvanceFromStart advances starting sessions into specification
	// without a human confirm once the ticket summary has rendered.
	// The specification review gate itself is always manual (default: false)
	AutoAdvanceFromStart bool `mapstructure:"auto_advance_from_start"`
}

// WorktreesConfig controls worktree discovery
type WorktreesConfig struct {
	// Root is the directory scanned for per-ticket worktrees.
	// Supports ~ for home directory expansion (default: "~/worktrees")
	Root string `mapstructure:"root"`
	// Watch enables filesystem watching so new worktrees appear without
	// rescanning on every request (default: true)
	Watch bool `mapstructure:"watch"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where log files are written; empty means the config directory
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   8420,
			StreamIntervalMs:       300,
			ShutdownTimeoutSeconds: 10,
		},
		Tmux: TmuxConfig{
			Width:         200,
			Height:        50,
			HistoryLimit:  50000,
			SendSettleMs:  100,
			CaptureLines:  100,
			LaunchCommand: "claude",
		},
		Monitor: MonitorConfig{
			PollIntervalMs:         1500,
			MaxConsecutiveFailures: 5,
			MaxConcurrent:          8,
			OutputBufferLines:      200,
		},
		Classifier: ClassifierConfig{
			OracleEnabled:  true,
			Endpoint:       "",
			APIKeyEnv:      "PARAPR_ORACLE_API_KEY",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 5,
			MaxConcurrent:  4,
		},
		Workflow: WorkflowConfig{
			AutoAdvanceFromStart: false,
		},
		Worktrees: WorktreesConfig{
			Root:  "~/worktrees",
			Watch: true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// PollInterval returns the monitor poll interval as a time.Duration
func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SendSettle returns the tmux send settle pause as a time.Duration
func (c *TmuxConfig) SendSettle() time.Duration {
	return time.Duration(c.SendSettleMs) * time.Millisecond
}

// StreamInterval returns the stream snapshot period as a time.Duration
func (c *ServerConfig) StreamInterval() time.Duration {
	return time.Duration(c.StreamIntervalMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown bound as a time.Duration
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Timeout returns the oracle call timeout as a time.Duration
func (c *ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIKey resolves the oracle API key from the configured environment variable
func (c *ClassifierConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// ResolveRoot returns the worktree root with ~ expanded.
func (c *WorktreesConfig) ResolveRoot() string {
	path := c.Root
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.stream_interval_ms", defaults.Server.StreamIntervalMs)
	viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Tmux defaults
	viper.SetDefault("tmux.width", defaults.Tmux.Width)
	viper.SetDefault("tmux.height", defaults.Tmux.Height)
	viper.SetDefault("tmux.history_limit", defaults.Tmux.HistoryLimit)
	viper.SetDefault("tmux.send_settle_ms", defaults.Tmux.SendSettleMs)
	viper.SetDefault("tmux.capture_lines", defaults.Tmux.CaptureLines)
	viper.SetDefault("tmux.launch_command", defaults.Tmux.LaunchCommand)

	// Monitor defaults
	viper.SetDefault("monitor.poll_interval_ms", defaults.Monitor.PollIntervalMs)
	viper.SetDefault("monitor.max_consecutive_failures", defaults.Monitor.MaxConsecutiveFailures)
	viper.SetDefault("monitor.max_concurrent", defaults.Monitor.MaxConcurrent)
	viper.SetDefault("monitor.output_buffer_lines", defaults.Monitor.OutputBufferLines)

	// Classifier defaults
	viper.SetDefault("classifier.oracle_enabled", defaults.Classifier.OracleEnabled)
	viper.SetDefault("classifier.endpoint", defaults.Classifier.Endpoint)
	viper.SetDefault("classifier.api_key_env", defaults.Classifier.APIKeyEnv)
	viper.SetDefault("classifier.model", defaults.Classifier.Model)
	viper.SetDefault("classifier.timeout_seconds", defaults.Classifier.TimeoutSeconds)
	viper.SetDefault("classifier.max_concurrent", defaults.Classifier.MaxConcurrent)

	// Workflow defaults
	viper.SetDefault("workflow.auto_advance_from_start", defaults.Workflow.AutoAdvanceFromStart)

	// Worktrees defaults
	viper.SetDefault("worktrees.root", defaults.Worktrees.Root)
	viper.SetDefault("worktrees.watch", defaults.Worktrees.Watch)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "parapr")
	}
	// Fall back to ~/.config/parapr
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parapr"
	}
	return filepath.Join(home, ".config", "parapr")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
