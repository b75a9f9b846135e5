package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "monitor.poll_interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateTmux()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateClassifier()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		})
	}

	const minStreamInterval = 50
	const maxStreamInterval = 5000
	if c.Server.StreamIntervalMs < minStreamInterval || c.Server.StreamIntervalMs > maxStreamInterval {
		errors = append(errors, ValidationError{
			Field:   "server.stream_interval_ms",
			Value:   c.Server.StreamIntervalMs,
			Message: fmt.Sprintf("must be between %dms and %dms", minStreamInterval, maxStreamInterval),
		})
	}

	if c.Server.ShutdownTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Value:   c.Server.ShutdownTimeoutSeconds,
			Message: "must be at least 1 second",
		})
	}

	return errors
}

// validateTmux validates the TmuxConfig
func (c *Config) validateTmux() []ValidationError {
	var errors []ValidationError

	if c.Tmux.Width < 20 {
		errors = append(errors, ValidationError{
			Field:   "tmux.width",
			Value:   c.Tmux.Width,
			Message: "must be at least 20 columns",
		})
	}
	if c.Tmux.Height < 5 {
		errors = append(errors, ValidationError{
			Field:   "tmux.height",
			Value:   c.Tmux.Height,
			Message: "must be at least 5 rows",
		})
	}
	if c.Tmux.HistoryLimit < 100 {
		errors = append(errors, ValidationError{
			Field:   "tmux.history_limit",
			Value:   c.Tmux.HistoryLimit,
			Message: "must be at least 100 lines",
		})
	}
	if c.Tmux.SendSettleMs < 0 || c.Tmux.SendSettleMs > 2000 {
		errors = append(errors, ValidationError{
			Field:   "tmux.send_settle_ms",
			Value:   c.Tmux.SendSettleMs,
			Message: "must be between 0ms and 2000ms",
		})
	}
	if c.Tmux.CaptureLines < 10 {
		errors = append(errors, ValidationError{
			Field:   "tmux.capture_lines",
			Value:   c.Tmux.CaptureLines,
			Message: "must be at least 10 lines",
		})
	}
	if strings.TrimSpace(c.Tmux.LaunchCommand) == "" {
		errors = append(errors, ValidationError{
			Field:   "tmux.launch_command",
			Value:   c.Tmux.LaunchCommand,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateMonitor validates the MonitorConfig
func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError

	const minPollInterval = 500
	const maxPollInterval = 5000
	if c.Monitor.PollIntervalMs < minPollInterval || c.Monitor.PollIntervalMs > maxPollInterval {
		errors = append(errors, ValidationError{
			Field:   "monitor.poll_interval_ms",
			Value:   c.Monitor.PollIntervalMs,
			Message: fmt.Sprintf("must be between %dms and %dms", minPollInterval, maxPollInterval),
		})
	}

	if c.Monitor.MaxConsecutiveFailures < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.max_consecutive_failures",
			Value:   c.Monitor.MaxConsecutiveFailures,
			Message: "must be at least 1",
		})
	}

	if c.Monitor.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.max_concurrent",
			Value:   c.Monitor.MaxConcurrent,
			Message: "must be at least 1",
		})
	}

	const minBufferLines = 50
	const maxBufferLines = 10000
	if c.Monitor.OutputBufferLines < minBufferLines || c.Monitor.OutputBufferLines > maxBufferLines {
		errors = append(errors, ValidationError{
			Field:   "monitor.output_buffer_lines",
			Value:   c.Monitor.OutputBufferLines,
			Message: fmt.Sprintf("must be between %d and %d lines", minBufferLines, maxBufferLines),
		})
	}

	return errors
}

// validateClassifier validates the ClassifierConfig
func (c *Config) validateClassifier() []ValidationError {
	var errors []ValidationError

	// Oracle timeouts outside 3-8s either miss slow prompts or hold the
	// detector cycle up for too long.
	const minTimeout = 3
	const maxTimeout = 8
	if c.Classifier.TimeoutSeconds < minTimeout || c.Classifier.TimeoutSeconds > maxTimeout {
		errors = append(errors, ValidationError{
			Field:   "classifier.timeout_seconds",
			Value:   c.Classifier.TimeoutSeconds,
			Message: fmt.Sprintf("must be between %d and %d seconds", minTimeout, maxTimeout),
		})
	}

	if c.Classifier.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "classifier.max_concurrent",
			Value:   c.Classifier.MaxConcurrent,
			Message: "must be at least 1",
		})
	}

	if c.Classifier.OracleEnabled && c.Classifier.Endpoint != "" &&
		!strings.HasPrefix(c.Classifier.Endpoint, "http://") &&
		!strings.HasPrefix(c.Classifier.Endpoint, "https://") {
		errors = append(errors, ValidationError{
			Field:   "classifier.endpoint",
			Value:   c.Classifier.Endpoint,
			Message: "must be an http(s) URL",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
