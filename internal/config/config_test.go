package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default server config
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8420 {
		t.Errorf("Server.Port = %d, want 8420", cfg.Server.Port)
	}
	if cfg.Server.StreamIntervalMs != 300 {
		t.Errorf("Server.StreamIntervalMs = %d, want 300", cfg.Server.StreamIntervalMs)
	}

	// Verify default tmux config
	if cfg.Tmux.Width != 200 {
		t.Errorf("Tmux.Width = %d, want 200", cfg.Tmux.Width)
	}
	if cfg.Tmux.Height != 50 {
		t.Errorf("Tmux.Height = %d, want 50", cfg.Tmux.Height)
	}
	if cfg.Tmux.SendSettleMs != 100 {
		t.Errorf("Tmux.SendSettleMs = %d, want 100", cfg.Tmux.SendSettleMs)
	}
	if cfg.Tmux.LaunchCommand != "claude" {
		t.Errorf("Tmux.LaunchCommand = %q, want %q", cfg.Tmux.LaunchCommand, "claude")
	}

	// Verify default monitor config
	if cfg.Monitor.PollIntervalMs != 1500 {
		t.Errorf("Monitor.PollIntervalMs = %d, want 1500", cfg.Monitor.PollIntervalMs)
	}
	if cfg.Monitor.MaxConsecutiveFailures != 5 {
		t.Errorf("Monitor.MaxConsecutiveFailures = %d, want 5", cfg.Monitor.MaxConsecutiveFailures)
	}
	if cfg.Monitor.OutputBufferLines != 200 {
		t.Errorf("Monitor.OutputBufferLines = %d, want 200", cfg.Monitor.OutputBufferLines)
	}

	// Verify default classifier config
	if !cfg.Classifier.OracleEnabled {
		t.Error("Classifier.OracleEnabled should be true by default")
	}
	if cfg.Classifier.TimeoutSeconds != 5 {
		t.Errorf("Classifier.TimeoutSeconds = %d, want 5", cfg.Classifier.TimeoutSeconds)
	}
	if cfg.Classifier.MaxConcurrent != 4 {
		t.Errorf("Classifier.MaxConcurrent = %d, want 4", cfg.Classifier.MaxConcurrent)
	}

	// Verify default workflow config
	if cfg.Workflow.AutoAdvanceFromStart {
		t.Error("Workflow.AutoAdvanceFromStart should be false by default")
	}
}

func TestDefaultPassesValidation(t *testing.T) {
	if errs := Default().Validate(); len(errs) > 0 {
		t.Errorf("Default() should validate cleanly, got: %v", ValidationErrors(errs))
	}
}

func TestMonitorConfig_PollInterval(t *testing.T) {
	tests := []struct {
		ms       int
		expected time.Duration
	}{
		{1500, 1500 * time.Millisecond},
		{500, 500 * time.Millisecond},
		{1000, 1 * time.Second},
		{0, 0},
	}

	for _, tt := range tests {
		cfg := MonitorConfig{PollIntervalMs: tt.ms}
		result := cfg.PollInterval()
		if result != tt.expected {
			t.Errorf("PollInterval() with %dms = %v, want %v", tt.ms, result, tt.expected)
		}
	}
}

func TestClassifierConfig_APIKey(t *testing.T) {
	t.Setenv("PARAPR_TEST_ORACLE_KEY", "sk-test-123")

	cfg := ClassifierConfig{APIKeyEnv: "PARAPR_TEST_ORACLE_KEY"}
	if got := cfg.APIKey(); got != "sk-test-123" {
		t.Errorf("APIKey() = %q, want %q", got, "sk-test-123")
	}

	cfg.APIKeyEnv = ""
	if got := cfg.APIKey(); got != "" {
		t.Errorf("APIKey() with empty env name = %q, want empty", got)
	}
}

func TestWorktreesConfig_ResolveRoot(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	cfg := WorktreesConfig{Root: "~/worktrees"}
	got := cfg.ResolveRoot()
	want := home + "/worktrees"
	if got != want {
		t.Errorf("ResolveRoot() = %q, want %q", got, want)
	}

	cfg.Root = "/srv/worktrees"
	if got := cfg.ResolveRoot(); got != "/srv/worktrees" {
		t.Errorf("ResolveRoot() with absolute path = %q, want unchanged", got)
	}
}

func TestLoad(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed with defaults: %v", err)
	}
	if cfg.Monitor.PollIntervalMs != 1500 {
		t.Errorf("Monitor.PollIntervalMs = %d, want 1500", cfg.Monitor.PollIntervalMs)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()
	viper.Set("classifier.timeout_seconds", 60)

	if _, err := Load(); err == nil {
		t.Error("Load should reject classifier.timeout_seconds outside 3-8")
	}
}
