// Package tmux drives the terminal sessions that host agent processes.
//
// Every session lives in a detached tmux session on a dedicated socket so
// the engine's sessions never collide with the user's own tmux server. All
// interaction goes through small, explicit operations (create, send,
// capture, interrupt, kill) so the rest of the engine never builds tmux
// command lines itself.
package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/parapr/parapr/internal/config"
	"github.com/parapr/parapr/internal/errors"
)

// SocketName is the tmux socket used for all engine sessions.
const SocketName = "parapr"

// Runner executes tmux commands. It exists so tests can record the exact
// argument sequences without a tmux server.
type Runner interface {
	// Run executes tmux with the given arguments, discarding output.
	Run(ctx context.Context, args ...string) error
	// Output executes tmux with the given arguments and returns stdout.
	Output(ctx context.Context, args ...string) (string, error)
}

// execRunner runs tmux via os/exec on a fixed socket.
type execRunner struct {
	socket string
}

func (r *execRunner) command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", r.socket}, args...)
	cmd := exec.CommandContext(ctx, "tmux", fullArgs...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	return cmd
}

func (r *execRunner) Run(ctx context.Context, args ...string) error {
	if out, err := r.command(ctx, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *execRunner) Output(ctx context.Context, args ...string) (string, error) {
	out, err := r.command(ctx, args...).Output()
	if err != nil {
		// Keep tmux's stderr in the error text; mapError classifies a
		// vanished session from it.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

// Adapter exposes the tmux operations the engine needs.
type Adapter struct {
	runner Runner
	cfg    config.TmuxConfig

	// sleep is swapped out in tests so the send settle pause is instant.
	sleep func(time.Duration)
}

// NewAdapter creates an Adapter that talks to a real tmux server on the
// engine socket.
func NewAdapter(cfg config.TmuxConfig) *Adapter {
	return NewAdapterWithRunner(cfg, &execRunner{socket: SocketName})
}

// NewAdapterWithRunner creates an Adapter with a custom Runner.
func NewAdapterWithRunner(cfg config.TmuxConfig, runner Runner) *Adapter {
	return &Adapter{
		runner: runner,
		cfg:    cfg,
		sleep:  time.Sleep,
	}
}

// Exists reports whether a tmux session with the given ID is alive.
func (a *Adapter) Exists(ctx context.Context, id string) bool {
	return a.runner.Run(ctx, "has-session", "-t", id) == nil
}

// CreateSession creates a detached tmux session rooted in workDir.
// The session gets the configured dimensions and scrollback history; the
// caller is responsible for launching the agent command inside it.
func (a *Adapter) CreateSession(ctx context.Context, id, workDir string) error {
	err := a.runner.Run(ctx,
		"new-session",
		"-d",
		"-s", id,
		"-c", workDir,
		"-x", fmt.Sprintf("%d", a.cfg.Width),
		"-y", fmt.Sprintf("%d", a.cfg.Height),
	)
	if err != nil {
		return fmt.Errorf("failed to create tmux session %s: %w", id, err)
	}

	// A failed set-option leaves a usable session; don't abort over it.
	_ = a.runner.Run(ctx, "set-option", "-t", id, "history-limit", fmt.Sprintf("%d", a.cfg.HistoryLimit))

	return nil
}

// SendText types text into a session and submits it with Enter.
//
// The input line is cleared first (C-u), then after a short settle pause the
// text is sent literally (-l) so tmux never interprets it as key names, then
// Enter submits it. Interactive agents drop keystrokes that arrive in the
// same instant as a line clear, hence the pause.
func (a *Adapter) SendText(ctx context.Context, id, text string) error {
	if err := a.runner.Run(ctx, "send-keys", "-t", id, "C-u"); err != nil {
		return a.mapError(id, err)
	}

	a.sleep(a.cfg.SendSettle())

	if err := a.runner.Run(ctx, "send-keys", "-t", id, "-l", text); err != nil {
		return a.mapError(id, err)
	}
	if err := a.runner.Run(ctx, "send-keys", "-t", id, "Enter"); err != nil {
		return a.mapError(id, err)
	}
	return nil
}

// Capture reads the trailing pane content of a session, including
// scrollback up to the configured capture depth.
func (a *Adapter) Capture(ctx context.Context, id string) (string, error) {
	out, err := a.runner.Output(ctx,
		"capture-pane",
		"-t", id,
		"-p",
		"-S", fmt.Sprintf("-%d", a.cfg.CaptureLines),
	)
	if err != nil {
		return "", a.mapError(id, err)
	}
	return out, nil
}

// Interrupt sends Ctrl+C to a session.
func (a *Adapter) Interrupt(ctx context.Context, id string) error {
	if err := a.runner.Run(ctx, "send-keys", "-t", id, "C-c"); err != nil {
		return a.mapError(id, err)
	}
	return nil
}

// Kill destroys a session. Killing a session that is already gone is not
// an error.
func (a *Adapter) Kill(ctx context.Context, id string) error {
	if err := a.runner.Run(ctx, "kill-session", "-t", id); err != nil {
		if isSessionNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to kill tmux session %s: %w", id, err)
	}
	return nil
}

// ListSessions returns the names of all sessions on the engine socket.
// A missing tmux server simply means no sessions.
func (a *Adapter) ListSessions(ctx context.Context) ([]string, error) {
	out, err := a.runner.Output(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isSessionNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list tmux sessions: %w", err)
	}

	var sessions []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			sessions = append(sessions, name)
		}
	}
	return sessions, nil
}

// mapError classifies a tmux failure: a vanished session becomes
// ErrTargetNotFound, anything else is a transient adapter error.
func (a *Adapter) mapError(id string, err error) error {
	if isSessionNotFoundError(err) {
		return fmt.Errorf("tmux session %s: %w", id, errors.ErrTargetNotFound)
	}
	return fmt.Errorf("tmux session %s: %w: %v", id, errors.ErrAdapterTransient, err)
}

// isSessionNotFoundError checks if the error indicates a tmux session or
// server was not found.
func isSessionNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "session not found") ||
		strings.Contains(errStr, "no server running") ||
		strings.Contains(errStr, "can't find session")
}
