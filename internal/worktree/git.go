package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/parapr/parapr/internal/errors"
)

// CommandExecutor runs external commands. Tests substitute a fake.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)
}

// cliExecutor shells out for real.
type cliExecutor struct{}

func (cliExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Provisioner creates and removes git worktrees for tickets.
type Provisioner struct {
	repoDir  string
	executor CommandExecutor
}

// FindGitRoot walks up from startDir to the enclosing git repository.
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.Wrap(err, "resolving start directory")
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewNotFoundError("git repository", startDir)
		}
		dir = parent
	}
}

// NewProvisioner creates a Provisioner for the repository at repoDir.
func NewProvisioner(repoDir string) *Provisioner {
	return NewProvisionerWithExecutor(repoDir, cliExecutor{})
}

// NewProvisionerWithExecutor creates a Provisioner with a custom
// executor.
func NewProvisionerWithExecutor(repoDir string, executor CommandExecutor) *Provisioner {
	return &Provisioner{repoDir: repoDir, executor: executor}
}

// Provision creates a worktree at path on a new branch named after the
// ticket. An existing directory at path is left alone; the boolean
// reports whether a new worktree was created.
func (p *Provisioner) Provision(path, ticket string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	out, err := p.executor.Run(p.repoDir, "git", "worktree", "add", "-b", ticket, path)
	if err != nil {
		return false, errors.NewLaunchError(ticket, errors.Wrapf(err, "git worktree add: %s", strings.TrimSpace(string(out))))
	}
	return true, nil
}

// HasUncommittedChanges reports whether the worktree at path has
// staged or unstaged changes.
func (p *Provisioner) HasUncommittedChanges(path string) (bool, error) {
	out, err := p.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.Wrapf(err, "checking status of %s", path)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// Remove detaches the worktree at path from the repository. Uncommitted
// work makes git refuse; pass force to discard it.
func (p *Provisioner) Remove(path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	out, err := p.executor.Run(p.repoDir, "git", args...)
	if err != nil {
		return errors.Wrapf(err, "removing worktree %s: %s", path, strings.TrimSpace(string(out)))
	}
	return nil
}
