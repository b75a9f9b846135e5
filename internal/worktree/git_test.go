package worktree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parapr/parapr/internal/errors"
)

type fakeExecutor struct {
	calls  []string // "dir|name args..."
	output []byte
	err    error
}

func (f *fakeExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, dir+"|"+name+" "+strings.Join(args, " "))
	return f.output, f.err
}

func TestProvisionCreatesWorktreeOnTicketBranch(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewProvisionerWithExecutor("/repo", exec)

	path := filepath.Join(t.TempDir(), "eng-1423")
	created, err := p.Provision(path, "eng-1423")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if !created {
		t.Error("Provision reported no new worktree")
	}

	want := "/repo|git worktree add -b eng-1423 " + path
	if len(exec.calls) != 1 || exec.calls[0] != want {
		t.Errorf("calls = %v, want %q", exec.calls, want)
	}
}

func TestProvisionSkipsExistingDirectory(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewProvisionerWithExecutor("/repo", exec)

	path := t.TempDir()
	created, err := p.Provision(path, "eng-1423")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if created {
		t.Error("existing directory reported as created")
	}
	if len(exec.calls) != 0 {
		t.Errorf("existing directory triggered %v", exec.calls)
	}
}

func TestProvisionFailureIsLaunchError(t *testing.T) {
	exec := &fakeExecutor{output: []byte("fatal: branch exists"), err: os.ErrPermission}
	p := NewProvisionerWithExecutor("/repo", exec)

	_, err := p.Provision(filepath.Join(t.TempDir(), "eng-1423"), "eng-1423")
	if !errors.Is(err, errors.ErrLaunchFailed) {
		t.Errorf("err = %v, want launch failure", err)
	}
	if !strings.Contains(err.Error(), "branch exists") {
		t.Errorf("err = %v, want git output included", err)
	}
}

func TestHasUncommittedChanges(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"clean", "\n", false},
		{"dirty", " M internal/server/server.go\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{output: []byte(tt.output)}
			p := NewProvisionerWithExecutor("/repo", exec)

			got, err := p.HasUncommittedChanges("/repo/wt/eng-1423")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("HasUncommittedChanges = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoveForce(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewProvisionerWithExecutor("/repo", exec)

	if err := p.Remove("/repo/wt/eng-1423", true); err != nil {
		t.Fatal(err)
	}
	want := "/repo|git worktree remove /repo/wt/eng-1423 --force"
	if len(exec.calls) != 1 || exec.calls[0] != want {
		t.Errorf("calls = %v, want %q", exec.calls, want)
	}
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindGitRoot(nested)
	if err != nil {
		t.Fatalf("FindGitRoot: %v", err)
	}
	// TempDir may be behind a symlink; compare resolved paths.
	wantResolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != wantResolved {
		t.Errorf("root = %s, want %s", got, root)
	}

	if _, err := FindGitRoot(t.TempDir()); !errors.IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}
