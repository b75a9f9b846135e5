// Package worktree discovers candidate worktree directories under the
// configured root, reports which ones already have a live agent session,
// and provisions new git worktrees for tickets that lack one. The
// directory listing is cached and invalidated by fsnotify events so
// listing stays cheap under frequent polling.
package worktree

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/logging"
)

// Info describes one worktree directory.
type Info struct {
	// Name is the directory name, which doubles as the ticket id for
	// session creation.
	Name string `json:"name"`
	// Path is the absolute worktree path.
	Path string `json:"path"`
	// Active reports whether a tmux session with this name exists.
	Active bool `json:"active"`
	// Dirty reports uncommitted changes in the worktree. Always false
	// when the scanner has no status checker.
	Dirty bool `json:"dirty"`
}

// Checker reports whether a session exists for a name. Satisfied by the
// tmux adapter.
type Checker interface {
	Exists(ctx context.Context, id string) bool
}

// StatusChecker reports uncommitted changes in a worktree. Satisfied by
// the Provisioner.
type StatusChecker interface {
	HasUncommittedChanges(path string) (bool, error)
}

// Scanner lists worktrees under a root directory.
type Scanner struct {
	root    string
	checker Checker
	status  StatusChecker
	log     *logging.Logger

	mu    sync.Mutex
	names []string
	dirty atomic.Bool
}

// NewScanner creates a Scanner rooted at dir. The first Discover call
// scans the directory; subsequent calls reuse the listing until Watch
// reports a change or Invalidate is called.
func NewScanner(root string, checker Checker, log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.NopLogger()
	}
	s := &Scanner{
		root:    root,
		checker: checker,
		log:     log.WithComponent("worktree"),
	}
	s.dirty.Store(true)
	return s
}

// SetStatusChecker attaches a git status source so Discover can report
// dirty worktrees. Nil leaves the Dirty flag always false.
func (s *Scanner) SetStatusChecker(status StatusChecker) {
	s.status = status
}

// Root returns the scanner's root directory.
func (s *Scanner) Root() string { return s.root }

// Path returns where the worktree for a ticket lives (or would live).
func (s *Scanner) Path(ticket string) string {
	return filepath.Join(s.root, ticket)
}

// Discover lists the worktree directories under the root, sorted by
// name, with each one's session liveness. A missing root is reported
// as not-found rather than a scan error.
func (s *Scanner) Discover(ctx context.Context) ([]Info, error) {
	names, err := s.listNames()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info := Info{
			Name:   name,
			Path:   filepath.Join(s.root, name),
			Active: s.checker.Exists(ctx, name),
		}
		if s.status != nil {
			// An unreadable worktree just reports clean.
			info.Dirty, _ = s.status.HasUncommittedChanges(info.Path)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// listNames returns the cached directory listing, rescanning when the
// cache has been invalidated.
func (s *Scanner) listNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty.Load() {
		return append([]string(nil), s.names...), nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("worktree root", s.root)
		}
		return nil, errors.Wrapf(err, "scanning worktree root %s", s.root)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	s.names = names
	s.dirty.Store(false)
	return append([]string(nil), names...), nil
}

// Invalidate forces the next Discover to rescan the root.
func (s *Scanner) Invalidate() {
	s.dirty.Store(true)
}

// Watch invalidates the listing cache whenever the root directory
// changes on disk. It blocks until ctx is cancelled. An unwatchable
// root leaves the cache permanently dirty, so every Discover rescans.
func (s *Scanner) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.dirty.Store(true)
		return errors.Wrap(err, "creating worktree watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(s.root); err != nil {
		s.dirty.Store(true)
		return errors.Wrapf(err, "watching worktree root %s", s.root)
	}
	s.log.Info("watching worktree root", "root", s.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.log.Debug("worktree root changed", "op", ev.Op.String(), "path", ev.Name)
				s.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("worktree watcher error", "error", err.Error())
		}
	}
}
