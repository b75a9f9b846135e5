// Package orchestrator owns session lifecycle: launching an agent in a
// fresh tmux session seeded with its ticket command, adopting sessions
// that already exist, and tearing everything down again. It wires the
// registry, the tmux adapter, the worktree scanner, the hub, and the
// classifier cache together so the rest of the engine never has to
// coordinate them by hand.
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/parapr/parapr/internal/config"
	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/logging"
	"github.com/parapr/parapr/internal/session"
	"github.com/parapr/parapr/internal/workflow"
	"github.com/parapr/parapr/internal/worktree"
)

// Launcher is the slice of the tmux adapter the orchestrator needs.
type Launcher interface {
	Exists(ctx context.Context, id string) bool
	CreateSession(ctx context.Context, id, workDir string) error
	SendText(ctx context.Context, id, text string) error
	Kill(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]string, error)
}

// Forgetter drops cached classifier verdicts for a session.
// Satisfied by the classifier.
type Forgetter interface {
	ForgetSession(ticket string)
}

// Provisioner creates a git worktree for a ticket when none exists and
// removes one again when a launch has to roll back. Nil disables
// provisioning; missing worktrees then fail the launch.
type Provisioner interface {
	// Provision reports whether it created a new worktree.
	Provision(path, ticket string) (bool, error)
	Remove(path string, force bool) error
}

// Orchestrator manages session lifecycle.
type Orchestrator struct {
	registry    *session.Registry
	launcher    Launcher
	scanner     *worktree.Scanner
	provisioner Provisioner
	forgetter   Forgetter
	hub         *hub.Hub
	store       *session.Store
	cfg         config.TmuxConfig
	maxParallel int
	log         *logging.Logger
}

// New creates an Orchestrator. provisioner may be nil.
func New(
	registry *session.Registry,
	launcher Launcher,
	scanner *worktree.Scanner,
	provisioner Provisioner,
	forgetter Forgetter,
	h *hub.Hub,
	cfg config.TmuxConfig,
	maxParallel int,
	log *logging.Logger,
) *Orchestrator {
	if log == nil {
		log = logging.NopLogger()
	}
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Orchestrator{
		registry:    registry,
		launcher:    launcher,
		scanner:     scanner,
		provisioner: provisioner,
		forgetter:   forgetter,
		hub:         h,
		cfg:         cfg,
		maxParallel: maxParallel,
		log:         log.WithComponent("orchestrator"),
	}
}

// SetStore attaches a snapshot store. Stored snapshots let adoption
// after a restart resume each session's stage and mode instead of
// re-deriving everything from the pane.
func (o *Orchestrator) SetStore(store *session.Store) {
	o.store = store
}

// Create launches a new session for a ticket: a tmux session rooted in
// the ticket's worktree, running the agent, seeded with the ticket
// command. A failed launch leaves no session record behind.
func (o *Orchestrator) Create(ctx context.Context, ticket string) (session.Snapshot, error) {
	if ticket == "" {
		return session.Snapshot{}, errors.Wrap(errors.ErrInvalidInput, "empty ticket")
	}

	workDir := o.scanner.Path(ticket)
	var provisioned bool
	if o.provisioner != nil {
		created, err := o.provisioner.Provision(workDir, ticket)
		if err != nil {
			return session.Snapshot{}, err
		}
		provisioned = created
		o.scanner.Invalidate()
	}

	s, err := o.registry.Create(ticket, workDir)
	if err != nil {
		return session.Snapshot{}, err
	}

	log := o.log.WithTicket(ticket)
	if err := o.launch(ctx, ticket, workDir); err != nil {
		// Roll back so a retry starts clean. A worktree provisioned for
		// this attempt goes too; a pre-existing one is the user's.
		_ = o.launcher.Kill(ctx, ticket)
		_ = o.registry.Remove(ticket)
		if provisioned {
			_ = o.provisioner.Remove(workDir, true)
			o.scanner.Invalidate()
		}
		log.Error("launch failed", "error", err.Error())
		return session.Snapshot{}, errors.NewLaunchError(ticket, err)
	}

	log.Info("session created", "workdir", workDir)
	snap := s.Snapshot()
	o.persist(snap)
	o.hub.Publish(ticket, hub.Event{
		Type:  hub.EventState,
		Stage: snap.Stage,
		Mode:  snap.Mode,
	})
	return snap, nil
}

// launch creates the tmux session, starts the agent in it, and seeds
// the ticket command. The agent queues the seed until it is ready.
func (o *Orchestrator) launch(ctx context.Context, ticket, workDir string) error {
	if err := o.launcher.CreateSession(ctx, ticket, workDir); err != nil {
		return err
	}
	if err := o.launcher.SendText(ctx, ticket, o.cfg.LaunchCommand); err != nil {
		return err
	}
	return o.launcher.SendText(ctx, ticket, workflow.SeedCommand(ticket))
}

// Destroy kills a session's tmux session and removes every trace of it:
// registry record, cached verdicts, and stream subscriptions. The tmux
// session being already gone is not an error.
func (o *Orchestrator) Destroy(ctx context.Context, ticket string) error {
	if _, err := o.registry.Get(ticket); err != nil {
		return err
	}

	if err := o.launcher.Kill(ctx, ticket); err != nil && !errors.IsNotFound(err) {
		return err
	}
	if err := o.registry.Remove(ticket); err != nil {
		return err
	}
	o.forgetter.ForgetSession(ticket)
	if o.store != nil {
		_ = o.store.Delete(ticket)
	}

	o.hub.Publish(ticket, hub.Event{Type: hub.EventDestroyed})
	o.hub.CloseSession(ticket)
	o.scanner.Invalidate()

	o.log.WithTicket(ticket).Info("session destroyed")
	return nil
}

// StartAll launches a session for every discovered worktree that has
// neither a live tmux session nor a registry record, up to maxParallel
// at a time. The result maps each attempted ticket to its outcome.
func (o *Orchestrator) StartAll(ctx context.Context) (map[string]error, error) {
	infos, err := o.scanner.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var tickets []string
	for _, info := range infos {
		if info.Active {
			continue
		}
		if _, err := o.registry.Get(info.Name); err == nil {
			continue
		}
		tickets = append(tickets, info.Name)
	}

	var mu sync.Mutex
	results := make(map[string]error, len(tickets))

	p := pool.New().WithMaxGoroutines(o.maxParallel)
	for _, ticket := range tickets {
		ticket := ticket
		p.Go(func() {
			_, err := o.Create(ctx, ticket)
			mu.Lock()
			results[ticket] = err
			mu.Unlock()
		})
	}
	p.Wait()

	return results, nil
}

// KillAll destroys every registered session. The result maps each
// ticket to its outcome.
func (o *Orchestrator) KillAll(ctx context.Context) map[string]error {
	sessions := o.registry.List()
	results := make(map[string]error, len(sessions))
	for _, s := range sessions {
		results[s.Ticket] = o.Destroy(ctx, s.Ticket)
	}
	return results
}

// AdoptExisting registers tmux sessions that are already running but
// unknown to the registry, typically after an engine restart. Adopted
// sessions start in planning mode at the starting stage; the first
// detection cycle re-derives where they actually are. Returns the
// adopted tickets, sorted.
func (o *Orchestrator) AdoptExisting(ctx context.Context) ([]string, error) {
	names, err := o.launcher.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	var adopted []string
	for _, name := range names {
		if _, err := o.registry.Get(name); err == nil {
			continue
		}
		s, err := o.registry.Create(name, o.scanner.Path(name))
		if err != nil {
			continue
		}
		o.restore(s)
		adopted = append(adopted, name)
		o.log.WithTicket(name).Info("adopted running session")
	}
	o.pruneSnapshots()
	sort.Strings(adopted)
	return adopted, nil
}

// pruneSnapshots drops stored snapshots whose session no longer exists,
// typically tickets that died while the engine was down.
func (o *Orchestrator) pruneSnapshots() {
	if o.store == nil {
		return
	}
	snaps, err := o.store.List()
	if err != nil {
		o.log.Warn("snapshot listing failed", "error", err.Error())
		return
	}
	for _, snap := range snaps {
		if _, err := o.registry.Get(snap.Ticket); err != nil {
			_ = o.store.Delete(snap.Ticket)
			o.log.WithTicket(snap.Ticket).Debug("pruned stale snapshot")
		}
	}
}

// restore applies a stored snapshot to a freshly adopted session, if
// one exists.
func (o *Orchestrator) restore(s *session.Session) {
	if o.store == nil {
		return
	}
	snap, err := o.store.Load(s.Ticket)
	if err != nil {
		return
	}

	s.Lock()
	s.Stage = snap.Stage
	s.Mode = snap.Mode
	s.NeedsAttention = snap.NeedsAttention
	s.AttentionReason = snap.AttentionReason
	s.Title = snap.Title
	s.Description = snap.Description
	s.LinearDone = snap.LinearDone
	s.SpecifyDone = snap.SpecifyDone
	s.ClarifyDone = snap.ClarifyDone
	s.PlanDone = snap.PlanDone
	s.TasksDone = snap.TasksDone
	s.ImplementDone = snap.ImplementDone
	s.Unlock()
}

// SaveAll persists a snapshot of every registered session, typically at
// shutdown so the next engine run can adopt with full context.
func (o *Orchestrator) SaveAll() {
	if o.store == nil {
		return
	}
	for _, s := range o.registry.List() {
		o.persist(s.Snapshot())
	}
}

// persist writes one snapshot, logging rather than failing on error.
func (o *Orchestrator) persist(snap session.Snapshot) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(snap); err != nil {
		o.log.WithTicket(snap.Ticket).Warn("snapshot save failed", "error", err.Error())
	}
}

// SetTicketInfo attaches ticket metadata to a session.
func (o *Orchestrator) SetTicketInfo(ticket, title, description string) error {
	s, err := o.registry.Get(ticket)
	if err != nil {
		return err
	}

	s.Lock()
	s.Title = title
	s.Description = description
	s.Touch()
	s.Unlock()
	o.persist(s.Snapshot())

	o.log.WithTicket(ticket).Debug("ticket info updated")
	return nil
}
