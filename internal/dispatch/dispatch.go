// Package dispatch is the user-facing command surface for live sessions:
// sending text, interrupting, confirming paused gates, and switching
// modes. Every successful action marks the session as user-driven and
// nudges the detector so the next poll happens promptly.
package dispatch

import (
	"context"

	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/logging"
	"github.com/parapr/parapr/internal/session"
	"github.com/parapr/parapr/internal/workflow"
)

// Pane is the slice of the tmux adapter the dispatcher needs.
type Pane interface {
	SendText(ctx context.Context, id, text string) error
	Interrupt(ctx context.Context, id string) error
}

// Poker wakes the detector for a ticket ahead of its next poll tick.
type Poker interface {
	Poke(ticket string)
}

// nopPoker is used until a monitor is attached.
type nopPoker struct{}

func (nopPoker) Poke(string) {}

// Dispatcher executes user commands against registered sessions.
type Dispatcher struct {
	registry *session.Registry
	pane     Pane
	hub      *hub.Hub
	machine  *workflow.Machine
	poker    Poker
	log      *logging.Logger
}

// New creates a Dispatcher. The poker may be attached later via
// SetPoker; until then pokes are dropped.
func New(registry *session.Registry, pane Pane, h *hub.Hub, machine *workflow.Machine, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Dispatcher{
		registry: registry,
		pane:     pane,
		hub:      h,
		machine:  machine,
		poker:    nopPoker{},
		log:      log.WithComponent("dispatch"),
	}
}

// SetPoker attaches the detector wake-up hook.
func (d *Dispatcher) SetPoker(p Poker) {
	if p != nil {
		d.poker = p
	}
}

// Send delivers raw text to a session's agent. The session is marked
// user-driven, and outside the paused gate stages its needs-attention
// flag clears, since the human has now responded to whatever prompt was
// pending. A paused gate stays flagged until Confirm resumes it.
func (d *Dispatcher) Send(ctx context.Context, ticket, text string) error {
	if text == "" {
		return errors.Wrap(errors.ErrInvalidInput, "empty input")
	}
	s, err := d.registry.Get(ticket)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if err := d.pane.SendText(ctx, ticket, text); err != nil {
		return err
	}

	s.UserActed = true
	if !s.Stage.Paused() {
		s.NeedsAttention = false
		s.AttentionReason = ""
	}
	s.Touch()

	d.log.WithTicket(ticket).Debug("sent user input", "bytes", len(text))
	d.publishState(ticket, s)
	d.poker.Poke(ticket)
	return nil
}

// Interrupt sends an interrupt to the session's agent without touching
// workflow state beyond marking the user action.
func (d *Dispatcher) Interrupt(ctx context.Context, ticket string) error {
	s, err := d.registry.Get(ticket)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if err := d.pane.Interrupt(ctx, ticket); err != nil {
		return err
	}

	s.UserActed = true
	s.Touch()

	d.log.WithTicket(ticket).Info("interrupted agent")
	d.poker.Poke(ticket)
	return nil
}

// BatchSend delivers the same text to several sessions, continuing past
// per-session failures. The result maps every requested ticket to its
// outcome; a nil value means the send succeeded.
func (d *Dispatcher) BatchSend(ctx context.Context, tickets []string, text string) map[string]error {
	results := make(map[string]error, len(tickets))
	for _, ticket := range tickets {
		results[ticket] = d.Send(ctx, ticket, text)
	}
	return results
}

// Confirm resolves a paused workflow gate: specify, clarify_needed, or
// plan_review. The gate's stage command is dispatched to the agent and
// the session advances.
func (d *Dispatcher) Confirm(ctx context.Context, ticket string) error {
	s, err := d.registry.Get(ticket)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	action, err := d.machine.Confirm(s.Stage)
	if err != nil {
		return err
	}

	if action.Dispatch != "" {
		if err := d.pane.SendText(ctx, ticket, action.Dispatch); err != nil {
			return err
		}
	}

	workflow.Apply(s, action)
	s.UserActed = true

	d.log.WithTicket(ticket).WithStage(string(s.Stage)).Info("gate confirmed", "dispatched", action.Dispatch)
	d.publishState(ticket, s)
	d.poker.Poke(ticket)
	return nil
}

// SetMode switches a session between auto and planning.
func (d *Dispatcher) SetMode(ticket string, mode session.Mode) error {
	if mode != session.ModeAuto && mode != session.ModePlanning {
		return errors.Wrapf(errors.ErrInvalidInput, "unknown mode %q", mode)
	}
	s, err := d.registry.Get(ticket)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if s.Mode == mode {
		return nil
	}
	s.Mode = mode
	s.Touch()

	d.log.WithTicket(ticket).Info("mode changed", "mode", string(mode))
	d.publishState(ticket, s)
	if mode == session.ModeAuto {
		// Clear the fingerprint so the poked cycle re-handles the
		// current pane content; a prompt that was waiting for a human
		// can now be answered.
		s.LastFingerprint = ""
		d.poker.Poke(ticket)
	}
	return nil
}

// publishState emits a state event. Caller holds the session lock.
func (d *Dispatcher) publishState(ticket string, s *session.Session) {
	d.hub.Publish(ticket, hub.Event{
		Type:           hub.EventState,
		Stage:          s.Stage,
		Mode:           s.Mode,
		NeedsAttention: s.NeedsAttention,
		Reason:         s.AttentionReason,
	})
}
