// Package workflow advances sessions through the fixed ticket pipeline:
// starting -> specify -> planning (-> clarify_needed) -> plan_review ->
// tasking -> implementing -> done, with error reachable from every
// non-terminal stage. The machine is pure decision logic; callers apply
// the returned action to the session under its lock and dispatch the
// commands it names.
package workflow

import (
	"fmt"

	"github.com/parapr/parapr/internal/detect"
	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/session"
)

// Stage commands sent to the agent. Starting is seeded at session
// creation; the rest are dispatched by transitions.
const (
	CmdLinear    = "/linear"
	CmdSpecify   = "/specify"
	CmdClarify   = "/clarify"
	CmdPlan      = "/plan"
	CmdTasks     = "/tasks"
	CmdImplement = "/implement"
)

// SeedCommand returns the command that starts the pipeline for a ticket.
func SeedCommand(ticket string) string {
	return CmdLinear + " " + ticket
}

// Action is the machine's decision for one observation: the stage to move
// to, at most one command to dispatch, whether the session now waits for
// a human, and which stage flag completed.
type Action struct {
	Next     session.Stage
	Dispatch string // empty means nothing to send
	Pause    bool
	Reason   string
	Flag     Flag
}

// Flag names a per-stage completion flag on the session.
type Flag int

const (
	FlagNone Flag = iota
	FlagLinear
	FlagSpecify
	FlagClarify
	FlagPlan
	FlagTasks
	FlagImplement
)

// Machine holds the workflow configuration.
type Machine struct {
	// AutoAdvanceFromStart permits command-dispatching advances before
	// the first user action, even in planning mode. The specify and
	// plan_review gates pause regardless.
	AutoAdvanceFromStart bool
}

// OnMarker decides the transition for a stage completion marker observed
// in the given stage. The boolean is false when the marker is not
// meaningful in that stage (stale output, repeated marker).
//
// userActed reports whether the most recent stage entry was triggered by
// an explicit user action; marker-driven command dispatch is permitted
// only in auto mode, after a user action, or when AutoAdvanceFromStart
// is set.
func (m *Machine) OnMarker(stage session.Stage, marker detect.Marker, mode session.Mode, userActed bool) (Action, bool) {
	if stage.Terminal() {
		return Action{}, false
	}

	if marker == detect.MarkerFatal {
		return Action{
			Next:   session.StageError,
			Pause:  true,
			Reason: "agent reported a fatal error",
		}, true
	}

	canDispatch := mode == session.ModeAuto || userActed || m.AutoAdvanceFromStart

	switch {
	case stage == session.StageStarting && marker == detect.MarkerTicketFetched:
		return Action{
			Next:   session.StageSpecify,
			Pause:  true,
			Reason: "Review Linear ticket and click Specify to continue",
			Flag:   FlagLinear,
		}, true

	case stage == session.StagePlanning && marker == detect.MarkerSpecComplete:
		a := Action{Next: session.StagePlanning, Flag: FlagSpecify}
		if canDispatch {
			a.Dispatch = CmdPlan
		} else {
			a.Pause = true
			a.Reason = "specification complete; send " + CmdPlan + " to continue"
		}
		return a, true

	case stage == session.StagePlanning && marker == detect.MarkerPlanComplete:
		return Action{
			Next:   session.StagePlanReview,
			Pause:  true,
			Reason: "plan ready for review",
			Flag:   FlagPlan,
		}, true

	case stage == session.StageTasking && marker == detect.MarkerTasksComplete:
		a := Action{Next: session.StageImplementing, Flag: FlagTasks}
		if canDispatch {
			a.Dispatch = CmdImplement
		} else {
			a.Pause = true
			a.Reason = "tasks ready; send " + CmdImplement + " to continue"
		}
		return a, true

	case stage == session.StageImplementing && marker == detect.MarkerImplementComplete:
		return Action{
			Next:   session.StageDone,
			Reason: "implementation complete",
			Flag:   FlagImplement,
		}, true
	}

	return Action{}, false
}

// OnAmbiguity decides the transition when the classifier flags a
// clarification request. Only the planning stage diverts to
// clarify_needed; elsewhere the prompt just surfaces as needs-attention.
func (m *Machine) OnAmbiguity(stage session.Stage) (Action, bool) {
	if stage != session.StagePlanning {
		return Action{}, false
	}
	return Action{
		Next:   session.StageClarifyNeeded,
		Pause:  true,
		Reason: "agent needs clarification before planning can continue",
	}, true
}

// Confirm decides the transition for an explicit user confirmation.
// Only the paused gate stages accept one.
func (m *Machine) Confirm(stage session.Stage) (Action, error) {
	switch stage {
	case session.StageSpecify:
		return Action{Next: session.StagePlanning, Dispatch: CmdSpecify, Reason: "specification started"}, nil
	case session.StageClarifyNeeded:
		return Action{Next: session.StagePlanning, Dispatch: CmdClarify, Flag: FlagClarify, Reason: "clarification resumed"}, nil
	case session.StagePlanReview:
		return Action{Next: session.StageTasking, Dispatch: CmdTasks, Reason: "plan approved"}, nil
	default:
		return Action{}, fmt.Errorf("stage %s has no pending confirmation: %w", stage, errors.ErrInvalidInput)
	}
}

// Fail returns the action that moves any non-terminal stage to error.
func (m *Machine) Fail(reason string) Action {
	return Action{Next: session.StageError, Pause: true, Reason: reason}
}

// Apply writes an action onto a session. The caller must hold the
// session lock. Dispatching the action's command is the caller's job;
// Apply only mutates the record.
func Apply(s *session.Session, a Action) {
	if a.Next != "" {
		s.Stage = a.Next
	}
	s.NeedsAttention = a.Pause || s.Stage.Paused()
	if a.Reason != "" {
		s.AttentionReason = a.Reason
	}
	if !s.NeedsAttention {
		s.AttentionReason = ""
	}

	switch a.Flag {
	case FlagLinear:
		s.LinearDone = true
	case FlagSpecify:
		s.SpecifyDone = true
	case FlagClarify:
		s.ClarifyDone = true
	case FlagPlan:
		s.PlanDone = true
	case FlagTasks:
		s.TasksDone = true
	case FlagImplement:
		s.ImplementDone = true
	}

	s.Touch()
}
