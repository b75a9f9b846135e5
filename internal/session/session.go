// Package session holds the session entity and the registry that owns it.
// A session is the engine's record of one live agent working a ticket in
// its own worktree and tmux session.
package session

import (
	"sync"
	"time"
)

// Stage is a workflow stage. The workflow package owns the transition
// rules; the stage value itself lives on the session record.
type Stage string

const (
	StageStarting      Stage = "starting"
	StageSpecify       Stage = "specify"
	StageClarifyNeeded Stage = "clarify_needed"
	StagePlanning      Stage = "planning"
	StagePlanReview    Stage = "plan_review"
	StageTasking       Stage = "tasking"
	StageImplementing  Stage = "implementing"
	StageDone          Stage = "done"
	StageError         Stage = "error"
)

// Terminal reports whether no further transitions leave this stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError
}

// Paused reports whether the stage holds the session for human review.
// Plain text input does not resume the pipeline from a paused stage;
// only an explicit confirmation (or, for error, nothing) exits one.
func (s Stage) Paused() bool {
	return s == StageSpecify || s == StageClarifyNeeded ||
		s == StagePlanReview || s == StageError
}

// Mode controls how the session reacts to auto-acceptable prompts.
type Mode string

const (
	// ModeAuto answers auto-acceptable prompts without a human.
	ModeAuto Mode = "auto"
	// ModePlanning surfaces every prompt for human attention.
	ModePlanning Mode = "planning"
)

// Session is the engine's record of one agent session. All mutation must
// happen under the session lock; the detector cycle, dispatcher, and
// workflow advance for one ticket serialize on it, while distinct
// sessions share nothing and run fully in parallel.
type Session struct {
	mu sync.Mutex

	// Identity, fixed at creation.
	Ticket  string
	WorkDir string

	// Workflow state.
	Stage           Stage
	Mode            Mode
	NeedsAttention  bool
	AttentionReason string

	// Ticket metadata attached after creation.
	Title       string
	Description string

	// Per-stage completion flags surfaced in the session detail.
	LinearDone    bool
	SpecifyDone   bool
	ClarifyDone   bool
	PlanDone      bool
	TasksDone     bool
	ImplementDone bool

	// UserActed records that a human explicitly drove this session
	// (sent text, confirmed a gate). Marker-driven command dispatch in
	// planning mode waits for it.
	UserActed bool

	// Detector bookkeeping.
	LastFingerprint     string
	ConsecutiveFailures int

	CreatedAt      time.Time
	LastActivityAt time.Time

	// Output holds the trailing output lines for the detail endpoint and
	// oracle context.
	Output *RingBuffer
}

// Lock acquires the per-session lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records activity now. Caller must hold the lock.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// Snapshot is an immutable copy of the session state for serialization.
type Snapshot struct {
	Ticket          string    `json:"ticket"`
	Stage           Stage     `json:"stage"`
	Mode            Mode      `json:"mode"`
	NeedsAttention  bool      `json:"needs_attention"`
	AttentionReason string    `json:"attention_reason,omitempty"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	LinearDone      bool      `json:"linear_done"`
	SpecifyDone     bool      `json:"specify_done"`
	ClarifyDone     bool      `json:"clarify_done"`
	PlanDone        bool      `json:"plan_done"`
	TasksDone       bool      `json:"tasks_done"`
	ImplementDone   bool      `json:"implement_done"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Snapshot copies the current state. It takes the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Ticket:          s.Ticket,
		Stage:           s.Stage,
		Mode:            s.Mode,
		NeedsAttention:  s.NeedsAttention,
		AttentionReason: s.AttentionReason,
		Title:           s.Title,
		Description:     s.Description,
		LinearDone:      s.LinearDone,
		SpecifyDone:     s.SpecifyDone,
		ClarifyDone:     s.ClarifyDone,
		PlanDone:        s.PlanDone,
		TasksDone:       s.TasksDone,
		ImplementDone:   s.ImplementDone,
		CreatedAt:       s.CreatedAt,
		LastActivityAt:  s.LastActivityAt,
	}
}
