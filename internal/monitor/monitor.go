// Package monitor runs the detection loop: every poll interval it
// captures each session's pane, fingerprints the output, and reacts to
// what changed. Stage completion markers drive the workflow machine,
// pending prompts go through the safety classifier, and startup prompts
// are answered inline. Work for one session serializes on its lock;
// distinct sessions are polled concurrently up to a configured cap.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/parapr/parapr/internal/classify"
	"github.com/parapr/parapr/internal/config"
	"github.com/parapr/parapr/internal/detect"
	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/logging"
	"github.com/parapr/parapr/internal/session"
	"github.com/parapr/parapr/internal/workflow"
)

// autoAnswer is the reply that accepts the highlighted option in the
// agent's prompts.
const autoAnswer = "1"

// Agent is the slice of the tmux adapter the monitor needs.
type Agent interface {
	Capture(ctx context.Context, id string) (string, error)
	SendText(ctx context.Context, id, text string) error
}

// Monitor polls session panes and reacts to output changes.
type Monitor struct {
	registry   *session.Registry
	agent      Agent
	detector   *detect.Detector
	classifier *classify.Classifier
	machine    *workflow.Machine
	hub        *hub.Hub
	cfg        config.MonitorConfig
	log        *logging.Logger

	pokes   chan string
	done    chan struct{}
	running atomic.Bool
}

// New creates a Monitor. Call Start to begin polling.
func New(
	registry *session.Registry,
	agent Agent,
	detector *detect.Detector,
	classifier *classify.Classifier,
	machine *workflow.Machine,
	h *hub.Hub,
	cfg config.MonitorConfig,
	log *logging.Logger,
) *Monitor {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Monitor{
		registry:   registry,
		agent:      agent,
		detector:   detector,
		classifier: classifier,
		machine:    machine,
		hub:        h,
		cfg:        cfg,
		log:        log.WithComponent("monitor"),
		pokes:      make(chan string, 64),
		done:       make(chan struct{}),
	}
}

// Poke schedules an immediate cycle for one session, ahead of the next
// poll tick. Never blocks; a full queue means a tick is imminent anyway.
func (m *Monitor) Poke(ticket string) {
	select {
	case m.pokes <- ticket:
	default:
	}
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Start runs the polling loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval())
	defer ticker.Stop()
	defer close(m.done)

	m.running.Store(true)
	defer m.running.Store(false)

	m.log.Info("monitor started", "poll_interval", m.cfg.PollInterval().String())

	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return
		case ticket := <-m.pokes:
			m.Cycle(ctx, ticket)
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Wait blocks until the loop started by Start has exited.
func (m *Monitor) Wait() {
	<-m.done
}

// sweep runs one cycle for every registered session, fanning out up to
// the configured concurrency.
func (m *Monitor) sweep(ctx context.Context) {
	sessions := m.registry.List()
	if len(sessions) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(m.cfg.MaxConcurrent)
	for _, s := range sessions {
		ticket := s.Ticket
		p.Go(func() {
			m.Cycle(ctx, ticket)
		})
	}
	p.Wait()
}

// Cycle runs one detection pass for a single session: capture, compare,
// react. Safe to call concurrently; per-session work serializes on the
// session lock and deduplicates on the output fingerprint.
func (m *Monitor) Cycle(ctx context.Context, ticket string) {
	s, err := m.registry.Get(ticket)
	if err != nil {
		return
	}

	capture, err := m.agent.Capture(ctx, ticket)
	if err != nil {
		m.recordFailure(s, err)
		return
	}

	analysis := m.detector.Analyze(capture)

	s.Lock()
	defer s.Unlock()

	s.ConsecutiveFailures = 0
	if s.Stage.Terminal() {
		return
	}

	if analysis.Fingerprint == s.LastFingerprint {
		return
	}

	s.Output.Replace(detect.StripAnsi(capture))
	m.hub.Publish(ticket, hub.Event{
		Type:           hub.EventOutput,
		Content:        analysis.Tail,
		Stage:          s.Stage,
		Mode:           s.Mode,
		NeedsAttention: s.NeedsAttention,
	})

	log := m.log.WithTicket(ticket).WithStage(string(s.Stage))

	switch analysis.Signal {
	case detect.SignalStartup:
		// Trust and continuation prompts at launch are answered in both
		// modes; they gate the tool itself, not the work.
		if err := m.agent.SendText(ctx, ticket, autoAnswer); err != nil {
			log.Warn("startup answer failed", "error", err.Error())
		} else {
			log.Info("answered startup prompt")
		}

	case detect.SignalStageComplete:
		m.onMarker(ctx, s, analysis.Marker, log)

	case detect.SignalPendingPrompt:
		m.onPrompt(ctx, s, analysis, log)
	}

	s.LastFingerprint = analysis.Fingerprint
	s.Touch()
}

// recordFailure reacts to a capture failure. Transient failures count
// toward the configured threshold; a vanished tmux target fails the
// session immediately, since no amount of retrying brings it back.
func (m *Monitor) recordFailure(s *session.Session, err error) {
	s.Lock()
	defer s.Unlock()

	if s.Stage.Terminal() {
		return
	}

	log := m.log.WithTicket(s.Ticket)

	if !errors.IsRetryable(err) {
		workflow.Apply(s, m.machine.Fail("tmux session is gone"))
		log.Error("session failed", "reason", s.AttentionReason, "error", err.Error())
		m.publishState(s)
		return
	}

	s.ConsecutiveFailures++
	log.Warn("capture failed",
		"error", err.Error(),
		"consecutive", s.ConsecutiveFailures,
	)

	if s.ConsecutiveFailures < m.cfg.MaxConsecutiveFailures {
		return
	}

	workflow.Apply(s, m.machine.Fail("session unreachable after repeated capture failures"))
	log.Error("session failed", "reason", s.AttentionReason)
	m.publishState(s)
}

// onMarker feeds a stage completion marker through the workflow machine
// and applies the result. Caller holds the session lock.
func (m *Monitor) onMarker(ctx context.Context, s *session.Session, marker detect.Marker, log *logging.Logger) {
	action, ok := m.machine.OnMarker(s.Stage, marker, s.Mode, s.UserActed)
	if !ok {
		return
	}

	if action.Dispatch != "" {
		if err := m.agent.SendText(ctx, s.Ticket, action.Dispatch); err != nil {
			log.Warn("stage command failed", "command", action.Dispatch, "error", err.Error())
			return
		}
		log.Info("dispatched stage command", "command", action.Dispatch)
	}

	workflow.Apply(s, action)
	log.Info("stage advanced", "marker", string(marker), "stage", string(s.Stage))
	m.publishState(s)
	if s.NeedsAttention {
		m.publishAttention(s)
	}
}

// onPrompt classifies a pending prompt and acts on the verdict. The
// session lock is released for the duration of the classification so a
// slow oracle never stalls the session; the verdict is discarded if the
// pane moved on in the meantime.
func (m *Monitor) onPrompt(ctx context.Context, s *session.Session, analysis detect.Analysis, log *logging.Logger) {
	before := s.LastFingerprint
	ticket := s.Ticket

	s.Unlock()
	result := m.classifier.Classify(ctx, ticket, analysis.Fingerprint, analysis.Tail)
	s.Lock()

	if s.LastFingerprint != before || s.Stage.Terminal() {
		// Another cycle handled this session while we were classifying.
		return
	}

	log.Info("prompt classified",
		"verdict", result.Verdict.String(),
		"source", string(result.Source),
	)

	switch result.Verdict {
	case classify.VerdictAutoAccept:
		if s.Mode != session.ModeAuto {
			s.NeedsAttention = true
			s.AttentionReason = "prompt awaiting approval"
			m.publishAttention(s)
			return
		}
		if err := m.agent.SendText(ctx, ticket, autoAnswer); err != nil {
			log.Warn("auto-accept failed", "error", err.Error())
			return
		}
		// The prompt was acted on; an earlier attention flag is stale.
		s.NeedsAttention = false
		s.AttentionReason = ""
		m.hub.Publish(ticket, hub.Event{
			Type:         hub.EventAutoAccept,
			Stage:        s.Stage,
			Mode:         s.Mode,
			AutoAccepted: true,
			Reason:       result.Reason,
		})

	case classify.VerdictNeedsAttention:
		if result.Source == classify.SourceOracle {
			if action, ok := m.machine.OnAmbiguity(s.Stage); ok {
				workflow.Apply(s, action)
				m.publishState(s)
			}
		}
		if !s.NeedsAttention {
			s.NeedsAttention = true
			s.AttentionReason = result.Reason
		}
		m.publishAttention(s)

	case classify.VerdictBlocked:
		// Never acted on automatically, regardless of mode.
		s.NeedsAttention = true
		s.AttentionReason = result.Reason
		m.publishAttention(s)
	}
}

// publishState emits a state event. Caller holds the session lock.
func (m *Monitor) publishState(s *session.Session) {
	m.hub.Publish(s.Ticket, hub.Event{
		Type:           hub.EventState,
		Stage:          s.Stage,
		Mode:           s.Mode,
		NeedsAttention: s.NeedsAttention,
		Reason:         s.AttentionReason,
	})
}

// publishAttention emits an attention event. Caller holds the session lock.
func (m *Monitor) publishAttention(s *session.Session) {
	m.hub.Publish(s.Ticket, hub.Event{
		Type:           hub.EventAttention,
		Stage:          s.Stage,
		Mode:           s.Mode,
		NeedsAttention: true,
		Reason:         s.AttentionReason,
	})
}
