package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/session"
	"github.com/parapr/parapr/internal/workflow"
)

type fakePane struct {
	mu         sync.Mutex
	sent       []string // "ticket\x00text"
	interrupts []string
	sendErr    map[string]error
}

func (f *fakePane) SendText(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.sendErr[id]; ok {
		return err
	}
	f.sent = append(f.sent, id+"\x00"+text)
	return nil
}

func (f *fakePane) Interrupt(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, id)
	return nil
}

type recordingPoker struct {
	mu    sync.Mutex
	pokes []string
}

func (p *recordingPoker) Poke(ticket string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pokes = append(p.pokes, ticket)
}

func newFixture(t *testing.T, tickets ...string) (*Dispatcher, *session.Registry, *fakePane, *recordingPoker) {
	t.Helper()
	reg := session.NewRegistry(200)
	for _, ticket := range tickets {
		if _, err := reg.Create(ticket, "/tmp/worktrees/"+ticket); err != nil {
			t.Fatalf("create %s: %v", ticket, err)
		}
	}
	pane := &fakePane{}
	poker := &recordingPoker{}
	d := New(reg, pane, hub.New(), &workflow.Machine{}, nil)
	d.SetPoker(poker)
	return d, reg, pane, poker
}

func TestSendMarksUserActedAndClearsAttention(t *testing.T) {
	d, reg, pane, poker := newFixture(t, "eng-1423")

	s, _ := reg.Get("eng-1423")
	s.Lock()
	s.NeedsAttention = true
	s.AttentionReason = "waiting on a prompt"
	s.Unlock()

	if err := d.Send(context.Background(), "eng-1423", "use approach B"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(pane.sent) != 1 || pane.sent[0] != "eng-1423\x00use approach B" {
		t.Errorf("sent = %v", pane.sent)
	}
	snap := s.Snapshot()
	if snap.NeedsAttention {
		t.Error("needs_attention not cleared by send")
	}
	s.Lock()
	acted := s.UserActed
	s.Unlock()
	if !acted {
		t.Error("UserActed not set")
	}
	if len(poker.pokes) != 1 || poker.pokes[0] != "eng-1423" {
		t.Errorf("pokes = %v", poker.pokes)
	}
}

func TestSendKeepsAttentionOnPausedGate(t *testing.T) {
	d, reg, pane, _ := newFixture(t, "eng-1423")

	s, _ := reg.Get("eng-1423")
	s.Lock()
	s.Stage = session.StagePlanReview
	s.NeedsAttention = true
	s.AttentionReason = "plan ready for review"
	s.Unlock()

	if err := d.Send(context.Background(), "eng-1423", "tighten the rollout section"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(pane.sent) != 1 {
		t.Errorf("sent = %v", pane.sent)
	}
	snap := s.Snapshot()
	if snap.Stage != session.StagePlanReview {
		t.Errorf("stage = %s, plain text must not exit plan_review", snap.Stage)
	}
	if !snap.NeedsAttention {
		t.Error("needs_attention cleared while the gate is still paused")
	}
	if snap.AttentionReason != "plan ready for review" {
		t.Errorf("attention reason = %q", snap.AttentionReason)
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	d, _, pane, _ := newFixture(t, "eng-1423")

	err := d.Send(context.Background(), "eng-1423", "")
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if len(pane.sent) != 0 {
		t.Errorf("sent = %v, want none", pane.sent)
	}
}

func TestSendUnknownSession(t *testing.T) {
	d, _, _, _ := newFixture(t)

	err := d.Send(context.Background(), "eng-9999", "hello")
	if !errors.IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}

func TestInterrupt(t *testing.T) {
	d, _, pane, poker := newFixture(t, "eng-1423")

	if err := d.Interrupt(context.Background(), "eng-1423"); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if len(pane.interrupts) != 1 || pane.interrupts[0] != "eng-1423" {
		t.Errorf("interrupts = %v", pane.interrupts)
	}
	if len(poker.pokes) != 1 {
		t.Errorf("pokes = %v", poker.pokes)
	}
}

func TestBatchSendReportsPerSessionOutcomes(t *testing.T) {
	d, _, pane, _ := newFixture(t, "eng-1", "eng-2")

	results := d.BatchSend(context.Background(), []string{"eng-1", "eng-missing", "eng-2"}, "status?")

	if len(results) != 3 {
		t.Fatalf("results = %v", results)
	}
	if results["eng-1"] != nil {
		t.Errorf("eng-1: %v", results["eng-1"])
	}
	if results["eng-2"] != nil {
		t.Errorf("eng-2: %v", results["eng-2"])
	}
	if !errors.IsNotFound(results["eng-missing"]) {
		t.Errorf("eng-missing: %v, want not-found", results["eng-missing"])
	}
	if len(pane.sent) != 2 {
		t.Errorf("sent %d messages, want 2", len(pane.sent))
	}
}

func TestConfirmDispatchesGateCommand(t *testing.T) {
	tests := []struct {
		stage    session.Stage
		wantCmd  string
		wantNext session.Stage
	}{
		{session.StageSpecify, workflow.CmdSpecify, session.StagePlanning},
		{session.StageClarifyNeeded, workflow.CmdClarify, session.StagePlanning},
		{session.StagePlanReview, workflow.CmdTasks, session.StageTasking},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			d, reg, pane, _ := newFixture(t, "eng-1423")
			s, _ := reg.Get("eng-1423")
			s.Lock()
			s.Stage = tt.stage
			s.NeedsAttention = true
			s.Unlock()

			if err := d.Confirm(context.Background(), "eng-1423"); err != nil {
				t.Fatalf("Confirm: %v", err)
			}

			if len(pane.sent) != 1 || pane.sent[0] != "eng-1423\x00"+tt.wantCmd {
				t.Errorf("sent = %v, want single %s", pane.sent, tt.wantCmd)
			}
			snap := s.Snapshot()
			if snap.Stage != tt.wantNext {
				t.Errorf("stage = %s, want %s", snap.Stage, tt.wantNext)
			}
			if snap.NeedsAttention {
				t.Error("needs_attention still set after confirm")
			}
		})
	}
}

func TestConfirmRejectsNonGateStage(t *testing.T) {
	d, reg, pane, _ := newFixture(t, "eng-1423")
	s, _ := reg.Get("eng-1423")
	s.Lock()
	s.Stage = session.StageImplementing
	s.Unlock()

	err := d.Confirm(context.Background(), "eng-1423")
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if len(pane.sent) != 0 {
		t.Errorf("sent = %v, want none", pane.sent)
	}
}

func TestConfirmSendFailureLeavesStageUnchanged(t *testing.T) {
	d, reg, pane, _ := newFixture(t, "eng-1423")
	pane.sendErr = map[string]error{"eng-1423": errors.ErrAdapterTransient}
	s, _ := reg.Get("eng-1423")
	s.Lock()
	s.Stage = session.StagePlanReview
	s.Unlock()

	err := d.Confirm(context.Background(), "eng-1423")
	if !errors.Is(err, errors.ErrAdapterTransient) {
		t.Fatalf("err = %v", err)
	}
	if snap := s.Snapshot(); snap.Stage != session.StagePlanReview {
		t.Errorf("stage = %s, want plan_review unchanged", snap.Stage)
	}
}

func TestSetMode(t *testing.T) {
	d, reg, _, poker := newFixture(t, "eng-1423")

	if err := d.SetMode("eng-1423", session.ModeAuto); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	s, _ := reg.Get("eng-1423")
	if snap := s.Snapshot(); snap.Mode != session.ModeAuto {
		t.Errorf("mode = %s, want auto", snap.Mode)
	}
	if len(poker.pokes) != 1 {
		t.Errorf("switching to auto should poke, pokes = %v", poker.pokes)
	}

	// Switching back to planning does not poke.
	if err := d.SetMode("eng-1423", session.ModePlanning); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if len(poker.pokes) != 1 {
		t.Errorf("pokes = %v, want 1", poker.pokes)
	}

	if err := d.SetMode("eng-1423", "turbo"); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSetModeToAutoForcesRedetection(t *testing.T) {
	d, reg, _, _ := newFixture(t, "eng-1423")

	s, _ := reg.Get("eng-1423")
	s.Lock()
	s.LastFingerprint = "fp-pending-prompt"
	s.Unlock()

	if err := d.SetMode("eng-1423", session.ModeAuto); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	s.Lock()
	fp := s.LastFingerprint
	s.Unlock()
	if fp != "" {
		t.Errorf("fingerprint = %q, want cleared so the poked cycle re-handles the pane", fp)
	}

	// Switching away from auto leaves the fingerprint alone.
	s.Lock()
	s.LastFingerprint = "fp-pending-prompt"
	s.Unlock()
	if err := d.SetMode("eng-1423", session.ModePlanning); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	s.Lock()
	fp = s.LastFingerprint
	s.Unlock()
	if fp != "fp-pending-prompt" {
		t.Errorf("fingerprint = %q, want untouched", fp)
	}
}

func TestSetModePublishesStateEvent(t *testing.T) {
	reg := session.NewRegistry(200)
	if _, err := reg.Create("eng-1423", "/tmp/wt"); err != nil {
		t.Fatal(err)
	}
	h := hub.New()
	d := New(reg, &fakePane{}, h, &workflow.Machine{}, nil)

	sub := h.Subscribe("eng-1423")
	defer h.Unsubscribe(sub)

	if err := d.SetMode("eng-1423", session.ModeAuto); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	ev := <-sub.Events
	if ev.Type != hub.EventState {
		t.Errorf("type = %q, want state", ev.Type)
	}
	if ev.Mode != session.ModeAuto {
		t.Errorf("mode = %q, want auto", ev.Mode)
	}
}
