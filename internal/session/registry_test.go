package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/parapr/parapr/internal/errors"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry(200)

	s, err := r.Create("eng-1423", "/work/eng-1423")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Stage != StageStarting {
		t.Errorf("new session stage = %v, want starting", s.Stage)
	}
	if s.Mode != ModePlanning {
		t.Errorf("new session mode = %v, want planning", s.Mode)
	}
	if s.Output == nil {
		t.Error("new session should have an output buffer")
	}

	got, err := r.Get("eng-1423")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != s {
		t.Error("Get should return the same session instance")
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := NewRegistry(200)

	if _, err := r.Create("eng-1", "/w"); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	_, err := r.Create("eng-1", "/w")
	if !errors.Is(err, errors.ErrSessionExists) {
		t.Errorf("duplicate Create should return ErrSessionExists, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("registry should still hold 1 session, got %d", r.Len())
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry(200)

	_, err := r.Get("eng-404")
	if !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistry_ListOrdered(t *testing.T) {
	r := NewRegistry(200)
	for _, ticket := range []string{"eng-3", "eng-1", "eng-2"} {
		if _, err := r.Create(ticket, "/w/"+ticket); err != nil {
			t.Fatalf("Create %s failed: %v", ticket, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d sessions, want 3", len(list))
	}
	for i, want := range []string{"eng-1", "eng-2", "eng-3"} {
		if list[i].Ticket != want {
			t.Errorf("List[%d] = %s, want %s", i, list[i].Ticket, want)
		}
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(200)
	r.Create("eng-1", "/w")

	if err := r.Remove("eng-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("registry should be empty after Remove, got %d", r.Len())
	}

	if err := r.Remove("eng-1"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("second Remove should return ErrSessionNotFound, got %v", err)
	}
}

func TestRegistry_ConcurrentCreate(t *testing.T) {
	r := NewRegistry(200)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Create(fmt.Sprintf("eng-%d", n%8), "/w")
		}(i)
	}
	wg.Wait()

	if r.Len() != 8 {
		t.Errorf("registry holds %d sessions, want 8 distinct tickets", r.Len())
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry(200)
	s, _ := r.Create("eng-1423", "/w")

	s.Lock()
	s.Stage = StagePlanReview
	s.NeedsAttention = true
	s.AttentionReason = "plan ready for review"
	s.PlanDone = true
	s.Unlock()

	snap := s.Snapshot()
	if snap.Ticket != "eng-1423" || snap.Stage != StagePlanReview {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.NeedsAttention || !snap.PlanDone {
		t.Error("snapshot should carry attention flag and stage flags")
	}

	// Mutating the session after the snapshot must not change the copy.
	s.Lock()
	s.Stage = StageTasking
	s.Unlock()
	if snap.Stage != StagePlanReview {
		t.Error("snapshot must be immutable")
	}
}

func TestStageTerminal(t *testing.T) {
	for _, tc := range []struct {
		stage Stage
		want  bool
	}{
		{StageDone, true},
		{StageError, true},
		{StageStarting, false},
		{StageImplementing, false},
	} {
		if got := tc.stage.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.stage, got, tc.want)
		}
	}
}
