package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/session"
)

// writeJSON serializes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err.Error())
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrSessionExists):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrLaunchFailed):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "malformed request body")
	}
	return nil
}

// outcomes converts a per-ticket error map into a serializable form.
func outcomes(results map[string]error) map[string]map[string]any {
	out := make(map[string]map[string]any, len(results))
	for ticket, err := range results {
		if err != nil {
			out[ticket] = map[string]any{"ok": false, "error": err.Error()}
		} else {
			out[ticket] = map[string]any{"ok": true}
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"sessions":        s.registry.Len(),
		"monitor_running": s.monitorUp(),
	})
}

func (s *Server) handleWorktrees(w http.ResponseWriter, r *http.Request) {
	infos, err := s.worktrees.Discover(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"worktrees": infos})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	snaps := make([]session.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": snaps})
}

func (s *Server) handleCreateSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tickets []string `json:"tickets"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Tickets) == 0 {
		s.writeError(w, errors.Wrap(errors.ErrInvalidInput, "no tickets given"))
		return
	}

	// Single-ticket create keeps plain REST semantics.
	if len(req.Tickets) == 1 {
		snap, err := s.engine.Create(r.Context(), req.Tickets[0])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, snap)
		return
	}

	results := make(map[string]error, len(req.Tickets))
	for _, ticket := range req.Tickets {
		_, err := s.engine.Create(r.Context(), ticket)
		results[ticket] = err
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": outcomes(results)})
}

func (s *Server) handleStartAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.StartAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": outcomes(results)})
}

func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	results := s.engine.KillAll(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"results": outcomes(results)})
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "ticket"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Destroy(r.Context(), chi.URLParam(r, "ticket")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionOutput(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "ticket"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, errors.Wrapf(errors.ErrInvalidInput, "bad lines value %q", raw))
			return
		}
		lines = n
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"ticket": sess.Ticket,
		"output": sess.Output.Last(lines),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Send(r.Context(), chi.URLParam(r, "ticket"), req.Text); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Interrupt(r.Context(), chi.URLParam(r, "ticket")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")
	if err := s.engine.Confirm(r.Context(), ticket); err != nil {
		s.writeError(w, err)
		return
	}
	sess, err := s.registry.Get(ticket)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")
	sess, err := s.registry.Get(ticket)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// An explicit mode in the body wins; an empty body toggles.
	var req struct {
		Mode session.Mode `json:"mode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	mode := req.Mode
	if mode == "" {
		if sess.Snapshot().Mode == session.ModeAuto {
			mode = session.ModePlanning
		} else {
			mode = session.ModeAuto
		}
	}

	if err := s.engine.SetMode(ticket, mode); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]session.Mode{"mode": mode})
}

func (s *Server) handleTicketInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SetTicketInfo(chi.URLParam(r, "ticket"), req.Title, req.Description); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleBatchSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tickets []string `json:"tickets"`
		Text    string   `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	tickets := req.Tickets
	if len(tickets) == 0 {
		// No explicit targets means every registered session.
		for _, sess := range s.registry.List() {
			tickets = append(tickets, sess.Ticket)
		}
	}

	results := s.engine.BatchSend(r.Context(), tickets, req.Text)
	s.writeJSON(w, http.StatusOK, map[string]any{"results": outcomes(results)})
}
