package session

import (
	"sort"
	"sync"
	"time"

	"github.com/parapr/parapr/internal/errors"
)

// Registry owns the live session map. It is the only cross-session shared
// structure in the engine; per-session state is guarded by each session's
// own lock, the registry lock only protects membership.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	bufferLines int
}

// NewRegistry creates an empty registry whose sessions retain the given
// number of output lines.
func NewRegistry(bufferLines int) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		bufferLines: bufferLines,
	}
}

// Create registers a new session for a ticket.
// Returns AlreadyExistsError if the ticket already has a live session.
func (r *Registry) Create(ticket, workDir string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[ticket]; exists {
		return nil, errors.NewAlreadyExistsError("session", ticket)
	}

	now := time.Now()
	s := &Session{
		Ticket:         ticket,
		WorkDir:        workDir,
		Stage:          StageStarting,
		Mode:           ModePlanning,
		CreatedAt:      now,
		LastActivityAt: now,
		Output:         NewRingBuffer(r.bufferLines),
	}
	r.sessions[ticket] = s
	return s, nil
}

// Get returns the session for a ticket.
// Returns NotFoundError if no session exists.
func (r *Registry) Get(ticket string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[ticket]
	if !ok {
		return nil, errors.NewNotFoundError("session", ticket)
	}
	return s, nil
}

// List returns all sessions ordered by ticket.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Ticket < list[j].Ticket })
	return list
}

// Remove deletes the session for a ticket.
// Returns NotFoundError if no session exists.
func (r *Registry) Remove(ticket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[ticket]; !ok {
		return errors.NewNotFoundError("session", ticket)
	}
	delete(r.sessions, ticket)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
