// Package server exposes the engine over HTTP: a chi-routed JSON API for
// session lifecycle and control, and a WebSocket stream per session for
// output and state events.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/parapr/parapr/internal/config"
	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/logging"
	"github.com/parapr/parapr/internal/session"
	"github.com/parapr/parapr/internal/worktree"
)

// Engine is the control surface the HTTP layer talks to. Implemented by
// the orchestrator plus dispatcher; tests substitute fakes.
type Engine interface {
	Create(ctx context.Context, ticket string) (session.Snapshot, error)
	Destroy(ctx context.Context, ticket string) error
	StartAll(ctx context.Context) (map[string]error, error)
	KillAll(ctx context.Context) map[string]error
	SetTicketInfo(ticket, title, description string) error

	Send(ctx context.Context, ticket, text string) error
	Interrupt(ctx context.Context, ticket string) error
	BatchSend(ctx context.Context, tickets []string, text string) map[string]error
	Confirm(ctx context.Context, ticket string) error
	SetMode(ticket string, mode session.Mode) error
}

// WorktreesDiscoverer lists candidate worktrees. Implemented by the
// worktree scanner.
type WorktreesDiscoverer interface {
	Discover(ctx context.Context) ([]worktree.Info, error)
}

// Server is the HTTP surface.
type Server struct {
	registry  *session.Registry
	engine    Engine
	worktrees WorktreesDiscoverer
	hub       *hub.Hub
	monitorUp func() bool
	cfg       config.ServerConfig
	log       *logging.Logger
	router    chi.Router
}

// New builds the Server and its routes. monitorUp reports whether the
// detection loop is running; nil means "unknown, report false".
func New(
	registry *session.Registry,
	engine Engine,
	worktrees WorktreesDiscoverer,
	h *hub.Hub,
	monitorUp func() bool,
	cfg config.ServerConfig,
	log *logging.Logger,
) *Server {
	if log == nil {
		log = logging.NopLogger()
	}
	if monitorUp == nil {
		monitorUp = func() bool { return false }
	}
	s := &Server{
		registry:  registry,
		engine:    engine,
		worktrees: worktrees,
		hub:       h,
		monitorUp: monitorUp,
		cfg:       cfg,
		log:       log.WithComponent("server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/worktrees", s.handleWorktrees)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSessions)
			r.Post("/start-all", s.handleStartAll)
			r.Post("/kill-all", s.handleKillAll)

			r.Route("/{ticket}", func(r chi.Router) {
				r.Get("/", s.handleSessionDetail)
				r.Delete("/", s.handleDestroySession)
				r.Get("/output", s.handleSessionOutput)
				r.Post("/send", s.handleSend)
				r.Post("/interrupt", s.handleInterrupt)
				r.Post("/confirm", s.handleConfirm)
				r.Post("/mode", s.handleMode)
				r.Post("/ticket-info", s.handleTicketInfo)
			})
		})

		r.Post("/batch/send", s.handleBatchSend)
	})

	r.Get("/ws/{ticket}", s.handleStream)

	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr(),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("listening", "addr", s.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
