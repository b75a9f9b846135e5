package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parapr/parapr/internal/classify"
	"github.com/parapr/parapr/internal/config"
	"github.com/parapr/parapr/internal/detect"
	"github.com/parapr/parapr/internal/dispatch"
	"github.com/parapr/parapr/internal/errors"
	"github.com/parapr/parapr/internal/hub"
	"github.com/parapr/parapr/internal/logging"
	"github.com/parapr/parapr/internal/monitor"
	"github.com/parapr/parapr/internal/orchestrator"
	"github.com/parapr/parapr/internal/server"
	"github.com/parapr/parapr/internal/session"
	"github.com/parapr/parapr/internal/tmux"
	"github.com/parapr/parapr/internal/workflow"
	"github.com/parapr/parapr/internal/worktree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session engine and its HTTP API",
	Long: `Starts the engine: adopts any tmux sessions that are already running,
begins the output detection loop, and serves the HTTP API until
interrupted. Only one engine may drive a tmux fleet at a time; a file
lock enforces that.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "address to bind (overrides config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

// engine combines lifecycle and command dispatch behind the server's
// control-surface interface.
type engine struct {
	*orchestrator.Orchestrator
	*dispatch.Dispatcher
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logDir := ""
	if cfg.Logging.Enabled {
		logDir = cfg.Logging.Dir
		if logDir == "" {
			logDir = config.ConfigDir()
		}
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	// One engine per machine; two would fight over the same tmux fleet.
	lock := flock.New(filepath.Join(os.TempDir(), "parapr.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquiring engine lock")
	}
	if !locked {
		return errors.New("another parapr engine is already running")
	}
	defer func() { _ = lock.Unlock() }()

	registry := session.NewRegistry(cfg.Monitor.OutputBufferLines)
	adapter := tmux.NewAdapter(cfg.Tmux)
	detector := detect.NewDetector()

	var gateway classify.Gateway
	if cfg.Classifier.OracleEnabled && cfg.Classifier.Endpoint != "" {
		gateway = classify.NewOracleGateway(cfg.Classifier)
	} else {
		logger.Warn("oracle disabled; inconclusive prompts will surface for review")
	}
	classifier := classify.New(gateway, cfg.Classifier.MaxConcurrent, logger)

	machine := &workflow.Machine{AutoAdvanceFromStart: cfg.Workflow.AutoAdvanceFromStart}
	h := hub.New()
	scanner := worktree.NewScanner(cfg.Worktrees.ResolveRoot(), adapter, logger)

	// Worktree provisioning needs an enclosing git repo; without one,
	// sessions can only start in worktrees that already exist.
	var provisioner orchestrator.Provisioner
	if gitRoot, err := worktree.FindGitRoot("."); err == nil {
		prov := worktree.NewProvisioner(gitRoot)
		scanner.SetStatusChecker(prov)
		provisioner = prov
	} else {
		logger.Info("no git repository found; worktree provisioning disabled")
	}

	orch := orchestrator.New(registry, adapter, scanner, provisioner, classifier, h, cfg.Tmux, cfg.Monitor.MaxConcurrent, logger)
	if store, err := session.NewStore(filepath.Join(config.ConfigDir(), "sessions")); err != nil {
		logger.Warn("snapshot store unavailable", "error", err.Error())
	} else {
		orch.SetStore(store)
	}
	disp := dispatch.New(registry, adapter, h, machine, logger)
	mon := monitor.New(registry, adapter, detector, classifier, machine, h, cfg.Monitor, logger)
	disp.SetPoker(mon)

	srv := server.New(registry, engine{orch, disp}, scanner, h, mon.Running, cfg.Server, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if adopted, err := orch.AdoptExisting(ctx); err != nil {
		logger.Warn("session adoption failed", "error", err.Error())
	} else if len(adopted) > 0 {
		logger.Info("adopted running sessions", "count", len(adopted))
	}

	go mon.Start(ctx)
	if cfg.Worktrees.Watch {
		go func() {
			if err := scanner.Watch(ctx); err != nil {
				logger.Warn("worktree watch unavailable", "error", err.Error())
			}
		}()
	}

	err = srv.ListenAndServe(ctx)
	mon.Wait()
	orch.SaveAll()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("engine stopped")
	return nil
}
