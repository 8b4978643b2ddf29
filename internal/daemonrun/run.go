package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sceneplus/internal/api"
	"sceneplus/internal/capture"
	"sceneplus/internal/config"
	"sceneplus/internal/daemon"
	"sceneplus/internal/homeassistant"
	"sceneplus/internal/ipc"
	"sceneplus/internal/journal"
	"sceneplus/internal/logging"
	"sceneplus/internal/scenestore"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	SocketPath  string
}

// Run starts the sceneplus daemon and blocks until the context is cancelled
// or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", cfg.LogPath()},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "sceneplus.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := scenestore.NewFromConfig(cfg, scenestore.NewMetrics(registry), logger)
	ha := homeassistant.NewFromConfig(cfg, logger)

	var history *journal.Store
	svcOpts := api.ServiceOptions{Store: store, Logger: logger}
	if ha.Configured() {
		svcOpts.Provider = ha
		svcOpts.Resolver = ha
		svcOpts.Reloader = ha
	} else {
		svcOpts.Resolver = capture.DirectResolver{}
		logging.WarnWithContext(logger, "home assistant not configured", "home_assistant_unconfigured",
			logging.String(logging.FieldErrorHint, "set home_assistant.url and home_assistant.token or HASS_URL and HASS_TOKEN"),
			logging.String(logging.FieldImpact, "updates and reloads fail; scene ids are used verbatim for lookups"),
		)
	}
	if cfg.Journal.Enabled {
		history, err = journal.Open(signalCtx, cfg.Journal.Path)
		if err != nil {
			logger.Error("open journal", logging.Error(err))
			return err
		}
		svcOpts.Journal = history
	}

	d, err := daemon.New(daemon.Options{
		Config:        cfg,
		Store:         store,
		Service:       api.NewSceneService(svcOpts),
		Journal:       history,
		HomeAssistant: ha,
		Gatherer:      registry,
		Logger:        logger,
	})
	if err != nil {
		if history != nil {
			history.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// Start takes the single-instance lock, which must happen before the
	// socket of a running daemon could be replaced.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	socketPath := opts.SocketPath
	if strings.TrimSpace(socketPath) == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("sceneplus daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("scenes_path", cfg.ScenesPath()),
		logging.Bool("home_assistant_configured", strings.TrimSpace(cfg.HomeAssistant.URL) != "" && strings.TrimSpace(cfg.HomeAssistant.Token) != ""),
		logging.String("home_assistant_url", cfg.HomeAssistant.URL),
		logging.Bool("advisory_lock", cfg.Scenes.AdvisoryLock),
		logging.Strings("exclude_attributes", cfg.Scenes.ExcludeAttributes),
		logging.Bool("journal_enabled", cfg.Journal.Enabled),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
	)
}
