package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"sceneplus/internal/api"
	"sceneplus/internal/config"
	"sceneplus/internal/journal"
	"sceneplus/internal/logging"
	"sceneplus/internal/scenefile"
	"sceneplus/internal/scenestore"
)

const (
	pruneInterval = 6 * time.Hour
	pingTimeout   = 2 * time.Second
)

// Pinger reports Home Assistant reachability for status output.
type Pinger interface {
	Configured() bool
	Ping(ctx context.Context) error
}

// Options wires a Daemon. Config, Store and Service are required.
type Options struct {
	Config        *config.Config
	Store         *scenestore.Store
	Service       *api.SceneService
	Journal       *journal.Store
	HomeAssistant Pinger
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// Daemon owns the long-running scene service and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *scenestore.Store
	service  *api.SceneService
	journal  *journal.Store
	ha       Pinger
	gatherer prometheus.Gatherer

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Service == nil {
		return nil, errors.New("daemon requires config, scene store, and scene service")
	}

	lockPath := opts.Config.DaemonLockPath()
	d := &Daemon{
		cfg:      opts.Config,
		logger:   logging.NewComponentLogger(opts.Logger, "daemon"),
		store:    opts.Store,
		service:  opts.Service,
		journal:  opts.Journal,
		ha:       opts.HomeAssistant,
		gatherer: opts.Gatherer,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(opts.Config, d, opts.Logger)
	return d, nil
}

// Start acquires the daemon lock and starts the HTTP API and journal upkeep.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sceneplus daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}
	d.cancel = cancel
	d.startedAt = time.Now()

	if d.journal != nil && d.cfg.JournalRetention() > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.pruneLoop(runCtx)
		}()
	}

	d.running.Store(true)
	d.logger.Info("sceneplus daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldPath, d.store.Path()),
		logging.Bool("cross_process_lock", d.store.CrossProcessLocking()),
	)
	return nil
}

// Stop stops background work and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("sceneplus daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// Scenes returns the scene service shared by the transports.
func (d *Daemon) Scenes() *api.SceneService {
	return d.service
}

// APIAddress returns the bound HTTP address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:          d.running.Load(),
		PID:              os.Getpid(),
		ScenesPath:       d.store.Path(),
		CrossProcessLock: d.store.CrossProcessLocking(),
		LockFilePath:     d.lockPath,
		SocketPath:       d.cfg.SocketPath(),
	}
	if status.Running {
		d.mu.Lock()
		status.StartedAt = formatTime(d.startedAt)
		d.mu.Unlock()
	}
	if d.journal != nil {
		status.JournalPath = d.journal.Path()
	}

	doc, err := scenefile.Load(d.store.Path(), d.logger)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.SceneCount = len(doc.Records())
	}

	if d.ha != nil && d.ha.Configured() {
		status.HomeAssistant.Configured = true
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := d.ha.Ping(pingCtx); err != nil {
			status.HomeAssistant.Detail = err.Error()
		} else {
			status.HomeAssistant.Reachable = true
		}
	} else {
		status.HomeAssistant.Detail = "url or token not configured"
	}
	return status
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		d.pruneJournal(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) pruneJournal(ctx context.Context) {
	removed, err := d.journal.Prune(ctx, d.cfg.JournalRetention())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "journal prune failed", "journal_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old history rows are kept"),
		)
		return
	}
	if removed > 0 {
		d.logger.Info("journal pruned",
			logging.String(logging.FieldEventType, "journal_pruned"),
			logging.Int64("removed", removed),
		)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
