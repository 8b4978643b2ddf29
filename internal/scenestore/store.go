package scenestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"sceneplus/internal/config"
	"sceneplus/internal/fileutil"
	"sceneplus/internal/filelock"
	"sceneplus/internal/logging"
	"sceneplus/internal/merge"
	"sceneplus/internal/scenefile"
)

var (
	// ErrNotFound reports a scene id that is not in the document, including
	// when the document itself does not exist.
	ErrNotFound = errors.New("scene not found")
	// ErrExists reports a Create for an id that is already taken.
	ErrExists = errors.New("scene already exists")
)

// Phase is a step of a locked mutation.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLocking   Phase = "locking"
	PhaseLoading   Phase = "loading"
	PhaseMerging   Phase = "merging"
	PhaseWriting   Phase = "writing"
	PhaseUnlocking Phase = "unlocking"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Outcome is the result of a mutation. Failures are reported here rather
// than as errors so callers can always build a response.
type Outcome struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	NotFound bool     `json:"not_found,omitempty"`
	SceneID  string   `json:"scene_id,omitempty"`
	Updated  []string `json:"updated,omitempty"`
	// Phase is the phase a failure happened in, or PhaseSucceeded.
	Phase Phase `json:"phase"`
}

// Options configures a Store.
type Options struct {
	Path    string
	Locks   *filelock.Manager
	Engine  *merge.Engine
	Metrics *Metrics
	Logger  *slog.Logger
	// Perm applies when the document is created; existing files keep their mode.
	Perm os.FileMode
}

// Store reads and rewrites the scenes document.
type Store struct {
	path    string
	perm    os.FileMode
	locks   *filelock.Manager
	engine  *merge.Engine
	writer  fileutil.AtomicWriter
	metrics *Metrics
	logger  *slog.Logger

	// test hooks
	onPhase     func(Phase)
	beforeWrite func()
}

// New constructs a Store. Missing collaborators get in-process defaults.
func New(opts Options) *Store {
	logger := logging.NewComponentLogger(opts.Logger, "scenestore")
	locks := opts.Locks
	if locks == nil {
		locks = filelock.NewManager(nil, opts.Logger)
	}
	engine := opts.Engine
	if engine == nil {
		engine = merge.NewEngine(nil, opts.Logger)
	}
	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}
	return &Store{
		path:    opts.Path,
		perm:    perm,
		locks:   locks,
		engine:  engine,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// NewFromConfig builds the store for the scenes document of cfg, taking the
// advisory lock when scenes.advisory_lock is set.
func NewFromConfig(cfg *config.Config, metrics *Metrics, logger *slog.Logger) *Store {
	path := cfg.ScenesPath()
	advisory := filelock.NewAdvisory(path, cfg.Scenes.AdvisoryLock, cfg.LockTimeout(), logger)
	return New(Options{
		Path:    path,
		Locks:   filelock.NewManager(advisory, logger),
		Engine:  merge.NewEngine(cfg.Scenes.ExcludeAttributes, logger),
		Metrics: metrics,
		Logger:  logger,
	})
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// CrossProcessLocking reports whether updates also take the advisory lock.
func (s *Store) CrossProcessLocking() bool {
	return s.locks.CrossProcess()
}

// LookupEntities returns the entity entries of scene id. It takes no lock and
// observes whichever complete document is on disk at the time of the read.
func (s *Store) LookupEntities(ctx context.Context, id string) (scenefile.EntitySet, error) {
	if err := ctx.Err(); err != nil {
		return scenefile.EntitySet{}, err
	}
	doc, err := scenefile.Load(s.path, logging.WithContext(ctx, s.logger))
	if err != nil {
		return scenefile.EntitySet{}, err
	}
	record, ok := doc.Find(id)
	if !ok {
		return scenefile.EntitySet{}, fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	return record.Entities(), nil
}

// Update merges snapshot into the entities scene id already declares and
// rewrites the document.
func (s *Store) Update(ctx context.Context, id string, snapshot merge.Snapshot) Outcome {
	out := s.run(ctx, "update", id, func(doc *scenefile.Document) ([]string, bool, error) {
		record, ok := doc.Find(id)
		if !ok {
			return nil, false, ErrNotFound
		}
		updated, err := s.engine.MergeRecord(record, snapshot)
		return updated, len(updated) > 0, err
	})
	if out.Success {
		out.Message = fmt.Sprintf("Scene %s updated", id)
	}
	return out
}

// Create appends a new scene holding entityIDs captured from snapshot. Every
// entity must be present in the snapshot.
func (s *Store) Create(ctx context.Context, id, name string, entityIDs []string, snapshot merge.Snapshot) Outcome {
	if id == "" {
		return Outcome{Message: "scene id is required", Phase: PhaseIdle}
	}
	out := s.run(ctx, "create", id, func(doc *scenefile.Document) ([]string, bool, error) {
		if _, exists := doc.Find(id); exists {
			return nil, false, fmt.Errorf("scene %s: %w", id, ErrExists)
		}
		record := scenefile.NewRecord(id, name)
		for _, entityID := range entityIDs {
			capture, ok := snapshot[entityID]
			if !ok {
				return nil, false, fmt.Errorf("entity %s is not in the snapshot", entityID)
			}
			entry, err := s.engine.MergeEntry(entityID, nil, capture)
			if err != nil {
				return nil, false, err
			}
			record.SetEntry(entityID, entry)
		}
		doc.Append(record)
		return append([]string(nil), entityIDs...), true, nil
	})
	if out.Success {
		out.Message = fmt.Sprintf("Scene %s created", id)
	}
	return out
}

// Migrate rewrites every flat entity entry into the nested shape and returns
// the converted entries as "scene_id/entity_id". The file is left alone when
// nothing needs converting.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	out := s.run(ctx, "migrate", "", func(doc *scenefile.Document) ([]string, bool, error) {
		converted := doc.NestFlatEntries()
		return converted, len(converted) > 0, nil
	})
	if !out.Success {
		return nil, errors.New(out.Message)
	}
	return out.Updated, nil
}

// mutation edits doc in place. dirty reports whether the document must be
// written back.
type mutation func(doc *scenefile.Document) (changed []string, dirty bool, err error)

func (s *Store) run(ctx context.Context, operation, sceneID string, apply mutation) (out Outcome) {
	logger := logging.WithContext(ctx, s.logger).With(logging.String("operation", operation))
	if sceneID != "" {
		logger = logger.With(logging.String(logging.FieldSceneID, sceneID))
	}

	defer func() {
		if out.Success {
			out.Phase = PhaseSucceeded
			s.trace(logger, PhaseSucceeded)
			logger.Info("scene store mutation completed",
				logging.String(logging.FieldEventType, "scene_"+operation+"_succeeded"),
				logging.Int("changed", len(out.Updated)),
			)
		} else {
			s.trace(logger, PhaseFailed)
			s.logFailure(logger, operation, out)
		}
		s.metrics.observeOutcome(operation, out)
	}()

	s.trace(logger, PhaseLocking)
	waitStart := time.Now()
	release, err := s.locks.Acquire(ctx)
	s.metrics.observeLockWait(time.Since(waitStart))
	if err != nil {
		return failure(sceneID, PhaseLocking, err)
	}
	return s.locked(ctx, logger, sceneID, apply, release)
}

func (s *Store) locked(ctx context.Context, logger *slog.Logger, sceneID string, apply mutation, release func()) (out Outcome) {
	phase := PhaseLoading
	defer func() {
		if r := recover(); r != nil {
			out = failure(sceneID, phase, fmt.Errorf("panic: %v", r))
		}
	}()
	defer func() {
		s.trace(logger, PhaseUnlocking)
		release()
	}()

	s.trace(logger, PhaseLoading)
	doc, err := scenefile.Load(s.path, logger)
	if err != nil {
		return failure(sceneID, phase, err)
	}

	phase = PhaseMerging
	s.trace(logger, phase)
	changed, dirty, err := apply(doc)
	if errors.Is(err, ErrNotFound) {
		return Outcome{
			Message:  fmt.Sprintf("Scene %s not found", sceneID),
			NotFound: true,
			SceneID:  sceneID,
			Phase:    phase,
		}
	}
	if err != nil {
		return failure(sceneID, phase, err)
	}
	if !dirty {
		logger.Debug("nothing changed; document left untouched")
		return Outcome{Success: true, SceneID: sceneID}
	}

	phase = PhaseWriting
	s.trace(logger, phase)
	data, err := doc.Encode()
	if err != nil {
		return failure(sceneID, phase, err)
	}
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	if err := ctx.Err(); err != nil {
		return failure(sceneID, phase, fmt.Errorf("cancelled before write: %w", err))
	}
	writeStart := time.Now()
	if err := s.writer.WriteFile(s.path, data, s.perm); err != nil {
		return failure(sceneID, phase, err)
	}
	s.metrics.observeWrite(time.Since(writeStart), len(data))

	return Outcome{Success: true, SceneID: sceneID, Updated: changed}
}

func failure(sceneID string, phase Phase, err error) Outcome {
	return Outcome{
		Message: fmt.Sprintf("%s failed: %v", phase, err),
		SceneID: sceneID,
		Phase:   phase,
	}
}

func (s *Store) trace(logger *slog.Logger, phase Phase) {
	logger.Debug("scene store phase", logging.String("phase", string(phase)))
	if s.onPhase != nil {
		s.onPhase(phase)
	}
}

func (s *Store) logFailure(logger *slog.Logger, operation string, out Outcome) {
	if out.NotFound {
		logger.Info("scene not found",
			logging.String(logging.FieldEventType, "scene_not_found"),
		)
		return
	}
	logging.ErrorWithContext(logger, "scene store mutation failed", "scene_"+operation+"_failed",
		logging.String("phase", string(out.Phase)),
		logging.String("reason", out.Message),
		logging.String(logging.FieldErrorHint, "the scenes file was left unchanged; fix the cause and retry"),
	)
}
