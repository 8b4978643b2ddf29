package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sceneplus/internal/capture"
	"sceneplus/internal/journal"
	"sceneplus/internal/logging"
	"sceneplus/internal/merge"
	"sceneplus/internal/scenefile"
	"sceneplus/internal/scenestore"
)

const (
	errEntityRequired  = "entity_id is required"
	errSceneNotFound   = "Scene not found for entity"
	errServiceDisabled = "scene service is not available"
)

// SceneStore is the part of the scene store the dispatch layer needs.
type SceneStore interface {
	LookupEntities(ctx context.Context, id string) (scenefile.EntitySet, error)
	Update(ctx context.Context, id string, snapshot merge.Snapshot) scenestore.Outcome
}

// Journal records update attempts. *journal.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) (journal.Entry, error)
	List(ctx context.Context, limit int) ([]journal.Entry, error)
}

// ServiceOptions wires a SceneService. Store and Resolver are required;
// without Provider updates fail and without Reloader reloads fail.
type ServiceOptions struct {
	Store    SceneStore
	Provider capture.StateProvider
	Resolver capture.Resolver
	Reloader capture.Reloader
	Journal  Journal
	Logger   *slog.Logger
}

// SceneService implements the named scene operations shared by the IPC and
// HTTP transports.
type SceneService struct {
	store    SceneStore
	provider capture.StateProvider
	resolver capture.Resolver
	reloader capture.Reloader
	journal  Journal
	logger   *slog.Logger
	newID    func() string
}

// NewSceneService constructs a SceneService. It returns nil when no store is
// supplied; the methods of a nil service report the service as unavailable.
func NewSceneService(opts ServiceOptions) *SceneService {
	if opts.Store == nil {
		return nil
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = capture.DirectResolver{}
	}
	return &SceneService{
		store:    opts.Store,
		provider: opts.Provider,
		resolver: resolver,
		reloader: opts.Reloader,
		journal:  opts.Journal,
		logger:   logging.NewComponentLogger(opts.Logger, "scene-service"),
		newID:    uuid.NewString,
	}
}

// GetEntities lists the entity ids of the scene controlled by the first
// requested entity.
func (s *SceneService) GetEntities(ctx context.Context, req EntityRequest) GetEntitiesResponse {
	if s == nil {
		return GetEntitiesResponse{Error: errServiceDisabled, Entities: []string{}}
	}
	ctx, requestID := s.begin(ctx)
	logger := logging.WithContext(ctx, s.logger)
	resp := GetEntitiesResponse{Entities: []string{}, RequestID: requestID}

	entityID, ok := firstEntity(req)
	if !ok {
		resp.Error = errEntityRequired
		return resp
	}
	logger = logger.With(logging.String(logging.FieldEntityID, entityID))

	sceneID, err := s.resolver.Resolve(ctx, entityID)
	if errors.Is(err, capture.ErrNotFound) {
		logger.Debug("entity does not map to a scene")
		resp.Success = true
		return resp
	}
	if err != nil {
		logging.WarnWithContext(logger, "scene lookup failed", "scene_resolve_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the Home Assistant url and token"),
			logging.String(logging.FieldImpact, "entity list unavailable"),
		)
		resp.Error = fmt.Sprintf("resolve %s: %v", entityID, err)
		return resp
	}
	resp.SceneID = &sceneID

	set, err := s.store.LookupEntities(ctx, sceneID)
	switch {
	case errors.Is(err, scenestore.ErrNotFound):
		resp.Success = true
	case err != nil:
		logging.WarnWithContext(logger, "reading scenes document failed", "scene_lookup_failed",
			logging.String(logging.FieldSceneID, sceneID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "repair the scenes file"),
			logging.String(logging.FieldImpact, "entity list unavailable"),
		)
		resp.Error = err.Error()
	default:
		resp.Success = true
		resp.Entities = append(resp.Entities, set.IDs...)
	}
	return resp
}

// Update captures the current state of every entity and merges it into the
// scene controlled by the first requested entity.
func (s *SceneService) Update(ctx context.Context, req EntityRequest) UpdateResponse {
	if s == nil {
		return UpdateResponse{Error: errServiceDisabled}
	}
	ctx, requestID := s.begin(ctx)
	logger := logging.WithContext(ctx, s.logger)

	entityID, ok := firstEntity(req)
	if !ok {
		return UpdateResponse{Error: errEntityRequired, RequestID: requestID}
	}
	logger = logger.With(logging.String(logging.FieldEntityID, entityID))
	started := time.Now()

	resp := s.update(ctx, logger, entityID)
	resp.RequestID = requestID
	s.record(ctx, logger, entityID, resp)

	logger.Info("scene update handled",
		logging.String(logging.FieldEventType, "scene_update_handled"),
		logging.String(logging.FieldSceneID, resp.SceneID),
		logging.Bool("success", resp.Success),
		logging.Int("updated", len(resp.Updated)),
		logging.Duration("duration", time.Since(started)),
	)
	return resp
}

func (s *SceneService) update(ctx context.Context, logger *slog.Logger, entityID string) UpdateResponse {
	sceneID, err := s.resolver.Resolve(ctx, entityID)
	if errors.Is(err, capture.ErrNotFound) {
		return UpdateResponse{Error: errSceneNotFound, NotFound: true}
	}
	if err != nil {
		return UpdateResponse{Error: fmt.Sprintf("resolve %s: %v", entityID, err)}
	}
	if s.provider == nil {
		return UpdateResponse{Error: "no state provider configured", SceneID: sceneID}
	}

	snapshot, err := s.provider.SnapshotAll(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "state capture failed", "state_capture_failed",
			logging.String(logging.FieldSceneID, sceneID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the Home Assistant url and token"),
			logging.String(logging.FieldImpact, "scene was not updated"),
		)
		return UpdateResponse{Error: fmt.Sprintf("capture states: %v", err), SceneID: sceneID}
	}
	logger.Debug("captured states", logging.Int("entities", len(snapshot)))

	return FromOutcome(s.store.Update(ctx, sceneID, snapshot))
}

// Reload asks the host to re-read the scenes document.
func (s *SceneService) Reload(ctx context.Context) ReloadResponse {
	if s == nil {
		return ReloadResponse{Error: errServiceDisabled}
	}
	ctx, requestID := s.begin(ctx)
	resp := ReloadResponse{RequestID: requestID}
	if s.reloader == nil {
		resp.Error = "scene reload is not configured"
		return resp
	}
	if err := s.reloader.ReloadScenes(ctx); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "scene reload failed", "scene_reload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "reload scenes from Home Assistant manually"),
			logging.String(logging.FieldImpact, "Home Assistant still serves the previous scenes"),
		)
		resp.Error = err.Error()
		return resp
	}
	resp.Success = true
	return resp
}

// History returns up to limit journal entries, newest first. It returns an
// empty response when the journal is disabled.
func (s *SceneService) History(ctx context.Context, limit int) (HistoryResponse, error) {
	if s == nil || s.journal == nil {
		return HistoryResponse{Entries: []HistoryEntry{}}, nil
	}
	entries, err := s.journal.List(ctx, limit)
	if err != nil {
		return HistoryResponse{}, err
	}
	return HistoryResponse{Entries: FromJournalEntries(entries)}, nil
}

// begin reuses an existing correlation id or assigns a new one.
func (s *SceneService) begin(ctx context.Context) (context.Context, string) {
	if id, ok := logging.RequestIDFromContext(ctx); ok {
		return ctx, id
	}
	id := s.newID()
	return logging.WithRequestID(ctx, id), id
}

func (s *SceneService) record(ctx context.Context, logger *slog.Logger, entityID string, resp UpdateResponse) {
	if s.journal == nil {
		return
	}
	message := resp.Message
	if message == "" {
		message = resp.Error
	}
	_, err := s.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		RequestID:      resp.RequestID,
		Operation:      "update",
		ClientEntityID: entityID,
		SceneID:        resp.SceneID,
		Success:        resp.Success,
		NotFound:       resp.NotFound,
		Message:        message,
		UpdatedCount:   len(resp.Updated),
	})
	if err != nil {
		logging.WarnWithContext(logger, "journal write failed", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the journal database path and permissions"),
			logging.String(logging.FieldImpact, "update is missing from history"),
		)
	}
}

func firstEntity(req EntityRequest) (string, bool) {
	if len(req.EntityIDs) == 0 {
		return "", false
	}
	id := strings.TrimSpace(req.EntityIDs[0])
	return id, id != ""
}
