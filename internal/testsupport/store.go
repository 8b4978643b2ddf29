package testsupport

import (
	"context"
	"testing"

	"sceneplus/internal/config"
	"sceneplus/internal/filelock"
	"sceneplus/internal/journal"
	"sceneplus/internal/merge"
	"sceneplus/internal/scenestore"
)

// NewSceneStore builds a scene store over the scenes document of cfg with an
// in-process lock only.
func NewSceneStore(t testing.TB, cfg *config.Config) *scenestore.Store {
	t.Helper()

	return scenestore.New(scenestore.Options{
		Path:   cfg.ScenesPath(),
		Locks:  filelock.NewManager(nil, nil),
		Engine: merge.NewEngine(cfg.Scenes.ExcludeAttributes, nil),
	})
}

// MustOpenJournal opens the journal database of cfg and registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Store {
	t.Helper()

	store, err := journal.Open(context.Background(), cfg.Journal.Path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
