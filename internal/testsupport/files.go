package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"sceneplus/internal/capture"
	"sceneplus/internal/config"
)

// WriteScenes replaces the scenes document of cfg with content and returns
// its path.
func WriteScenes(t testing.TB, cfg *config.Config, content string) string {
	t.Helper()

	path := cfg.ScenesPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ReadScenes returns the current scenes document of cfg.
func ReadScenes(t testing.TB, cfg *config.Config) string {
	t.Helper()

	data, err := os.ReadFile(cfg.ScenesPath())
	if err != nil {
		t.Fatalf("read scenes: %v", err)
	}
	return string(data)
}

// WriteStates writes states as an /api/states style JSON array and returns
// the file path.
func WriteStates(t testing.TB, dir string, states []capture.State) string {
	t.Helper()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		t.Fatalf("marshal states: %v", err)
	}
	path := filepath.Join(dir, "states.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
