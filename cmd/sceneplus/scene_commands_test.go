package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"sceneplus/internal/capture"
	"sceneplus/internal/testsupport"
)

func TestSceneShowCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "scene", "show", "evening")
	if err != nil {
		t.Fatalf("scene show: %v", err)
	}
	requireContains(t, out, "Scene evening")
	requireContains(t, out, "light.a")
	requireContains(t, out, "Off")
	requireContains(t, out, "brightness")

	if _, err := env.run(t, "scene", "show", "missing"); err == nil {
		t.Fatal("expected unknown scene to fail")
	}
}

func TestSceneShowCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "--json", "scene", "show", "morning")
	if err != nil {
		t.Fatalf("scene show: %v", err)
	}
	var view sceneView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if view.SceneID != "morning" || len(view.Entities) != 1 || view.Entities[0].State != "on" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestSceneCaptureCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "scene", "capture", "morning", "--snapshot", env.statesPath)
	if err != nil {
		t.Fatalf("scene capture: %v", err)
	}
	requireContains(t, out, "Scene morning updated")

	content := testsupport.ReadScenes(t, env.cfg)
	morning := content[strings.Index(content, "id: morning"):]
	requireContains(t, morning, `state: "off"`)
}

func TestSceneCaptureRequiresProvider(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "scene", "capture", "morning")
	if err == nil {
		t.Fatal("expected capture without a provider to fail")
	}
	requireContains(t, err.Error(), "no state provider configured")
}

func TestSceneCreateCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "scene", "create", "night", "--name", "Night", "-e", "light.a", "-e", "light.b", "--snapshot", env.statesPath)
	if err != nil {
		t.Fatalf("scene create: %v", err)
	}
	requireContains(t, out, "Scene night created")

	content := testsupport.ReadScenes(t, env.cfg)
	requireContains(t, content, "id: night")
	requireContains(t, content, "name: Night")
	if strings.Contains(content, "device_id") {
		t.Fatalf("excluded attribute written:\n%s", content)
	}

	if _, err := env.run(t, "scene", "create", "night", "-e", "light.a", "--snapshot", env.statesPath); err == nil {
		t.Fatal("expected duplicate scene to fail")
	}
}

func TestSceneCreateRejectsUnknownEntity(t *testing.T) {
	env := setupCLITestEnv(t)
	before := testsupport.ReadScenes(t, env.cfg)

	_, err := env.run(t, "scene", "create", "night", "-e", "light.unknown", "--snapshot", env.statesPath)
	if err == nil {
		t.Fatal("expected unknown entity to fail")
	}
	requireContains(t, err.Error(), "light.unknown")
	if after := testsupport.ReadScenes(t, env.cfg); after != before {
		t.Fatalf("scenes file changed on failure:\n%s", after)
	}
}

func TestSceneCreateRequiresEntities(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "scene", "create", "night", "--snapshot", env.statesPath)
	if err == nil {
		t.Fatal("expected error")
	}
	requireContains(t, err.Error(), "--entity")
}

func TestMigrateCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteScenes(t, env.cfg, `- id: legacy
  entities:
    light.c:
      state: "on"
      brightness: 5
`)

	out, err := env.run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	requireContains(t, out, "Converted 1 entries")
	requireContains(t, out, "legacy/light.c")
	requireContains(t, testsupport.ReadScenes(t, env.cfg), "attributes:")

	out, err = env.run(t, "migrate")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	requireContains(t, out, "No flat entries found")
}

func TestHistoryCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "update", "evening"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.run(t, "update", "missing"); err == nil {
		t.Fatal("expected failure")
	}

	out, err := env.run(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Succeeded")
	requireContains(t, out, "Not Found")
	requireContains(t, out, "Scene evening updated")

	out, err = env.run(t, "--json", "history", "--limit", "1")
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var resp struct {
		Entries []struct {
			SceneID string `json:"scene_id"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].SceneID != "missing" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}
}

func TestHistoryCommandJournalDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, _, err := runCLI(t, []string{"history"}, "", configPath)
	if err == nil {
		t.Fatal("expected error")
	}
	requireContains(t, err.Error(), "journal is disabled")
}

func TestSceneCaptureFromStatesFile(t *testing.T) {
	env := setupCLITestEnv(t)
	states := testsupport.WriteStates(t, t.TempDir(), []capture.State{
		{EntityID: "light.a", State: "on", Attributes: map[string]any{"brightness": 42, "area_id": "den"}},
	})

	if _, err := env.run(t, "scene", "capture", "evening", "--snapshot", states); err != nil {
		t.Fatalf("scene capture: %v", err)
	}
	content := testsupport.ReadScenes(t, env.cfg)
	requireContains(t, content, "brightness: 42")
	if strings.Contains(content, "area_id") {
		t.Fatalf("excluded attribute written:\n%s", content)
	}
}
