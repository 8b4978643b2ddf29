package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"sceneplus/internal/api"
	"sceneplus/internal/capture"
	"sceneplus/internal/daemon"
	"sceneplus/internal/testsupport"
)

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(daemon.Options{}); err == nil {
		t.Fatal("expected error without dependencies")
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.WriteScenes(t, cfg, "- id: a\n  entities: {}\n")
	store := testsupport.NewSceneStore(t, cfg)
	svc := api.NewSceneService(api.ServiceOptions{Store: store, Resolver: capture.DirectResolver{}})

	d, err := daemon.New(daemon.Options{Config: cfg, Store: store, Service: svc})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.StartedAt == "" || status.SceneCount != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := daemon.New(daemon.Options{Config: cfg, Store: store, Service: svc})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected second instance to be refused by the daemon lock")
	}

	addr := d.APIAddress()
	if addr == "" {
		t.Fatal("expected api server to be listening")
	}
	resp, err := http.Get("http://" + addr + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var payload api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !payload.Running {
		t.Fatalf("expected running status over HTTP, got %+v", payload)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}
