package scenestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sceneplus/internal/config"
	"sceneplus/internal/fileutil"
	"sceneplus/internal/filelock"
	"sceneplus/internal/merge"
	"sceneplus/internal/scenefile"
)

const eveningScene = `# living room scenes
- id: "1700000000001"
  name: Evening
  entities:
    light.a:
      state: "off"
      attributes:
        brightness: 10
    light.b:
      state: "on"
      attributes:
        brightness: 255
        color_mode: xy
- id: "1700000000002"
  name: Away
  entities:
    switch.heater:
      state: "off"
      attributes: {}
`

func newTestStore(t *testing.T, content string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return New(Options{Path: path}), path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestLookupEntitiesMissing(t *testing.T) {
	store, _ := newTestStore(t, "")
	if _, err := store.LookupEntities(context.Background(), "missing-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent file: expected ErrNotFound, got %v", err)
	}

	store, _ = newTestStore(t, eveningScene)
	if _, err := store.LookupEntities(context.Background(), "missing-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no matching id: expected ErrNotFound, got %v", err)
	}
}

func TestLookupEntities(t *testing.T) {
	store, _ := newTestStore(t, eveningScene)
	set, err := store.LookupEntities(context.Background(), "1700000000001")
	if err != nil {
		t.Fatalf("LookupEntities: %v", err)
	}
	if !reflect.DeepEqual(set.IDs, []string{"light.a", "light.b"}) {
		t.Fatalf("unexpected ids %v", set.IDs)
	}
	if set.Entries["light.b"].Attributes["color_mode"] != "xy" {
		t.Fatalf("unexpected entry %+v", set.Entries["light.b"])
	}
}

func TestLookupEntitiesCorrupt(t *testing.T) {
	store, _ := newTestStore(t, "scenes: not a list\n")
	if _, err := store.LookupEntities(context.Background(), "x"); !errors.Is(err, scenefile.ErrCorruptDocument) {
		t.Fatalf("expected ErrCorruptDocument, got %v", err)
	}
}

func TestUpdateMergesCapturedEntitiesOnly(t *testing.T) {
	store, path := newTestStore(t, eveningScene)
	before, err := store.LookupEntities(context.Background(), "1700000000001")
	if err != nil {
		t.Fatal(err)
	}

	out := store.Update(context.Background(), "1700000000001", merge.Snapshot{
		"light.a":     {State: "on", Attributes: map[string]any{"brightness": 128, "device_id": "d1", "area_id": "lounge"}},
		"light.extra": {State: "on", Attributes: map[string]any{"brightness": 1}},
	})
	if !out.Success {
		t.Fatalf("Update failed: %+v", out)
	}
	if out.Message != "Scene 1700000000001 updated" {
		t.Fatalf("unexpected message %q", out.Message)
	}
	if !reflect.DeepEqual(out.Updated, []string{"light.a"}) || out.Phase != PhaseSucceeded {
		t.Fatalf("unexpected outcome %+v", out)
	}

	after, err := store.LookupEntities(context.Background(), "1700000000001")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after.IDs, []string{"light.a", "light.b"}) {
		t.Fatalf("entity set changed: %v", after.IDs)
	}
	if !reflect.DeepEqual(after.Entries["light.b"], before.Entries["light.b"]) {
		t.Fatalf("light.b changed: %+v", after.Entries["light.b"])
	}
	a := after.Entries["light.a"]
	if a.State != "on" || !reflect.DeepEqual(a.Attributes, map[string]any{"brightness": 128}) {
		t.Fatalf("light.a not merged: %+v", a)
	}

	content := readFile(t, path)
	for _, want := range []string{"# living room scenes", "name: Away", "switch.heater"} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %q to survive the rewrite:\n%s", want, content)
		}
	}
	if strings.Contains(content, "light.extra") || strings.Contains(content, "device_id") {
		t.Fatalf("unexpected content written:\n%s", content)
	}
}

func TestUpdateNotFoundDoesNotWrite(t *testing.T) {
	store, path := newTestStore(t, eveningScene)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	out := store.Update(context.Background(), "nope", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || !out.NotFound {
		t.Fatalf("expected not-found outcome, got %+v", out)
	}
	if out.Message != "Scene nope not found" {
		t.Fatalf("unexpected message %q", out.Message)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(info.ModTime()) || readFile(t, path) != eveningScene {
		t.Fatal("document rewritten on not-found")
	}

	missing, missingPath := newTestStore(t, "")
	if out := missing.Update(context.Background(), "nope", nil); !out.NotFound {
		t.Fatalf("expected not-found for absent file, got %+v", out)
	}
	if _, err := os.Stat(missingPath); !os.IsNotExist(err) {
		t.Fatal("update must not create the document on not-found")
	}
}

func TestUpdateCorruptDocumentFails(t *testing.T) {
	corrupt := "scenes:\n  - id: a\n"
	store, path := newTestStore(t, corrupt)
	out := store.Update(context.Background(), "a", merge.Snapshot{})
	if out.Success || out.NotFound {
		t.Fatalf("expected failure, got %+v", out)
	}
	if out.Phase != PhaseLoading || !strings.Contains(out.Message, "corrupt") {
		t.Fatalf("unexpected failure %+v", out)
	}
	if readFile(t, path) != corrupt {
		t.Fatal("corrupt document must be left untouched")
	}
}

func TestUpdateWriteFailureLeavesFileAndReleasesLock(t *testing.T) {
	store, path := newTestStore(t, eveningScene)
	store.writer = fileutil.AtomicWriter{BeforeStep: func(step fileutil.Step) error {
		if step == fileutil.StepRename {
			return errors.New("disk full")
		}
		return nil
	}}

	out := store.Update(context.Background(), "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || out.NotFound || out.Phase != PhaseWriting {
		t.Fatalf("expected write failure, got %+v", out)
	}
	if !strings.HasPrefix(out.Message, "writing failed:") || !strings.Contains(out.Message, "disk full") {
		t.Fatalf("unexpected message %q", out.Message)
	}
	if readFile(t, path) != eveningScene {
		t.Fatal("document changed after failed write")
	}

	store.writer = fileutil.AtomicWriter{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if out := store.Update(ctx, "1700000000001", merge.Snapshot{"light.a": {State: "on"}}); !out.Success {
		t.Fatalf("lock not released after failure: %+v", out)
	}
}

func TestUpdateRecoversPanic(t *testing.T) {
	store, path := newTestStore(t, eveningScene)
	store.beforeWrite = func() { panic("boom") }

	out := store.Update(context.Background(), "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || !strings.Contains(out.Message, "panic: boom") || out.Phase != PhaseWriting {
		t.Fatalf("expected recovered panic, got %+v", out)
	}
	if readFile(t, path) != eveningScene {
		t.Fatal("document changed after panic")
	}

	store.beforeWrite = nil
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if out := store.Update(ctx, "1700000000001", merge.Snapshot{"light.a": {State: "on"}}); !out.Success {
		t.Fatalf("lock not released after panic: %+v", out)
	}
}

func TestUpdateCancelledBeforeWrite(t *testing.T) {
	store, path := newTestStore(t, eveningScene)
	ctx, cancel := context.WithCancel(context.Background())
	store.beforeWrite = cancel

	out := store.Update(ctx, "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || !strings.Contains(out.Message, "context canceled") {
		t.Fatalf("expected cancellation failure, got %+v", out)
	}
	if readFile(t, path) != eveningScene {
		t.Fatal("document changed after cancellation")
	}
}

func TestUpdatePhaseSequence(t *testing.T) {
	cases := []struct {
		name string
		id   string
		want []Phase
	}{
		{"success", "1700000000001", []Phase{PhaseLocking, PhaseLoading, PhaseMerging, PhaseWriting, PhaseUnlocking, PhaseSucceeded}},
		{"not found", "missing", []Phase{PhaseLocking, PhaseLoading, PhaseMerging, PhaseUnlocking, PhaseFailed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newTestStore(t, eveningScene)
			var got []Phase
			store.onPhase = func(p Phase) { got = append(got, p) }
			store.Update(context.Background(), tc.id, merge.Snapshot{"light.a": {State: "on"}})
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("phases = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUpdateWaitingForLockHonoursContext(t *testing.T) {
	locks := filelock.NewManager(nil, nil)
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	if err := os.WriteFile(path, []byte(eveningScene), 0o644); err != nil {
		t.Fatal(err)
	}
	store := New(Options{Path: path, Locks: locks})

	release, err := locks.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := store.Update(ctx, "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || out.Phase != PhaseLocking {
		t.Fatalf("expected locking failure, got %+v", out)
	}
}

func TestUpdateFailsWhileAdvisoryLockHeldElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	if err := os.WriteFile(path, []byte(eveningScene), 0o644); err != nil {
		t.Fatal(err)
	}
	holder := filelock.NewAdvisory(path, true, 0, nil)
	if !holder.Supported() {
		t.Skip("flock not supported on this platform")
	}
	unlock, err := holder.Lock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = unlock() }()

	store := New(Options{
		Path:  path,
		Locks: filelock.NewManager(filelock.NewAdvisory(path, true, 50*time.Millisecond, nil), nil),
	})
	out := store.Update(context.Background(), "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || out.Phase != PhaseLocking {
		t.Fatalf("expected locking failure while the lock is held, got %+v", out)
	}
	if !strings.Contains(out.Message, "held by another process") {
		t.Fatalf("unexpected message %q", out.Message)
	}
	if got := readFile(t, path); got != eveningScene {
		t.Fatalf("scenes file changed while locked elsewhere:\n%s", got)
	}
}

func TestUpdateRejectsMultiDocumentFile(t *testing.T) {
	content := eveningScene + "---\n- id: second\n  entities:\n    light.z:\n      state: \"on\"\n      attributes: {}\n"
	store, path := newTestStore(t, content)

	out := store.Update(context.Background(), "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	if out.Success || out.Phase != PhaseLoading {
		t.Fatalf("expected loading failure, got %+v", out)
	}
	if got := readFile(t, path); got != content {
		t.Fatalf("multi-document file was rewritten:\n%s", got)
	}
	if _, err := store.LookupEntities(context.Background(), "second"); !errors.Is(err, scenefile.ErrCorruptDocument) {
		t.Fatalf("expected ErrCorruptDocument, got %v", err)
	}
}

func TestLookupEntitiesKeepsMalformedEntryIDs(t *testing.T) {
	store, _ := newTestStore(t, `- id: s
  entities:
    light.a:
      state: "on"
      attributes: {}
    light.b: [not, a mapping]
`)
	set, err := store.LookupEntities(context.Background(), "s")
	if err != nil {
		t.Fatalf("LookupEntities: %v", err)
	}
	if !reflect.DeepEqual(set.IDs, []string{"light.a", "light.b"}) {
		t.Fatalf("unexpected ids %v", set.IDs)
	}
	if set.Entries["light.a"].State != "on" {
		t.Fatalf("valid entry lost: %+v", set.Entries["light.a"])
	}
}

// Each update captures a different entity, so any interleaving of two
// read-modify-write cycles would lose one of them.
func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	const n = 12
	var b strings.Builder
	b.WriteString("- id: busy\n  entities:\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "    light.l%02d:\n      state: \"off\"\n      attributes: {}\n", i)
	}
	store, _ := newTestStore(t, b.String())

	var active, maxActive, writes int32
	store.beforeWrite = func() {
		cur := atomic.AddInt32(&active, 1)
		for {
			prev := atomic.LoadInt32(&maxActive)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&writes, 1)
		atomic.AddInt32(&active, -1)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("light.l%02d", i)
			out := store.Update(context.Background(), "busy", merge.Snapshot{
				id: {State: "on", Attributes: map[string]any{"order": i}},
			})
			if !out.Success {
				t.Errorf("update %d failed: %+v", i, out)
			}
		}(i)
	}
	wg.Wait()

	if writes != n {
		t.Fatalf("expected %d writes, got %d", n, writes)
	}
	if maxActive != 1 {
		t.Fatalf("critical sections overlapped: max %d concurrent writers", maxActive)
	}
	set, err := store.LookupEntities(context.Background(), "busy")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		entry := set.Entries[fmt.Sprintf("light.l%02d", i)]
		if entry.State != "on" || entry.Attributes["order"] != i {
			t.Fatalf("update %d lost: %+v", i, entry)
		}
	}
}

func TestLookupDuringUpdateSeesCompleteDocument(t *testing.T) {
	store, _ := newTestStore(t, eveningScene)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			set, err := store.LookupEntities(context.Background(), "1700000000001")
			if err != nil {
				t.Errorf("lookup during update: %v", err)
				return
			}
			if len(set.IDs) != 2 {
				t.Errorf("torn read: %v", set.IDs)
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		out := store.Update(context.Background(), "1700000000001", merge.Snapshot{
			"light.a": {State: "on", Attributes: map[string]any{"brightness": i}},
		})
		if !out.Success {
			t.Fatalf("update %d: %+v", i, out)
		}
	}
	close(stop)
	wg.Wait()
}

func TestCreateAndMigrate(t *testing.T) {
	flat := "- id: legacy\n  entities:\n    light.x:\n      state: \"on\"\n      brightness: 7\n"
	store, path := newTestStore(t, flat)

	snapshot := merge.Snapshot{
		"light.x": {State: "off", Attributes: map[string]any{"brightness": 0, "zone_id": "z"}},
		"light.y": {State: "on", Attributes: map[string]any{"brightness": 3}},
	}
	out := store.Create(context.Background(), "fresh", "Fresh", []string{"light.y", "light.x"}, snapshot)
	if !out.Success || out.Message != "Scene fresh created" {
		t.Fatalf("Create: %+v", out)
	}
	set, err := store.LookupEntities(context.Background(), "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(set.IDs, []string{"light.y", "light.x"}) {
		t.Fatalf("unexpected ids %v", set.IDs)
	}
	if _, excluded := set.Entries["light.x"].Attributes["zone_id"]; excluded {
		t.Fatal("excluded attribute written on create")
	}

	if out := store.Create(context.Background(), "fresh", "", nil, snapshot); out.Success || !strings.Contains(out.Message, "already exists") {
		t.Fatalf("expected duplicate failure, got %+v", out)
	}
	if out := store.Create(context.Background(), "other", "", []string{"light.z"}, snapshot); out.Success {
		t.Fatalf("expected missing-entity failure, got %+v", out)
	}
	if out := store.Create(context.Background(), "", "", nil, snapshot); out.Success {
		t.Fatal("expected failure for empty id")
	}

	converted, err := store.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !reflect.DeepEqual(converted, []string{"legacy/light.x"}) {
		t.Fatalf("unexpected migration result %v", converted)
	}
	content := readFile(t, path)
	if !strings.Contains(content, "attributes:") {
		t.Fatalf("migration not written:\n%s", content)
	}

	again, err := store.Migrate(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second migration: %v %v", again, err)
	}
	if readFile(t, path) != content {
		t.Fatal("no-op migration rewrote the file")
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	path := filepath.Join(t.TempDir(), "scenes.yaml")
	if err := os.WriteFile(path, []byte(eveningScene), 0o644); err != nil {
		t.Fatal(err)
	}
	store := New(Options{Path: path, Metrics: metrics})

	store.Update(context.Background(), "1700000000001", merge.Snapshot{"light.a": {State: "on"}})
	store.Update(context.Background(), "missing", nil)

	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("update", "succeeded")); got != 1 {
		t.Fatalf("succeeded = %v", got)
	}
	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("update", "not_found")); got != 1 {
		t.Fatalf("not_found = %v", got)
	}
	if got := testutil.CollectAndCount(metrics.writeDuration); got != 1 {
		t.Fatalf("expected write histogram to be collected, got %d", got)
	}

	var nilMetrics *Metrics
	nilMetrics.observeOutcome("update", Outcome{Success: true})
	nilMetrics.observeLockWait(time.Second)
	nilMetrics.observeWrite(time.Second, 10)
}

func TestNewFromConfigUsesAdvisoryLock(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ConfigDir = t.TempDir()
	cfg.Scenes.ExcludeAttributes = []string{"friendly_name"}
	if err := os.WriteFile(cfg.ScenesPath(), []byte(eveningScene), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFromConfig(&cfg, nil, nil)
	if store.Path() != cfg.ScenesPath() {
		t.Fatalf("path = %q", store.Path())
	}
	if store.CrossProcessLocking() != filelock.NewAdvisory(cfg.ScenesPath(), true, time.Second, nil).Supported() {
		t.Fatal("cross-process locking should follow platform support")
	}

	out := store.Update(context.Background(), "1700000000001", merge.Snapshot{
		"light.a": {State: "on", Attributes: map[string]any{"friendly_name": "A", "device_id": "d1"}},
	})
	if !out.Success {
		t.Fatalf("update failed: %+v", out)
	}
	content := readFile(t, cfg.ScenesPath())
	if strings.Contains(content, "friendly_name") || !strings.Contains(content, "device_id: d1") {
		t.Fatalf("configured exclusions not applied:\n%s", content)
	}

	cfg.Scenes.AdvisoryLock = false
	if NewFromConfig(&cfg, nil, nil).CrossProcessLocking() {
		t.Fatal("advisory lock disabled by configuration")
	}
}
