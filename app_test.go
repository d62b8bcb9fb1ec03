package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/config"
	"github.com/chazu/meshdiff/pkg/logging"
	"github.com/chazu/meshdiff/pkg/mesh"
	"github.com/chazu/meshdiff/pkg/meshio"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type recordedEvent struct {
	name string
	data any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) emit(name string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name, data})
}

func (r *recorder) named(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.data)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// grid is a 2x5 vertex strip spaced 0.1 apart; columns 3 and 4 are raised
// by lift.
func grid(lift float32) *mesh.Mesh {
	m := &mesh.Mesh{Name: "grid"}
	for row := 0; row < 2; row++ {
		for col := 0; col < 5; col++ {
			z := float32(0)
			if col >= 3 {
				z = lift
			}
			m.Vertices = append(m.Vertices, float32(col)*0.1, float32(row)*0.1, z)
			m.Normals = append(m.Normals, 0, 0, 1)
		}
	}
	for c := uint32(0); c < 4; c++ {
		m.Indices = append(m.Indices, c, c+1, c+5, c+1, c+6, c+5)
	}
	return m
}

func stlBytes(t *testing.T, m *mesh.Mesh) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := meshio.WriteSTL(&buf, m); err != nil {
		t.Fatalf("WriteSTL: %v", err)
	}
	return buf.Bytes()
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *recorder) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	rec := &recorder{}
	app := newApp(cfg, logging.Discard(), rec.emit)
	t.Cleanup(func() { app.shutdown(context.Background()) })
	return app, rec
}

func keys(objs []SceneObject) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Key
	}
	return out
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

// TestE2EMatch drives the bindings the frontend uses: load both sides,
// match, then turn the overlay on and off.
func TestE2EMatch(t *testing.T) {
	app, rec := newTestApp(t, nil)

	if res := app.Load("a", "a.stl", stlBytes(t, grid(0))); !res.OK {
		t.Fatalf("load A: %s", res.Message)
	}
	if res := app.Load("B", "b.stl", stlBytes(t, grid(5))); !res.OK {
		t.Fatalf("load B: %s", res.Message)
	}
	if got := len(rec.named(EventSceneAdd)); got != 2 {
		t.Fatalf("expected 2 scene:add events after loading, got %d", got)
	}

	res := app.Match(0.05)
	if !res.OK {
		t.Fatalf("match: %s", res.Message)
	}
	if !strings.Contains(res.Message, "A: 60.0% matching (6/10)") {
		t.Errorf("unexpected match message %q", res.Message)
	}

	want := []string{"A/base", "A/match-only", "B/base", "B/match-only"}
	if got := keys(app.Scene()); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("scene keys = %v, want %v", got, want)
	}
	for _, o := range app.Scene() {
		if o.Kind == "match-only" && len(o.Indices) != 12 {
			t.Errorf("%s: expected 4 matching triangles, got %d indices", o.Key, len(o.Indices))
		}
	}

	app.SetMatchOverlay(true)
	for _, o := range app.Scene() {
		switch o.Kind {
		case "base":
			if o.Visible {
				t.Errorf("%s should be hidden under the overlay", o.Key)
			}
		case "overlay":
			if len(o.Colors) != 30 {
				t.Errorf("%s: expected 30 color floats, got %d", o.Key, len(o.Colors))
			}
		}
	}
	if got := len(app.Scene()); got != 6 {
		t.Errorf("expected 6 objects with the overlay on, got %d", got)
	}

	app.SetMatchOverlay(false)
	if got := len(app.Scene()); got != 4 {
		t.Errorf("expected overlay objects removed, got %d objects", got)
	}
	if len(rec.named(EventSceneRemove)) != 2 {
		t.Errorf("expected 2 scene:remove events, got %d", len(rec.named(EventSceneRemove)))
	}
}

func TestActionsNeedBothMeshes(t *testing.T) {
	app, rec := newTestApp(t, nil)

	for name, action := range map[string]func() ActionResult{
		"align":   app.Align,
		"measure": app.Measure,
		"match":   func() ActionResult { return app.Match(0.1) },
	} {
		res := action()
		if res.OK {
			t.Errorf("%s: expected failure with both slots empty", name)
			continue
		}
		if !strings.Contains(res.Message, "needs both meshes loaded (missing A, B)") {
			t.Errorf("%s: unexpected message %q", name, res.Message)
		}
	}
	if got := len(rec.named(EventStatus)); got != 3 {
		t.Errorf("expected 3 status events, got %d", got)
	}
}

func TestMeasureAndAlign(t *testing.T) {
	app, _ := newTestApp(t, nil)
	app.Load("a", "a.stl", stlBytes(t, grid(0)))
	app.Load("b", "b.stl", stlBytes(t, grid(0.05)))

	res := app.Measure()
	if !res.OK || !strings.HasPrefix(res.Message, "Distance min") {
		t.Fatalf("measure: %+v", res)
	}
	snap := app.Snapshot()
	if snap.Distance == nil || snap.Distance.Max <= 0 {
		t.Fatalf("expected distance stats in snapshot, got %+v", snap.Distance)
	}

	res = app.Align()
	if !res.OK || !strings.Contains(res.Message, "RMSE") {
		t.Fatalf("align: %+v", res)
	}
	if app.Snapshot().Distance != nil {
		t.Error("aligning B must drop distance stats computed against the old B")
	}
}

// ---------------------------------------------------------------------------
// Files on disk
// ---------------------------------------------------------------------------

func TestLoadPathWatchesAndReloads(t *testing.T) {
	cfg := config.Default()
	cfg.Watch.DebounceMS = 20
	app, _ := newTestApp(t, cfg)

	path := filepath.Join(t.TempDir(), "part.stl")
	if err := os.WriteFile(path, stlBytes(t, grid(0)), 0o644); err != nil {
		t.Fatal(err)
	}
	if res := app.LoadPath("a", path); !res.OK {
		t.Fatalf("LoadPath: %s", res.Message)
	}
	snap := app.Snapshot()
	if !snap.A.Loaded || !snap.A.Watching || snap.A.Name != "part.stl" {
		t.Fatalf("unexpected slot A %+v", snap.A)
	}
	if snap.A.Size[2] != 0 {
		t.Fatalf("expected a flat mesh, got size %v", snap.A.Size)
	}

	if err := os.WriteFile(path, stlBytes(t, grid(2)), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for app.Snapshot().A.Size[2] != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("mesh was not reloaded, size %v", app.Snapshot().A.Size)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClearStopsWatching(t *testing.T) {
	app, _ := newTestApp(t, nil)
	path := filepath.Join(t.TempDir(), "part.stl")
	if err := os.WriteFile(path, stlBytes(t, grid(0)), 0o644); err != nil {
		t.Fatal(err)
	}
	app.LoadPath("b", path)

	if res := app.Clear("b"); !res.OK {
		t.Fatalf("clear: %s", res.Message)
	}
	snap := app.Snapshot()
	if snap.B.Loaded || snap.B.Watching {
		t.Errorf("slot B should be empty and unwatched, got %+v", snap.B)
	}
	if w := app.watch.Watched(); len(w) != 0 {
		t.Errorf("watcher still has %v", w)
	}
	if len(app.Scene()) != 0 {
		t.Errorf("expected empty scene, got %v", keys(app.Scene()))
	}
}

func TestLoadPathMissingFile(t *testing.T) {
	app, _ := newTestApp(t, nil)
	res := app.LoadPath("a", filepath.Join(t.TempDir(), "nope.stl"))
	if res.OK || !strings.Contains(res.Message, "parse nope.stl") {
		t.Errorf("unexpected result %+v", res)
	}
	if app.Snapshot().A.Watching {
		t.Error("a failed load must not start watching")
	}
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

func TestRunScript(t *testing.T) {
	app, _ := newTestApp(t, nil)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.stl")
	b := filepath.Join(dir, "b.stl")
	os.WriteFile(a, stlBytes(t, grid(0)), 0o644)
	os.WriteFile(b, stlBytes(t, grid(5)), 0o644)

	src := fmt.Sprintf("(load %q :slot :a)\n(load %q :slot :b)\n(match 0.05)\n(expect-match :a 50)", a, b)
	res := app.RunScript(src)
	if !res.OK {
		t.Fatalf("script failed: %s", res.Error)
	}
	if res.Report == nil || len(res.Report.Steps) != 4 {
		t.Fatalf("unexpected report %+v", res.Report)
	}
	if app.Snapshot().Match == nil {
		t.Error("script match should be visible in the session")
	}

	res = app.RunScript("(expect-match :a 99)")
	if res.OK || !strings.Contains(res.Error, "expectation") {
		t.Errorf("expected a failed expectation, got %+v", res)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestShutdownReleasesScene(t *testing.T) {
	rec := &recorder{}
	app := newApp(config.Default(), logging.Discard(), rec.emit)
	app.Load("a", "a.stl", stlBytes(t, grid(0)))
	rec.reset()

	app.shutdown(context.Background())

	removed := rec.named(EventSceneRemove)
	if len(removed) != 1 || removed[0].(RemoveData).Key != "A/base" {
		t.Errorf("expected A/base removed on shutdown, got %v", removed)
	}
	if len(app.Scene()) != 0 {
		t.Error("scene should be empty after shutdown")
	}
}

func TestStaleResultsAreSilent(t *testing.T) {
	app, rec := newTestApp(t, nil)
	res := app.result("align", "done", fmt.Errorf("align: %w", compare.ErrStaleResult))
	if res.OK || !res.Stale || res.Message != "" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(rec.named(EventStatus)) != 0 {
		t.Error("stale results must not reach the status line")
	}
}
