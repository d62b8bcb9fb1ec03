package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/chazu/meshdiff/pkg/backend"
	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/config"
	"github.com/chazu/meshdiff/pkg/derive"
	"github.com/chazu/meshdiff/pkg/logging"
	"github.com/chazu/meshdiff/pkg/meshio"
	"github.com/chazu/meshdiff/pkg/script"
	"github.com/chazu/meshdiff/pkg/watcher"
	"github.com/chazu/meshdiff/pkg/workflow"
)

// App is the Wails backend. It exposes the comparison actions to the
// frontend via bindings and streams scene changes as events.
type App struct {
	ctx    context.Context
	cfg    *config.Config
	log    *log.Logger
	store  *compare.Store
	scene  *eventScene
	wf     *workflow.Workflow
	runner *script.Runner
	watch  *watcher.FileWatcher

	mu      sync.Mutex
	emit    emitFunc
	watched [2]string
}

// ActionResult is returned by every action binding.
type ActionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	// Stale is set when the result was computed against geometry that has
	// since changed. The frontend ignores such results.
	Stale bool `json:"stale"`
}

// BusyData is the payload of the busy event.
type BusyData struct {
	Action string `json:"action"`
	Busy   bool   `json:"busy"`
}

// SlotData summarises one slot for the frontend.
type SlotData struct {
	Loaded    bool       `json:"loaded"`
	Name      string     `json:"name"`
	Vertices  int        `json:"vertices"`
	Triangles int        `json:"triangles"`
	State     string     `json:"state"`
	Visible   bool       `json:"visible"`
	Watching  bool       `json:"watching"`
	Size      [3]float64 `json:"size"`
}

// SnapshotData is the full operator-visible state.
type SnapshotData struct {
	A         SlotData               `json:"a"`
	B         SlotData               `json:"b"`
	Busy      []string               `json:"busy"`
	Distance  *compare.DistanceStats `json:"distance,omitempty"`
	Match     *compare.MatchStats    `json:"match,omitempty"`
	Threshold float64                `json:"threshold,omitempty"`
	Overlay   bool                   `json:"overlay"`
	Wireframe bool                   `json:"wireframe"`
	Opacity   float64                `json:"opacity"`
}

// ScriptResult is returned by RunScript.
type ScriptResult struct {
	OK     bool           `json:"ok"`
	Report *script.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// NewApp creates an App from the user's config file, falling back to the
// built-in defaults.
func NewApp() *App {
	logger := logging.Default()
	cfg, err := config.Load(defaultConfigPath())
	if err != nil {
		logger.Warn("using default config", "err", err)
		cfg = config.Default()
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	return newApp(cfg, logger, nil)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "meshdiff", "config.toml")
}

// newApp wires an App. emit receives frontend events; nil drops them until
// startup installs the Wails runtime.
func newApp(cfg *config.Config, logger *log.Logger, emit emitFunc) *App {
	a := &App{
		cfg:   cfg,
		log:   logger,
		store: compare.NewStore(),
		scene: newEventScene(),
	}
	a.setEmitter(emit)

	palette, err := cfg.ToPalette()
	if err != nil {
		logger.Warn("invalid palette, using defaults", "err", err)
		palette = derive.DefaultPalette()
	}
	if err := a.store.SetOpacity(cfg.Palette.BaseOpacity); err != nil {
		logger.Warn("invalid base opacity", "err", err)
	}

	a.wf = workflow.New(a.store, backend.NewLocal(cfg.BackendOptions(), logger), a.scene, workflow.Config{
		Palette: palette,
		Logger:  logger,
		OnBusy: func(action workflow.Action, busy bool) {
			a.send(EventBusy, BusyData{Action: action.String(), Busy: busy})
		},
		OnRenderError: func(err error) {
			a.status(ActionResult{Message: "render failed: " + err.Error()})
		},
	})
	a.runner = script.NewRunner(a.wf, script.Options{
		Timeout:          cfg.ScriptTimeout(),
		DefaultThreshold: cfg.Match.DefaultThreshold,
		Logger:           logger,
	})

	w, err := watcher.New(cfg.Debounce(), logger)
	if err != nil {
		logger.Warn("file watching disabled", "err", err)
	} else {
		a.watch = w
	}
	return a
}

func (a *App) setEmitter(emit emitFunc) {
	a.mu.Lock()
	a.emit = emit
	a.mu.Unlock()
	a.scene.setEmitter(emit)
}

func (a *App) send(name string, data any) {
	a.mu.Lock()
	emit := a.emit
	a.mu.Unlock()
	if emit != nil {
		emit(name, data)
	}
}

func (a *App) status(res ActionResult) {
	a.send(EventStatus, res)
}

// startup is called by Wails on app startup. The context is kept for runtime
// calls. The frontend fetches objects created before this point with Scene.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.setEmitter(func(name string, data any) {
		runtime.EventsEmit(ctx, name, data)
	})
}

// shutdown is called by Wails when the window closes.
func (a *App) shutdown(ctx context.Context) {
	if a.watch != nil {
		if err := a.watch.Close(); err != nil {
			a.log.Warn("closing watcher", "err", err)
		}
	}
	if err := a.wf.Close(); err != nil {
		a.log.Warn("releasing scene", "err", err)
	}
	a.setEmitter(nil)
}

// result turns an action outcome into the operator-facing form and reports
// it on the status event. Stale results are logged and suppressed.
func (a *App) result(action string, ok string, err error) ActionResult {
	var res ActionResult
	switch {
	case err == nil:
		res = ActionResult{OK: true, Message: ok}
		a.log.Info(action, "result", ok)
	case compare.IsStale(err):
		a.log.Debug("discarded stale result", "action", action, "err", err)
		return ActionResult{Stale: true}
	default:
		res = ActionResult{Message: err.Error()}
		a.log.Warn(action+" failed", "err", err)
	}
	a.status(res)
	return res
}

func parseSlot(name string) (compare.Slot, error) {
	slot, err := compare.ParseSlot(name)
	if err != nil {
		return 0, &compare.PreconditionError{Action: "select slot", Reason: err.Error()}
	}
	return slot, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load installs raw file contents in slot.
func (a *App) Load(slotName, filename string, data []byte) ActionResult {
	slot, err := parseSlot(slotName)
	if err != nil {
		return a.result("load", "", err)
	}
	a.unwatch(slot)
	return a.load(slot, filename, data)
}

func (a *App) load(slot compare.Slot, filename string, data []byte) ActionResult {
	rec, err := a.wf.Load(a.context(), slot, filename, data)
	if err != nil {
		return a.result("load", "", err)
	}
	return a.result("load", fmt.Sprintf("Loaded %s into %s (%d vertices)",
		filepath.Base(filename), slot, rec.VertexCount()), nil)
}

// LoadPath reads path from disk into slot and reloads it whenever the file
// changes.
func (a *App) LoadPath(slotName, path string) ActionResult {
	slot, err := parseSlot(slotName)
	if err != nil {
		return a.result("load", "", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return a.result("load", "", &compare.ParseError{Filename: filepath.Base(path), Err: err})
	}
	res := a.load(slot, path, data)
	if res.OK {
		a.watchSlot(slot, path)
	}
	return res
}

// OpenFile shows the native file dialog and loads the chosen file into slot.
func (a *App) OpenFile(slotName string) ActionResult {
	if a.ctx == nil {
		return ActionResult{Message: "file dialog unavailable"}
	}
	path, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Open mesh for " + slotName,
		Filters: []runtime.FileFilter{
			{DisplayName: "Meshes (*.stl, *.obj)", Pattern: "*.stl;*.obj"},
			{DisplayName: "CAD (*.step, *.stp, *.iges, *.igs)", Pattern: "*.step;*.stp;*.iges;*.igs"},
		},
	})
	if err != nil {
		return a.result("open", "", err)
	}
	if path == "" {
		return ActionResult{Message: "cancelled"}
	}
	return a.LoadPath(slotName, path)
}

// SupportedExtensions lists the file extensions the loader recognises.
func (a *App) SupportedExtensions() []string {
	return append([]string(nil), meshio.Extensions...)
}

func (a *App) watchSlot(slot compare.Slot, path string) {
	if a.watch == nil {
		return
	}
	a.unwatch(slot)
	err := a.watch.Watch(path, func(changed string) {
		a.reload(slot, changed)
	})
	if err != nil {
		a.log.Warn("cannot watch file", "path", path, "err", err)
		return
	}
	a.mu.Lock()
	a.watched[slot] = path
	a.mu.Unlock()
}

func (a *App) unwatch(slot compare.Slot) {
	a.mu.Lock()
	path := a.watched[slot]
	a.watched[slot] = ""
	other := a.watched[slot.Other()]
	a.mu.Unlock()
	if path == "" || a.watch == nil {
		return
	}
	if abs, _ := filepath.Abs(path); abs == absPath(other) {
		return
	}
	if err := a.watch.Unwatch(path); err != nil {
		a.log.Warn("cannot unwatch file", "path", path, "err", err)
	}
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	abs, _ := filepath.Abs(p)
	return abs
}

func (a *App) reload(slot compare.Slot, path string) {
	a.mu.Lock()
	current := absPath(a.watched[slot])
	a.mu.Unlock()
	if current != path {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.result("reload", "", err)
		return
	}
	a.log.Info("file changed, reloading", "slot", slot, "path", path)
	a.load(slot, path, data)
}

// Clear empties slot.
func (a *App) Clear(slotName string) ActionResult {
	slot, err := parseSlot(slotName)
	if err != nil {
		return a.result("clear", "", err)
	}
	a.unwatch(slot)
	return a.result("clear", "Cleared "+slot.String(), a.wf.Clear(slot))
}

// ---------------------------------------------------------------------------
// Backend actions
// ---------------------------------------------------------------------------

// Align moves B onto A.
func (a *App) Align() ActionResult {
	res, err := a.wf.Align(a.context())
	if err != nil {
		return a.result("align", "", err)
	}
	return a.result("align", fmt.Sprintf("Aligned B onto A (RMSE %.4g after %d iterations)", res.RMSE, res.Iterations), nil)
}

// Measure computes distance statistics from A to B.
func (a *App) Measure() ActionResult {
	ds, err := a.wf.Measure(a.context())
	if err != nil {
		return a.result("measure", "", err)
	}
	return a.result("measure", fmt.Sprintf("Distance min %.4g max %.4g mean %.4g std %.4g",
		ds.Min, ds.Max, ds.Mean, ds.Std), nil)
}

// Match flags vertices within threshold of the other mesh.
func (a *App) Match(threshold float64) ActionResult {
	mr, err := a.wf.Match(a.context(), threshold)
	if err != nil {
		return a.result("match", "", err)
	}
	st := mr.Stats
	return a.result("match", fmt.Sprintf("A: %.1f%% matching (%d/%d), B: %.1f%% matching (%d/%d)",
		st.PercentMatchingA, st.NumMatchingA, st.TotalVerticesA,
		st.PercentMatchingB, st.NumMatchingB, st.TotalVerticesB), nil)
}

// DefaultThreshold is the initial value of the threshold control.
func (a *App) DefaultThreshold() float64 {
	return a.cfg.Match.DefaultThreshold
}

// ---------------------------------------------------------------------------
// View actions
// ---------------------------------------------------------------------------

func (a *App) SetVisible(slotName string, visible bool) ActionResult {
	slot, err := parseSlot(slotName)
	if err != nil {
		return a.result("visibility", "", err)
	}
	return a.result("visibility", fmt.Sprintf("%s visible: %v", slot, visible), a.wf.SetVisible(slot, visible))
}

// SetOpacity takes a percentage (0-100).
func (a *App) SetOpacity(percent float64) ActionResult {
	return a.result("opacity", fmt.Sprintf("Opacity %.0f%%", percent), a.wf.SetOpacity(percent))
}

func (a *App) SetWireframe(on bool) ActionResult {
	a.wf.SetWireframe(on)
	return a.result("wireframe", fmt.Sprintf("Wireframe: %v", on), nil)
}

func (a *App) SetMatchOverlay(on bool) ActionResult {
	a.wf.SetMatchOverlay(on)
	return a.result("overlay", fmt.Sprintf("Match overlay: %v", on), nil)
}

func (a *App) ResetCamera() ActionResult {
	return a.result("camera", "Camera reset", a.wf.ResetCamera())
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Scene returns every live scene object with its buffers.
func (a *App) Scene() []SceneObject {
	return a.scene.objects()
}

// Snapshot returns the operator-visible state.
func (a *App) Snapshot() SnapshotData {
	snap := a.store.Snapshot()
	a.mu.Lock()
	watched := a.watched
	a.mu.Unlock()

	out := SnapshotData{
		Busy:      []string{},
		Distance:  snap.Distance,
		Overlay:   snap.Display.Overlay,
		Wireframe: snap.Display.Wireframe,
		Opacity:   snap.Display.Opacity * 100,
	}
	for _, slot := range compare.Slots {
		sd := SlotData{State: a.wf.State(slot).String(), Watching: watched[slot] != ""}
		if rec := snap.Slots[slot]; rec != nil {
			size := rec.Mesh.Bounds().Size()
			sd.Loaded = true
			sd.Name = filepath.Base(rec.Name)
			sd.Vertices = rec.VertexCount()
			sd.Triangles = rec.Mesh.TriangleCount()
			sd.Visible = rec.View.Visible
			sd.Size = [3]float64{size.X, size.Y, size.Z}
		}
		if slot == compare.SlotA {
			out.A = sd
		} else {
			out.B = sd
		}
	}
	for _, b := range a.wf.Busy() {
		out.Busy = append(out.Busy, b.String())
	}
	if snap.Match != nil {
		st := snap.Match.Stats
		out.Match = &st
		out.Threshold = snap.Match.Threshold
	}
	return out
}

// RunScript evaluates a comparison script against the current session.
func (a *App) RunScript(source string) ScriptResult {
	rep, err := a.runner.Run(a.context(), source)
	if err != nil {
		a.result("script", "", err)
		return ScriptResult{Error: err.Error()}
	}
	msg := fmt.Sprintf("Script ran %d steps", len(rep.Steps))
	var runErr error
	switch {
	case len(rep.Errors) > 0:
		runErr = errors.New(rep.Errors[0].Error())
	case len(rep.Failures) > 0:
		runErr = fmt.Errorf("%d expectation(s) failed: %s", len(rep.Failures), rep.Failures[0])
	}
	res := a.result("script", msg, runErr)
	return ScriptResult{OK: res.OK, Report: rep, Error: errString(runErr)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (a *App) context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}
