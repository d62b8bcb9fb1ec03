// Package workflow drives the operator actions of a comparison session:
// loading and clearing slots, aligning, measuring and matching. It calls the
// backend outside any lock, stamps every request with the slot generations
// it read, and lets the store refuse results that no longer apply. Every
// store change is rendered through the scene reconciler.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/chazu/meshdiff/pkg/backend"
	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/derive"
	"github.com/chazu/meshdiff/pkg/scene"
)

// Action is an operator action that calls the backend.
type Action int

const (
	ActionLoad Action = iota
	ActionAlign
	ActionMeasure
	ActionMatch
)

func (a Action) String() string {
	switch a {
	case ActionLoad:
		return "load"
	case ActionAlign:
		return "align"
	case ActionMeasure:
		return "measure"
	case ActionMatch:
		return "match"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// State is the lifecycle state of one slot.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateLoaded
	StateAligning
	StateMeasuring
	StateMatching
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateAligning:
		return "aligning"
	case StateMeasuring:
		return "measuring"
	case StateMatching:
		return "matching"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config carries the collaborators' tunables.
type Config struct {
	Palette derive.Palette
	Logger  *log.Logger
	// OnBusy is called when a backend request of the given kind starts and
	// finishes. It must not call back into the workflow.
	OnBusy func(action Action, busy bool)
	// OnRenderError is called when building or reconciling the scene fails.
	OnRenderError func(err error)
}

// Workflow orchestrates the comparison session. All methods are safe for
// concurrent use.
type Workflow struct {
	store   *compare.Store
	backend backend.Backend
	palette derive.Palette
	log     *log.Logger
	onBusy  func(Action, bool)
	onErr   func(error)

	mu       sync.Mutex
	inflight map[Action]bool
	loads    [2]uint64 // latest load token per slot
	loading  [2]bool

	renderMu    sync.Mutex
	recon       *scene.Reconciler
	closed      bool
	unsubscribe func()
}

// New wires a workflow to its store, backend and scene. The workflow renders
// the current store contents immediately and after every store change.
func New(store *compare.Store, b backend.Backend, sc scene.Scene, cfg Config) *Workflow {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	if cfg.Palette == (derive.Palette{}) {
		cfg.Palette = derive.DefaultPalette()
	}
	w := &Workflow{
		store:    store,
		backend:  b,
		palette:  cfg.Palette,
		log:      cfg.Logger,
		onBusy:   cfg.OnBusy,
		onErr:    cfg.OnRenderError,
		inflight: make(map[Action]bool),
		recon:    scene.NewReconciler(sc),
	}
	w.unsubscribe = store.Subscribe(func(c compare.Change) {
		if err := w.Render(); err != nil {
			w.log.Error("render failed", "change", c.Kind, "err", err)
			if w.onErr != nil {
				w.onErr(err)
			}
		}
	})
	if err := w.Render(); err != nil {
		w.log.Error("initial render failed", "err", err)
	}
	return w
}

// Store returns the store the workflow drives.
func (w *Workflow) Store() *compare.Store {
	return w.store
}

// Render rebuilds the descriptor set from the current store contents and
// reconciles the scene against it.
func (w *Workflow) Render() error {
	w.renderMu.Lock()
	defer w.renderMu.Unlock()
	if w.closed {
		return nil
	}
	descs, err := derive.BuildScene(w.store.Snapshot(), w.palette)
	if err != nil {
		return fmt.Errorf("build descriptors: %w", err)
	}
	diff, err := w.recon.Reconcile(descs)
	if err != nil {
		return fmt.Errorf("reconcile scene: %w", err)
	}
	if !diff.Empty() {
		w.log.Debug("scene reconciled",
			"added", len(diff.Added), "removed", len(diff.Removed), "updated", len(diff.Updated))
	}
	return nil
}

// Close stops rendering and releases every scene resource.
func (w *Workflow) Close() error {
	w.unsubscribe()
	w.renderMu.Lock()
	defer w.renderMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	diff, err := w.recon.Release()
	w.log.Debug("scene released", "removed", len(diff.Removed))
	return err
}

// State reports the lifecycle state of slot.
func (w *Workflow) State(slot compare.Slot) State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loading[slot] {
		return StateLoading
	}
	if w.store.Slot(slot) == nil {
		return StateEmpty
	}
	switch {
	case w.inflight[ActionAlign]:
		return StateAligning
	case w.inflight[ActionMatch]:
		return StateMatching
	case w.inflight[ActionMeasure]:
		return StateMeasuring
	}
	return StateLoaded
}

// Busy returns the backend actions currently in flight.
func (w *Workflow) Busy() []Action {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Action
	if w.loading[compare.SlotA] || w.loading[compare.SlotB] {
		out = append(out, ActionLoad)
	}
	for _, a := range []Action{ActionAlign, ActionMeasure, ActionMatch} {
		if w.inflight[a] {
			out = append(out, a)
		}
	}
	return out
}

func (w *Workflow) busy(a Action, on bool) {
	if w.onBusy != nil {
		w.onBusy(a, on)
	}
}

// ---------------------------------------------------------------------------
// Load / clear
// ---------------------------------------------------------------------------

// Load parses raw as filename and installs the result in slot. A newer Load
// or a Clear of the same slot supersedes this one: its result is then
// discarded with compare.ErrStaleResult. On failure the slot keeps whatever
// it held before.
func (w *Workflow) Load(ctx context.Context, slot compare.Slot, filename string, raw []byte) (*compare.MeshRecord, error) {
	if !slot.Valid() {
		return nil, &compare.PreconditionError{Action: "load", Reason: fmt.Sprintf("invalid slot %d", slot)}
	}

	w.mu.Lock()
	w.loads[slot]++
	token := w.loads[slot]
	w.loading[slot] = true
	w.mu.Unlock()
	w.busy(ActionLoad, true)
	defer w.busy(ActionLoad, false)

	m, err := w.backend.ParseFile(ctx, raw, filename)
	var rec *compare.MeshRecord
	if err == nil {
		rec, err = compare.NewMeshRecord(slot, filename, m, w.store.View())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loads[slot] != token {
		w.log.Debug("load superseded", "slot", slot, "file", filename)
		return nil, fmt.Errorf("load %s into %s: %w", filename, slot, compare.ErrStaleResult)
	}
	w.loading[slot] = false
	if err != nil {
		var pe *compare.ParseError
		if !errors.As(err, &pe) {
			err = &compare.ParseError{Filename: filename, Err: err}
		}
		w.log.Warn("load failed", "slot", slot, "file", filename, "err", err)
		return nil, err
	}

	installed := w.store.SetSlot(rec)
	w.log.Info("mesh loaded", "slot", slot, "file", filename,
		"vertices", installed.VertexCount(), "triangles", installed.Mesh.TriangleCount())
	return installed, nil
}

// Clear empties slot, dropping results computed against it and superseding
// any load in flight for it.
func (w *Workflow) Clear(slot compare.Slot) error {
	if !slot.Valid() {
		return &compare.PreconditionError{Action: "clear", Reason: fmt.Sprintf("invalid slot %d", slot)}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loads[slot]++
	w.loading[slot] = false
	w.store.ClearSlot(slot)
	w.log.Info("slot cleared", "slot", slot)
	return nil
}

// ---------------------------------------------------------------------------
// Backend actions
// ---------------------------------------------------------------------------

// begin checks that action is not already running and that both slots are
// loaded, marks it in flight and returns the records to compute against.
func (w *Workflow) begin(action Action) (a, b *compare.MeshRecord, err error) {
	w.mu.Lock()
	if w.inflight[action] {
		w.mu.Unlock()
		return nil, nil, &compare.BusyError{Action: action.String()}
	}
	snap := w.store.Snapshot()
	a, b = snap.Slots[compare.SlotA], snap.Slots[compare.SlotB]
	var missing []compare.Slot
	for _, s := range compare.Slots {
		if snap.Slots[s] == nil {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		w.mu.Unlock()
		return nil, nil, &compare.PreconditionError{Action: action.String(), Missing: missing}
	}
	w.inflight[action] = true
	w.mu.Unlock()

	w.busy(action, true)
	return a, b, nil
}

func (w *Workflow) end(action Action) {
	w.mu.Lock()
	delete(w.inflight, action)
	w.mu.Unlock()
	w.busy(action, false)
}

// Align moves B onto A and replaces B's geometry with the result. A is never
// modified. The previous match result is invalidated with B's old geometry.
func (w *Workflow) Align(ctx context.Context) (*backend.Alignment, error) {
	a, b, err := w.begin(ActionAlign)
	if err != nil {
		return nil, err
	}
	defer w.end(ActionAlign)

	res, err := w.backend.AlignMeshes(ctx, a.Mesh, b.Mesh)
	if err != nil {
		return nil, &compare.BackendError{Op: "align", Err: err}
	}
	rec, err := compare.NewMeshRecord(compare.SlotB, b.Name, res.Mesh, b.View)
	if err != nil {
		return nil, &compare.BackendError{Op: "align", Err: err}
	}
	if _, err := w.store.ReplaceGeometry(rec, compare.BasisOf(a, b)); err != nil {
		w.log.Debug("alignment discarded", "err", err)
		return nil, err
	}
	w.log.Info("aligned B onto A", "rmse", res.RMSE, "iterations", res.Iterations)
	return res, nil
}

// Measure computes distance statistics from A to B.
func (w *Workflow) Measure(ctx context.Context) (*compare.DistanceStats, error) {
	a, b, err := w.begin(ActionMeasure)
	if err != nil {
		return nil, err
	}
	defer w.end(ActionMeasure)

	res, err := w.backend.MeasureDistance(ctx, a.Mesh, b.Mesh)
	if err != nil {
		return nil, &compare.BackendError{Op: "measure", Err: err}
	}
	ds := &compare.DistanceStats{
		Min:     res.Min,
		Max:     res.Max,
		Mean:    res.Mean,
		Std:     res.Std,
		Samples: res.Samples,
		Basis:   compare.BasisOf(a, b),
	}
	if err := w.store.SetDistanceStats(ds); err != nil {
		w.log.Debug("distance stats discarded", "err", err)
		return nil, err
	}
	w.log.Info("distance measured", "min", ds.Min, "max", ds.Max, "mean", ds.Mean, "std", ds.Std)
	return ds, nil
}

// Match flags the vertices of each mesh that lie within threshold of the
// other. threshold must be a positive distance.
func (w *Workflow) Match(ctx context.Context, threshold float64) (*compare.MatchResult, error) {
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		return nil, &compare.PreconditionError{Action: "match", Reason: fmt.Sprintf("threshold %v must be a positive distance", threshold)}
	}
	a, b, err := w.begin(ActionMatch)
	if err != nil {
		return nil, err
	}
	defer w.end(ActionMatch)

	res, err := w.backend.MatchVertices(ctx, a.Mesh, b.Mesh, threshold)
	if err != nil {
		return nil, &compare.BackendError{Op: "match", Err: err}
	}
	mr, err := compare.NewMatchResult(a, b, res.FlagsA, res.FlagsB, threshold)
	if err != nil {
		return nil, &compare.BackendError{Op: "match", Err: err}
	}
	if err := w.store.SetMatchResult(mr); err != nil {
		w.log.Debug("match result discarded", "err", err)
		return nil, err
	}
	installed := w.store.MatchResult()
	w.log.Info("vertices matched", "threshold", threshold,
		"percent_a", mr.Stats.PercentMatchingA, "percent_b", mr.Stats.PercentMatchingB)
	if installed == nil {
		return mr, nil
	}
	return installed, nil
}

// ---------------------------------------------------------------------------
// View actions
// ---------------------------------------------------------------------------

// SetVisible shows or hides every layer of slot.
func (w *Workflow) SetVisible(slot compare.Slot, visible bool) error {
	if !slot.Valid() {
		return &compare.PreconditionError{Action: "set visibility", Reason: fmt.Sprintf("invalid slot %d", slot)}
	}
	if err := w.store.SetVisible(slot, visible); err != nil {
		return &compare.PreconditionError{Action: "set visibility", Reason: fmt.Sprintf("slot %s is empty", slot)}
	}
	return nil
}

// SetOpacity sets the base-layer opacity from a 0..100 percentage.
func (w *Workflow) SetOpacity(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return &compare.PreconditionError{Action: "set opacity", Reason: fmt.Sprintf("%v is outside 0-100", percent)}
	}
	return w.store.SetOpacity(percent / 100)
}

// SetWireframe toggles wireframe rendering of the base layers.
func (w *Workflow) SetWireframe(on bool) {
	w.store.SetWireframe(on)
}

// SetMatchOverlay toggles the match-colored overlay.
func (w *Workflow) SetMatchOverlay(on bool) {
	w.store.SetOverlay(on)
}

// ResetCamera restores the default camera.
func (w *Workflow) ResetCamera() error {
	w.renderMu.Lock()
	defer w.renderMu.Unlock()
	if w.closed {
		return nil
	}
	return w.recon.ResetCamera()
}
