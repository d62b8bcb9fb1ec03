package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/meshdiff/pkg/backend"
	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/derive"
	"github.com/chazu/meshdiff/pkg/mesh"
	"github.com/chazu/meshdiff/pkg/scene"
)

// grid returns a 2x5 vertex grid (10 vertices, 8 triangles) in the XY plane.
func grid() *mesh.Mesh {
	m := &mesh.Mesh{}
	for row := 0; row < 2; row++ {
		for col := 0; col < 5; col++ {
			m.Vertices = append(m.Vertices, float32(col)*0.1, float32(row)*0.1, 0)
			m.Normals = append(m.Normals, 0, 0, 1)
		}
	}
	for c := uint32(0); c < 4; c++ {
		m.Indices = append(m.Indices, c, c+1, c+5, c+1, c+6, c+5)
	}
	return m
}

// liftedGrid is grid with columns 3 and 4 moved far along Z.
func liftedGrid() *mesh.Mesh {
	m := grid()
	for _, v := range []int{3, 4, 8, 9} {
		m.Vertices[v*3+2] += 5
	}
	return m
}

// stubBackend serves meshes by filename and can hold parse, align and match
// calls until the test releases them. Measure and match use the native backend.
type stubBackend struct {
	*backend.Local

	mu         sync.Mutex
	meshes     map[string]*mesh.Mesh
	parseGates map[string]chan struct{}
	alignGate  chan struct{}
	matchGate  chan struct{}
	started    chan string
	alignCalls int
}

func newStub() *stubBackend {
	return &stubBackend{
		Local:      backend.NewLocal(backend.DefaultOptions(), nil),
		meshes:     map[string]*mesh.Mesh{"a.stl": grid(), "b.stl": liftedGrid()},
		parseGates: make(map[string]chan struct{}),
		started:    make(chan string, 16),
	}
}

func (s *stubBackend) ParseFile(ctx context.Context, raw []byte, filename string) (*mesh.Mesh, error) {
	s.mu.Lock()
	gate := s.parseGates[filename]
	m, ok := s.meshes[filename]
	s.mu.Unlock()

	s.started <- "parse:" + filename
	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, errors.New("unreadable")
	}
	return m.Clone(), nil
}

func (s *stubBackend) AlignMeshes(ctx context.Context, a, b *mesh.Mesh) (*backend.Alignment, error) {
	s.mu.Lock()
	s.alignCalls++
	gate := s.alignGate
	s.mu.Unlock()

	s.started <- "align"
	if gate != nil {
		<-gate
	}
	// Drop B onto the XY plane.
	out := b.Clone()
	for i := 2; i < len(out.Vertices); i += 3 {
		out.Vertices[i] = 0
	}
	return &backend.Alignment{Mesh: out, Iterations: 1}, nil
}

func (s *stubBackend) MatchVertices(ctx context.Context, a, b *mesh.Mesh, threshold float64) (*backend.Match, error) {
	s.mu.Lock()
	gate := s.matchGate
	s.mu.Unlock()

	if gate != nil {
		s.started <- "match"
		<-gate
	}
	return s.Local.MatchVertices(ctx, a, b, threshold)
}

func setup(t *testing.T, b backend.Backend) (*Workflow, *compare.Store, *scene.Memory) {
	t.Helper()
	store := compare.NewStore()
	mem := scene.NewMemory()
	w := New(store, b, mem, Config{Palette: derive.DefaultPalette()})
	t.Cleanup(func() { _ = w.Close() })
	return w, store, mem
}

func loadBoth(t *testing.T, w *Workflow) {
	t.Helper()
	ctx := context.Background()
	_, err := w.Load(ctx, compare.SlotA, "a.stl", nil)
	require.NoError(t, err)
	_, err = w.Load(ctx, compare.SlotB, "b.stl", nil)
	require.NoError(t, err)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestActionsNeedBothSlots(t *testing.T) {
	stub := newStub()
	w, _, _ := setup(t, stub)
	ctx := context.Background()

	_, err := w.Load(ctx, compare.SlotA, "a.stl", nil)
	require.NoError(t, err)
	<-stub.started

	var pe *compare.PreconditionError
	_, err = w.Align(ctx)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []compare.Slot{compare.SlotB}, pe.Missing)
	assert.Equal(t, "align needs both meshes loaded (missing B)", err.Error())

	_, err = w.Measure(ctx)
	require.ErrorAs(t, err, &pe)
	_, err = w.Match(ctx, 0.1)
	require.ErrorAs(t, err, &pe)

	assert.Zero(t, stub.alignCalls, "backend must not be called when a slot is empty")
}

func TestMatchRejectsBadThreshold(t *testing.T) {
	w, _, _ := setup(t, newStub())
	loadBoth(t, w)

	for _, th := range []float64{0, -0.5} {
		_, err := w.Match(context.Background(), th)
		var pe *compare.PreconditionError
		assert.ErrorAs(t, err, &pe, "threshold %v", th)
	}
}

func TestMatchScenarioRendersMatchOnlyLayers(t *testing.T) {
	w, store, mem := setup(t, backend.NewLocal(backend.DefaultOptions(), nil))
	ctx := context.Background()

	// The native backend parses real files, so go through the store directly
	// for the fixtures and let the workflow render them.
	recA, err := compare.NewMeshRecord(compare.SlotA, "a", grid(), compare.DefaultView())
	require.NoError(t, err)
	recB, err := compare.NewMeshRecord(compare.SlotB, "b", liftedGrid(), compare.DefaultView())
	require.NoError(t, err)
	store.SetSlot(recA)
	store.SetSlot(recB)

	mr, err := w.Match(ctx, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 6, mr.Stats.NumMatchingA)
	assert.Equal(t, 6, mr.Stats.NumMatchingB)
	assert.InDelta(t, 60.0, mr.Stats.PercentMatchingA, 1e-9)

	mo, ok := mem.Find(derive.Key{Slot: compare.SlotB, Kind: derive.KindMatchOnly})
	require.True(t, ok, "match-only layer for B should be in the scene")
	assert.Equal(t, []uint32{0, 1, 5, 1, 6, 5, 1, 2, 6, 2, 7, 6}, mo.Descriptor.Indices)

	_, ok = mem.Find(derive.Key{Slot: compare.SlotA, Kind: derive.KindOverlay})
	assert.False(t, ok, "overlay stays off until enabled")

	w.SetMatchOverlay(true)
	ov, ok := mem.Find(derive.Key{Slot: compare.SlotA, Kind: derive.KindOverlay})
	require.True(t, ok)
	assert.True(t, ov.Descriptor.Visible)
	base, _ := mem.Find(derive.Key{Slot: compare.SlotA, Kind: derive.KindBase})
	assert.False(t, base.Descriptor.Visible, "base hides under the overlay")
}

func TestAlignReplacesBAndInvalidatesMatch(t *testing.T) {
	w, store, _ := setup(t, newStub())
	ctx := context.Background()
	loadBoth(t, w)

	_, err := w.Match(ctx, 0.05)
	require.NoError(t, err)
	require.NotNil(t, store.MatchResult())
	genA := store.Slot(compare.SlotA).Generation
	genB := store.Slot(compare.SlotB).Generation

	_, err = w.Align(ctx)
	require.NoError(t, err)

	assert.Nil(t, store.MatchResult(), "align must drop the old match")
	assert.Equal(t, genA, store.Slot(compare.SlotA).Generation, "A is never touched by align")
	assert.NotEqual(t, genB, store.Slot(compare.SlotB).Generation)

	mr, err := w.Match(ctx, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 10, mr.Stats.NumMatchingB, "match must run against the aligned B")
	assert.Equal(t, store.Slot(compare.SlotB).Generation, mr.Basis.Of(compare.SlotB))
}

func TestClearDuringAlignDiscardsResult(t *testing.T) {
	stub := newStub()
	stub.alignGate = make(chan struct{})
	w, store, mem := setup(t, stub)
	loadBoth(t, w)
	<-stub.started
	<-stub.started

	errc := make(chan error, 1)
	go func() {
		_, err := w.Align(context.Background())
		errc <- err
	}()
	waitFor(t, stub.started, "align")
	assert.Equal(t, StateAligning, w.State(compare.SlotA))

	require.NoError(t, w.Clear(compare.SlotB))
	close(stub.alignGate)

	err := <-errc
	assert.True(t, compare.IsStale(err), "expected stale result, got %v", err)
	assert.Nil(t, store.Slot(compare.SlotB), "cleared slot must stay empty")
	assert.Equal(t, StateEmpty, w.State(compare.SlotB))

	_, ok := mem.Find(derive.Key{Slot: compare.SlotB, Kind: derive.KindBase})
	assert.False(t, ok)
}

func TestReloadDuringMatchDiscardsResult(t *testing.T) {
	stub := newStub()
	stub.matchGate = make(chan struct{})
	w, store, mem := setup(t, stub)
	loadBoth(t, w)
	<-stub.started
	<-stub.started

	errc := make(chan error, 1)
	go func() {
		_, err := w.Match(context.Background(), 0.05)
		errc <- err
	}()
	waitFor(t, stub.started, "match")

	rec, err := w.Load(context.Background(), compare.SlotB, "b.stl", nil)
	require.NoError(t, err)
	waitFor(t, stub.started, "parse:b.stl")
	close(stub.matchGate)

	err = <-errc
	assert.True(t, compare.IsStale(err), "expected stale result, got %v", err)
	assert.Nil(t, store.MatchResult(), "match against the replaced B must not be installed")
	assert.Same(t, rec, store.Slot(compare.SlotB))

	_, ok := mem.Find(derive.Key{Slot: compare.SlotA, Kind: derive.KindMatchOnly})
	assert.False(t, ok)
}

func TestSecondAlignIsBusy(t *testing.T) {
	stub := newStub()
	stub.alignGate = make(chan struct{})
	var mu sync.Mutex
	var events []bool
	store := compare.NewStore()
	w := New(store, stub, scene.NewMemory(), Config{
		OnBusy: func(a Action, busy bool) {
			if a == ActionAlign {
				mu.Lock()
				events = append(events, busy)
				mu.Unlock()
			}
		},
	})
	defer w.Close()
	loadBoth(t, w)
	<-stub.started
	<-stub.started

	errc := make(chan error, 1)
	go func() {
		_, err := w.Align(context.Background())
		errc <- err
	}()
	waitFor(t, stub.started, "align")

	_, err := w.Align(context.Background())
	assert.ErrorIs(t, err, compare.ErrBusy)
	assert.Contains(t, w.Busy(), ActionAlign)

	close(stub.alignGate)
	require.NoError(t, <-errc)
	assert.Empty(t, w.Busy())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, events)
}

func TestNewerLoadSupersedesOlder(t *testing.T) {
	stub := newStub()
	stub.parseGates["a.stl"] = make(chan struct{})
	w, store, _ := setup(t, stub)

	errc := make(chan error, 1)
	go func() {
		_, err := w.Load(context.Background(), compare.SlotA, "a.stl", nil)
		errc <- err
	}()
	waitFor(t, stub.started, "parse:a.stl")
	assert.Equal(t, StateLoading, w.State(compare.SlotA))

	_, err := w.Load(context.Background(), compare.SlotA, "b.stl", nil)
	require.NoError(t, err)
	<-stub.started

	close(stub.parseGates["a.stl"])
	assert.True(t, compare.IsStale(<-errc))
	assert.Equal(t, "b.stl", store.Slot(compare.SlotA).Name)
	assert.Equal(t, StateLoaded, w.State(compare.SlotA))
}

func TestFailedLoadKeepsPreviousRecord(t *testing.T) {
	w, store, _ := setup(t, newStub())
	ctx := context.Background()
	_, err := w.Load(ctx, compare.SlotA, "a.stl", nil)
	require.NoError(t, err)
	before := store.Slot(compare.SlotA)

	_, err = w.Load(ctx, compare.SlotA, "broken.stl", nil)
	var pe *compare.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken.stl", pe.Filename)
	assert.Same(t, before, store.Slot(compare.SlotA))
}

func TestViewActions(t *testing.T) {
	w, store, mem := setup(t, newStub())

	var pe *compare.PreconditionError
	assert.ErrorAs(t, w.SetVisible(compare.SlotA, false), &pe)
	assert.ErrorAs(t, w.SetOpacity(150), &pe)
	assert.NotPanics(t, func() {
		assert.ErrorAs(t, w.SetVisible(compare.Slot(7), false), &pe)
	})
	assert.Contains(t, pe.Error(), "invalid slot")

	loadBoth(t, w)
	require.NoError(t, w.SetOpacity(50))
	assert.InDelta(t, 0.5, store.Display().Opacity, 1e-9)
	base, ok := mem.Find(derive.Key{Slot: compare.SlotA, Kind: derive.KindBase})
	require.True(t, ok)
	assert.InDelta(t, 0.5, float64(base.Descriptor.Material.Opacity), 1e-6)

	w.SetWireframe(true)
	base, _ = mem.Find(derive.Key{Slot: compare.SlotB, Kind: derive.KindBase})
	assert.True(t, base.Descriptor.Material.Wireframe)

	require.NoError(t, w.SetVisible(compare.SlotB, false))
	base, _ = mem.Find(derive.Key{Slot: compare.SlotB, Kind: derive.KindBase})
	assert.False(t, base.Descriptor.Visible)

	require.NoError(t, w.ResetCamera())
	assert.Equal(t, 1, mem.Stats().CameraResets)
}

func TestCloseReleasesEveryResource(t *testing.T) {
	store := compare.NewStore()
	mem := scene.NewMemory()
	w := New(store, newStub(), mem, Config{})
	ctx := context.Background()

	loadBoth(t, w)
	_, err := w.Match(ctx, 0.05)
	require.NoError(t, err)
	w.SetMatchOverlay(true)
	_, err = w.Align(ctx)
	require.NoError(t, err)
	_, err = w.Match(ctx, 0.05)
	require.NoError(t, err)
	require.NoError(t, w.Clear(compare.SlotA))
	loadBoth(t, w)

	require.NoError(t, w.Close())
	geoms, mats := mem.LiveResources()
	assert.Zero(t, geoms)
	assert.Zero(t, mats)
	stats := mem.Stats()
	assert.Equal(t, stats.GeometriesCreated, stats.GeometriesReleased)
	assert.Equal(t, stats.MaterialsCreated, stats.MaterialsReleased)

	// Changes after Close are not rendered.
	store.SetOverlay(false)
	geoms, _ = mem.LiveResources()
	assert.Zero(t, geoms)
}
