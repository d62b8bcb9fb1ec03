package backend

import (
	"context"
	"errors"
	"math"
	"testing"

	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/meshdiff/pkg/mesh"
	"github.com/chazu/meshdiff/pkg/meshio"
)

// grid returns a rows x cols vertex grid with the given spacing and a height
// field that makes the surface non-planar and asymmetric.
func grid(rows, cols int, spacing float64, bumpy bool) *mesh.Mesh {
	m := &mesh.Mesh{Name: "grid"}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := float64(c) * spacing
			y := float64(r) * spacing
			z := 0.0
			if bumpy {
				z = 0.3*math.Sin(x*0.9) + 0.2*math.Cos(y*1.3) + 0.05*x*y
			}
			m.Vertices = append(m.Vertices, float32(x), float32(y), float32(z))
			m.Normals = append(m.Normals, 0, 0, 1)
		}
	}
	for r := 0; r+1 < rows; r++ {
		for c := 0; c+1 < cols; c++ {
			i := uint32(r*cols + c)
			n := uint32(cols)
			m.Indices = append(m.Indices, i, i+1, i+n, i+1, i+n+1, i+n)
		}
	}
	m.ComputeNormals()
	return m
}

// moved returns a copy of m with x applied.
func moved(m *mesh.Mesh, x rigid) *mesh.Mesh {
	return transformMesh(m, x)
}

func rotationZ(deg float64) rigid {
	a := deg * math.Pi / 180
	return rigid{r: [3][3]float64{
		{math.Cos(a), -math.Sin(a), 0},
		{math.Sin(a), math.Cos(a), 0},
		{0, 0, 1},
	}}
}

func TestMeasureDistance(t *testing.T) {
	a := grid(2, 5, 0.1, false)
	b := a.Clone()
	for i := 2; i < len(b.Vertices); i += 3 {
		b.Vertices[i] += 0.25
	}
	l := NewLocal(DefaultOptions(), nil)

	d, err := l.MeasureDistance(context.Background(), a, b)
	if err != nil {
		t.Fatalf("MeasureDistance: %v", err)
	}
	// Lifting B by 0.25 leaves every A vertex 0.25 from its twin, and the
	// grid spacing (0.1) makes diagonal neighbours farther.
	for name, got := range map[string]float64{"min": d.Min, "max": d.Max, "mean": d.Mean} {
		if math.Abs(got-0.25) > 1e-6 {
			t.Errorf("%s = %v, want 0.25", name, got)
		}
	}
	if d.Std > 1e-6 {
		t.Errorf("std = %v, want 0", d.Std)
	}
	if len(d.Samples) != 10 {
		t.Errorf("expected 10 samples, got %d", len(d.Samples))
	}
}

func TestMeasureDistanceSampleLimit(t *testing.T) {
	a := grid(10, 10, 1, false)
	opts := DefaultOptions()
	opts.SampleLimit = 7
	d, err := NewLocal(opts, nil).MeasureDistance(context.Background(), a, a)
	if err != nil {
		t.Fatalf("MeasureDistance: %v", err)
	}
	if len(d.Samples) != 7 {
		t.Errorf("expected 7 samples, got %d", len(d.Samples))
	}
	if d.Max != 0 {
		t.Errorf("self distance should be 0, got %v", d.Max)
	}
}

func TestMatchVerticesScenario(t *testing.T) {
	a := grid(2, 5, 0.1, false)
	b := a.Clone()
	// Lift columns 3 and 4 of B well beyond the threshold.
	for _, v := range []int{3, 4, 8, 9} {
		b.Vertices[v*3+2] += 5
	}

	res, err := NewLocal(DefaultOptions(), nil).MatchVertices(context.Background(), a, b, 0.5)
	if err != nil {
		t.Fatalf("MatchVertices: %v", err)
	}
	for i, f := range res.FlagsA {
		if !f {
			t.Errorf("A vertex %d should match", i)
		}
	}
	want := []bool{true, true, true, false, false, true, true, true, false, false}
	for i, f := range res.FlagsB {
		if f != want[i] {
			t.Errorf("B vertex %d: flag %v, want %v", i, f, want[i])
		}
	}
}

func TestMatchVerticesRejectsBadThreshold(t *testing.T) {
	a := grid(2, 2, 1, false)
	l := NewLocal(DefaultOptions(), nil)
	for _, th := range []float64{0, -1, math.NaN()} {
		if _, err := l.MatchVertices(context.Background(), a, a, th); err == nil {
			t.Errorf("threshold %v: expected error", th)
		}
	}
}

func TestEmptyMeshRejected(t *testing.T) {
	l := NewLocal(DefaultOptions(), nil)
	a := grid(2, 2, 1, false)
	empty := &mesh.Mesh{}
	ctx := context.Background()

	if _, err := l.MeasureDistance(ctx, a, empty); !errors.Is(err, ErrEmptyMesh) {
		t.Errorf("measure: expected ErrEmptyMesh, got %v", err)
	}
	if _, err := l.MatchVertices(ctx, empty, a, 1); !errors.Is(err, ErrEmptyMesh) {
		t.Errorf("match: expected ErrEmptyMesh, got %v", err)
	}
	if _, err := l.AlignMeshes(ctx, a, empty); !errors.Is(err, ErrEmptyMesh) {
		t.Errorf("align: expected ErrEmptyMesh, got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLocal(DefaultOptions(), nil)
	a := grid(4, 4, 1, true)

	if _, err := l.MeasureDistance(ctx, a, a); !errors.Is(err, context.Canceled) {
		t.Errorf("measure: expected context.Canceled, got %v", err)
	}
	if _, err := l.AlignMeshes(ctx, a, a); !errors.Is(err, context.Canceled) {
		t.Errorf("align: expected context.Canceled, got %v", err)
	}
	if _, err := l.ParseFile(ctx, nil, "x.stl"); !errors.Is(err, context.Canceled) {
		t.Errorf("parse: expected context.Canceled, got %v", err)
	}
}

func TestAlignRecoversRigidMotion(t *testing.T) {
	a := grid(12, 12, 0.5, true)
	motion := rotationZ(1).then(rigid{r: identity().r, t: v3.Vec{X: 0.03, Y: -0.02, Z: 0.02}})
	b := moved(a, motion)

	res, err := NewLocal(DefaultOptions(), nil).AlignMeshes(context.Background(), a, b)
	if err != nil {
		t.Fatalf("AlignMeshes: %v", err)
	}
	if res.RMSE > 1e-3 {
		t.Errorf("rmse = %v after %d iterations, want < 1e-3", res.RMSE, res.Iterations)
	}
	for i := 0; i < a.VertexCount(); i++ {
		if d := res.Mesh.Vertex(i).Sub(a.Vertex(i)).Length(); d > 1e-3 {
			t.Fatalf("vertex %d off by %v after alignment", i, d)
		}
	}
	// Inputs are untouched.
	if b.Vertex(5).Sub(moved(a, motion).Vertex(5)).Length() > 1e-9 {
		t.Error("AlignMeshes modified its input")
	}
	if len(res.Mesh.Indices) != len(b.Indices) {
		t.Error("alignment must keep B's topology")
	}
	if res.Transform[15] != 1 || res.Transform[12] != 0 {
		t.Errorf("transform is not homogeneous: %v", res.Transform)
	}
}

func TestAlignIdentityConverges(t *testing.T) {
	a := grid(6, 6, 1, true)
	res, err := NewLocal(DefaultOptions(), nil).AlignMeshes(context.Background(), a, a.Clone())
	if err != nil {
		t.Fatalf("AlignMeshes: %v", err)
	}
	if res.RMSE > 1e-9 {
		t.Errorf("rmse = %v for identical meshes", res.RMSE)
	}
	if res.Iterations > 2 {
		t.Errorf("expected immediate convergence, took %d iterations", res.Iterations)
	}
}

func TestAlignSamplingBounded(t *testing.T) {
	m := grid(10, 10, 1, false)
	got := sampleVertices(m, 30)
	if len(got) > 30 || len(got) < 20 {
		t.Errorf("expected roughly 30 samples, got %d", len(got))
	}
	if len(sampleVertices(m, 0)) != 100 {
		t.Error("max 0 should keep every vertex")
	}
}

func TestBestRigidExact(t *testing.T) {
	p := []v3.Vec{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 2, Z: 0}, {X: 0, Y: 0, Z: 3}}
	want := rotationZ(30).then(rigid{r: identity().r, t: v3.Vec{X: 1, Y: 2, Z: 3}})
	q := make([]v3.Vec, len(p))
	for i := range p {
		q[i] = want.apply(p[i])
	}
	got, err := bestRigid(p, q)
	if err != nil {
		t.Fatalf("bestRigid: %v", err)
	}
	for i := range p {
		if d := got.apply(p[i]).Sub(q[i]).Length(); d > 1e-9 {
			t.Errorf("point %d off by %v", i, d)
		}
	}
}

func TestParseFileDelegatesToMeshio(t *testing.T) {
	l := NewLocal(DefaultOptions(), nil)
	_, err := l.ParseFile(context.Background(), []byte("x"), "part.step")
	if !errors.Is(err, meshio.ErrCADFormat) {
		t.Errorf("expected ErrCADFormat, got %v", err)
	}
}
