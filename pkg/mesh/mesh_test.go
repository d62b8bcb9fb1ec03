package mesh

import (
	"errors"
	"math"
	"testing"
)

// quad returns a unit square in the XY plane made of two triangles.
func quad() *Mesh {
	return &Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0},
		Normals:  []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
		Indices:  []uint32{0, 1, 2, 0, 2, 3},
		Name:     "quad",
	}
}

func TestCounts(t *testing.T) {
	m := quad()
	if m.VertexCount() != 4 {
		t.Errorf("expected 4 vertices, got %d", m.VertexCount())
	}
	if m.TriangleCount() != 2 {
		t.Errorf("expected 2 triangles, got %d", m.TriangleCount())
	}
	if m.IsEmpty() {
		t.Error("quad should not be empty")
	}
	if !(&Mesh{}).IsEmpty() {
		t.Error("zero mesh should be empty")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(m *Mesh)
		valid  bool
	}{
		{name: "valid", modify: func(m *Mesh) {}, valid: true},
		{name: "empty", modify: func(m *Mesh) { *m = Mesh{} }, valid: true},
		{name: "ragged vertices", modify: func(m *Mesh) { m.Vertices = m.Vertices[:11] }},
		{name: "missing normals", modify: func(m *Mesh) { m.Normals = m.Normals[:9] }},
		{name: "ragged indices", modify: func(m *Mesh) { m.Indices = m.Indices[:5] }},
		{name: "index out of range", modify: func(m *Mesh) { m.Indices[4] = 4 }},
		{name: "nan coordinate", modify: func(m *Mesh) { m.Vertices[2] = float32(math.NaN()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := quad()
			tt.modify(m)
			err := m.Validate()
			if tt.valid && err != nil {
				t.Fatalf("expected valid mesh, got %v", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("expected ErrInvalid in chain, got %v", err)
				}
			}
		})
	}
}

func TestBounds(t *testing.T) {
	m := quad()
	m.Vertices[2] = -2
	bb := m.Bounds()
	if bb.Min.X != 0 || bb.Min.Y != 0 || bb.Min.Z != -2 {
		t.Errorf("unexpected min %v", bb.Min)
	}
	if bb.Max.X != 1 || bb.Max.Y != 1 || bb.Max.Z != 0 {
		t.Errorf("unexpected max %v", bb.Max)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := quad()
	c := m.Clone()
	c.Vertices[0] = 42
	c.Indices[0] = 3
	if m.Vertices[0] != 0 || m.Indices[0] != 0 {
		t.Error("clone shares buffers with the original")
	}
}

func TestComputeNormals(t *testing.T) {
	m := quad()
	m.Normals = make([]float32, len(m.Normals))
	m.ComputeNormals()
	for i := 0; i < m.VertexCount(); i++ {
		n := m.Normal(i)
		if math.Abs(n.Z-1) > 1e-6 {
			t.Errorf("vertex %d: expected +Z normal, got %v", i, n)
		}
	}
}

func TestFaceNormalDegenerate(t *testing.T) {
	m := &Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 2, 0, 0},
		Normals:  make([]float32, 9),
		Indices:  []uint32{0, 1, 2},
	}
	if n := m.FaceNormal(0); n.Length() != 0 {
		t.Errorf("expected zero normal for collinear triangle, got %v", n)
	}
}

func TestBuilderWelds(t *testing.T) {
	b := NewBuilder("welded", true)
	up := [3]float32{0, 0, 1}
	down := [3]float32{0, 0, -1}

	i0 := b.AddVertex([3]float32{0, 0, 0}, up)
	i1 := b.AddVertex([3]float32{1, 0, 0}, up)
	i2 := b.AddVertex([3]float32{1, 1, 0}, up)
	b.AddTriangle(i0, i1, i2)

	// Second triangle reuses two positions with a different normal.
	j0 := b.AddVertex([3]float32{0, 0, 0}, down)
	j2 := b.AddVertex([3]float32{1, 1, 0}, down)
	j3 := b.AddVertex([3]float32{0, 1, 0}, down)
	b.AddTriangle(j0, j2, j3)

	m := b.Mesh()
	if m.VertexCount() != 4 {
		t.Fatalf("expected 4 welded vertices, got %d", m.VertexCount())
	}
	if j0 != i0 || j2 != i2 {
		t.Errorf("expected shared indices, got %d/%d and %d/%d", i0, j0, i2, j2)
	}
	// First normal wins.
	if n := m.Normal(int(i0)); n.Z != 1 {
		t.Errorf("expected first normal kept, got %v", n)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("built mesh invalid: %v", err)
	}
}

func TestBuilderDropsDegenerate(t *testing.T) {
	b := NewBuilder("", true)
	p := [3]float32{1, 2, 3}
	i := b.AddVertex(p, [3]float32{})
	j := b.AddVertex(p, [3]float32{})
	if b.AddTriangle(i, j, i) {
		t.Error("expected degenerate triangle to be dropped")
	}
	m := b.Mesh()
	if m.TriangleCount() != 0 {
		t.Errorf("expected no triangles, got %d", m.TriangleCount())
	}
	if m.Indices == nil {
		t.Error("indices should be non-nil")
	}
}

func TestBuilderComputesMissingNormals(t *testing.T) {
	b := NewBuilder("", false)
	zero := [3]float32{}
	i0 := b.AddVertex([3]float32{0, 0, 0}, zero)
	i1 := b.AddVertex([3]float32{0, 1, 0}, zero)
	i2 := b.AddVertex([3]float32{0, 0, 1}, zero)
	b.AddTriangle(i0, i1, i2)
	m := b.Mesh()
	if n := m.Normal(0); math.Abs(n.X-1) > 1e-6 {
		t.Errorf("expected +X normal, got %v", n)
	}
}
