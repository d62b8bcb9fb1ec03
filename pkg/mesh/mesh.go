// Package mesh holds the flat triangle buffer representation shared by the
// parsers, the comparison store and the derived geometry builder.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// ErrInvalid is wrapped by every buffer invariant violation reported by Validate.
var ErrInvalid = errors.New("invalid mesh")

// Mesh is an indexed triangle mesh.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
//
// A Mesh installed in the comparison store is treated as read-only; callers
// that need to modify buffers work on a Clone.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	Name     string    `json:"name"`
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// Vertex returns vertex i as a vector.
func (m *Mesh) Vertex(i int) v3.Vec {
	return v3.Vec{
		X: float64(m.Vertices[i*3]),
		Y: float64(m.Vertices[i*3+1]),
		Z: float64(m.Vertices[i*3+2]),
	}
}

// Normal returns the normal of vertex i as a vector.
func (m *Mesh) Normal(i int) v3.Vec {
	return v3.Vec{
		X: float64(m.Normals[i*3]),
		Y: float64(m.Normals[i*3+1]),
		Z: float64(m.Normals[i*3+2]),
	}
}

// Triangle returns the three vertex indices of triangle t.
func (m *Mesh) Triangle(t int) [3]uint32 {
	return [3]uint32{m.Indices[t*3], m.Indices[t*3+1], m.Indices[t*3+2]}
}

// Validate checks the buffer invariants: whole vertex triples, one normal per
// vertex, whole index triples and every index naming an existing vertex.
func (m *Mesh) Validate() error {
	if len(m.Vertices)%3 != 0 {
		return fmt.Errorf("%w: vertex buffer length %d is not a multiple of 3", ErrInvalid, len(m.Vertices))
	}
	if len(m.Normals) != len(m.Vertices) {
		return fmt.Errorf("%w: %d normal components for %d vertex components",
			ErrInvalid, len(m.Normals), len(m.Vertices))
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: index buffer length %d is not a multiple of 3", ErrInvalid, len(m.Indices))
	}
	n := uint32(m.VertexCount())
	for pos, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("%w: index %d at position %d out of range (%d vertices)", ErrInvalid, idx, pos, n)
		}
	}
	for i, f := range m.Vertices {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite coordinate at component %d", ErrInvalid, i)
		}
	}
	return nil
}

// Bounds returns the axis-aligned bounding box. An empty mesh yields a zero box.
func (m *Mesh) Bounds() sdf.Box3 {
	if m.IsEmpty() {
		return sdf.Box3{}
	}
	lo := m.Vertex(0)
	hi := lo
	for i := 1; i < m.VertexCount(); i++ {
		v := m.Vertex(i)
		lo = lo.Min(v)
		hi = hi.Max(v)
	}
	return sdf.Box3{Min: lo, Max: hi}
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices: append([]float32(nil), m.Vertices...),
		Normals:  append([]float32(nil), m.Normals...),
		Indices:  append([]uint32(nil), m.Indices...),
		Name:     m.Name,
	}
}

// ComputeNormals replaces the normal buffer with area-weighted vertex normals.
// Vertices not referenced by any triangle get a zero normal.
func (m *Mesh) ComputeNormals() {
	acc := make([]v3.Vec, m.VertexCount())
	for t := 0; t < m.TriangleCount(); t++ {
		tri := m.Triangle(t)
		a, b, c := m.Vertex(int(tri[0])), m.Vertex(int(tri[1])), m.Vertex(int(tri[2]))
		// The unnormalised cross product weights by twice the triangle area.
		n := b.Sub(a).Cross(c.Sub(a))
		for _, idx := range tri {
			acc[idx] = acc[idx].Add(n)
		}
	}
	normals := make([]float32, len(m.Vertices))
	for i, n := range acc {
		if l := n.Length(); l > 0 {
			n = n.MulScalar(1 / l)
		}
		normals[i*3] = float32(n.X)
		normals[i*3+1] = float32(n.Y)
		normals[i*3+2] = float32(n.Z)
	}
	m.Normals = normals
}

// FaceNormal returns the unit normal of triangle t following its winding.
// Degenerate triangles return the zero vector.
func (m *Mesh) FaceNormal(t int) v3.Vec {
	tri := m.Triangle(t)
	a, b, c := m.Vertex(int(tri[0])), m.Vertex(int(tri[1])), m.Vertex(int(tri[2]))
	n := b.Sub(a).Cross(c.Sub(a))
	if l := n.Length(); l > 0 {
		return n.MulScalar(1 / l)
	}
	return v3.Vec{}
}
