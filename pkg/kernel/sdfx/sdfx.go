// Package sdfx implements kernel.Kernel with the github.com/deadsy/sdfx
// SDF library and marching cubes tessellation.
package sdfx

import (
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/meshdiff/pkg/kernel"
	"github.com/chazu/meshdiff/pkg/mesh"
)

var _ kernel.Kernel = (*Kernel)(nil)

// DefaultCells is the marching cubes resolution along the longest axis.
const DefaultCells = 120

type solid struct {
	s sdf.SDF3
}

func (s *solid) Bounds() sdf.Box3 {
	return s.s.BoundingBox()
}

// Kernel is the sdfx-backed kernel.
type Kernel struct {
	cells int
}

// New returns a kernel tessellating with the given number of cells; zero
// means DefaultCells.
func New(cells int) *Kernel {
	if cells <= 0 {
		cells = DefaultCells
	}
	return &Kernel{cells: cells}
}

func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*solid).s
}

func wrap(s sdf.SDF3) kernel.Solid {
	return &solid{s: s}
}

// Box creates a box centered on the origin.
func (k *Kernel) Box(x, y, z float64) (kernel.Solid, error) {
	s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, 0)
	if err != nil {
		return nil, fmt.Errorf("box %gx%gx%g: %w", x, y, z, err)
	}
	return wrap(s), nil
}

// Cylinder creates a cylinder along Z centered on the origin.
func (k *Kernel) Cylinder(height, radius float64) (kernel.Solid, error) {
	s, err := sdf.Cylinder3D(height, radius, 0)
	if err != nil {
		return nil, fmt.Errorf("cylinder h=%g r=%g: %w", height, radius, err)
	}
	return wrap(s), nil
}

func (k *Kernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Difference returns a minus b.
func (k *Kernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)))
}

func (k *Kernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	return wrap(sdf.Transform3D(unwrap(s), sdf.Translate3d(v3.Vec{X: x, Y: y, Z: z})))
}

func (k *Kernel) Rotate(s kernel.Solid, x, y, z float64) kernel.Solid {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	m := sdf.RotateZ(rad(z)).Mul(sdf.RotateY(rad(y))).Mul(sdf.RotateX(rad(x)))
	return wrap(sdf.Transform3D(unwrap(s), m))
}

// ToMesh runs marching cubes and welds the triangle soup by exact vertex
// position. Degenerate triangles are dropped and vertex normals are the
// area-weighted average of the adjacent faces.
func (k *Kernel) ToMesh(s kernel.Solid, name string) (*mesh.Mesh, error) {
	triangles := render.ToTriangles(unwrap(s), render.NewMarchingCubesUniform(k.cells))
	if len(triangles) == 0 {
		return nil, fmt.Errorf("tessellate %s: no triangles", name)
	}

	b := mesh.NewBuilder(name, true)
	var zero [3]float32
	for _, tri := range triangles {
		var idx [3]uint32
		for j := 0; j < 3; j++ {
			v := tri[j]
			idx[j] = b.AddVertex([3]float32{float32(v.X), float32(v.Y), float32(v.Z)}, zero)
		}
		b.AddTriangle(idx[0], idx[1], idx[2])
	}
	m := b.Mesh()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("tessellate %s: %w", name, err)
	}
	return m, nil
}
