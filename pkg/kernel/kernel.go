// Package kernel defines the solid modeling interface used to generate
// comparison fixtures and demo parts. Implementations tessellate solids into
// indexed meshes that pass mesh.Validate.
package kernel

import (
	"github.com/deadsy/sdfx/sdf"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// Solid is an opaque handle to a kernel solid.
type Solid interface {
	// Bounds returns the axis-aligned bounding box.
	Bounds() sdf.Box3
}

// Kernel builds and tessellates solids. Primitives are centered on the origin.
type Kernel interface {
	Box(x, y, z float64) (Solid, error)
	Cylinder(height, radius float64) (Solid, error)

	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid

	Translate(s Solid, x, y, z float64) Solid
	Rotate(s Solid, x, y, z float64) Solid // Euler angles in degrees, applied X then Y then Z

	// ToMesh tessellates s into a welded triangle mesh named name.
	ToMesh(s Solid, name string) (*mesh.Mesh, error)
}
