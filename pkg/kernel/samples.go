package kernel

import (
	"fmt"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// SamplePair returns a demo comparison: a flat plate and a revision of it
// with a drilled hole, a small offset and a slight twist. The revision is the
// kind of change align, measure and match are meant to reveal.
func SamplePair(k Kernel) (reference, revision *mesh.Mesh, err error) {
	plate, err := k.Box(60, 40, 6)
	if err != nil {
		return nil, nil, fmt.Errorf("plate: %w", err)
	}
	hole, err := k.Cylinder(10, 6)
	if err != nil {
		return nil, nil, fmt.Errorf("hole: %w", err)
	}
	drilled := k.Difference(plate, k.Translate(hole, 15, 0, 0))
	moved := k.Rotate(k.Translate(drilled, 1.5, -1, 0.5), 0, 0, 3)

	reference, err = k.ToMesh(plate, "plate")
	if err != nil {
		return nil, nil, err
	}
	revision, err = k.ToMesh(moved, "plate-drilled")
	if err != nil {
		return nil, nil, err
	}
	return reference, revision, nil
}
