package backend

import (
	"github.com/dhconnelly/rtreego"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// pointTolerance is the half-width of the box each indexed point occupies.
const pointTolerance = 1e-9

// indexedPoint is a mesh vertex stored in the R-tree.
type indexedPoint struct {
	idx int
	p   v3.Vec
}

func (ip *indexedPoint) Bounds() rtreego.Rect {
	return rtreego.Point{ip.p.X, ip.p.Y, ip.p.Z}.ToRect(pointTolerance)
}

// pointIndex answers nearest-vertex queries against one mesh.
type pointIndex struct {
	tree *rtreego.Rtree
}

func newPointIndex(m *mesh.Mesh) *pointIndex {
	objs := make([]rtreego.Spatial, m.VertexCount())
	for i := range objs {
		objs[i] = &indexedPoint{idx: i, p: m.Vertex(i)}
	}
	return &pointIndex{tree: rtreego.NewTree(3, 25, 50, objs...)}
}

// nearest returns the closest indexed vertex to p and its distance.
func (pi *pointIndex) nearest(p v3.Vec) (v3.Vec, float64) {
	hit := pi.tree.NearestNeighbor(rtreego.Point{p.X, p.Y, p.Z})
	q := hit.(*indexedPoint).p
	return q, q.Sub(p).Length()
}
