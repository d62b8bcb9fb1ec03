// Package backend defines the numeric backend the comparison workflow calls
// and provides a native implementation of it.
package backend

import (
	"context"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// Backend parses files and computes alignment, distances and matches. Every
// call is request/response; an error means no result fields are populated.
type Backend interface {
	ParseFile(ctx context.Context, raw []byte, filename string) (*mesh.Mesh, error)
	AlignMeshes(ctx context.Context, a, b *mesh.Mesh) (*Alignment, error)
	MeasureDistance(ctx context.Context, a, b *mesh.Mesh) (*Distance, error)
	MatchVertices(ctx context.Context, a, b *mesh.Mesh, threshold float64) (*Match, error)
}

// Alignment is the result of moving B onto A. Mesh replaces B; A is never
// modified.
type Alignment struct {
	Mesh       *mesh.Mesh
	Transform  [16]float64 // row-major 4x4 applied to B
	RMSE       float64
	Iterations int
}

// Distance summarises nearest-vertex distances from A to B.
type Distance struct {
	Min     float64
	Max     float64
	Mean    float64
	Std     float64
	Samples []float64
}

// Match holds per-vertex flags: a vertex matches when the nearest vertex of
// the other mesh lies within the threshold.
type Match struct {
	FlagsA []bool
	FlagsB []bool
}
