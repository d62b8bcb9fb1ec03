package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/log"

	"github.com/chazu/meshdiff/pkg/mesh"
	"github.com/chazu/meshdiff/pkg/meshio"
)

// ErrEmptyMesh is returned when an operation is given a mesh with no vertices.
var ErrEmptyMesh = errors.New("mesh has no vertices")

// cancelCheckInterval is how many vertices are processed between context checks.
const cancelCheckInterval = 1024

// Options tunes the native backend.
type Options struct {
	// MaxIterations bounds the ICP loop.
	MaxIterations int
	// MaxSamples bounds the number of B vertices used per ICP iteration.
	MaxSamples int
	// Tolerance stops ICP once the RMSE improves by less than this.
	Tolerance float64
	// MaxCorrespondence ignores ICP pairs farther apart than this; 0 disables.
	MaxCorrespondence float64
	// SampleLimit bounds the distance samples returned by MeasureDistance.
	SampleLimit int
}

// DefaultOptions returns the settings used when no config file is present.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 50,
		MaxSamples:    5000,
		Tolerance:     1e-6,
		SampleLimit:   1000,
	}
}

// Local is the in-process Backend.
type Local struct {
	opts Options
	log  *log.Logger
}

var _ Backend = (*Local)(nil)

// NewLocal returns a native backend. A nil logger discards output.
func NewLocal(opts Options, logger *log.Logger) *Local {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Local{opts: opts, log: logger}
}

// ParseFile decodes raw file contents by extension.
func (l *Local) ParseFile(ctx context.Context, raw []byte, filename string) (*mesh.Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := meshio.Parse(raw, filename)
	if err != nil {
		return nil, err
	}
	l.log.Debug("parsed mesh", "file", filename, "vertices", m.VertexCount(), "triangles", m.TriangleCount())
	return m, nil
}

// MeasureDistance computes, for every vertex of a, the distance to the
// nearest vertex of b.
func (l *Local) MeasureDistance(ctx context.Context, a, b *mesh.Mesh) (*Distance, error) {
	if a.IsEmpty() || b.IsEmpty() {
		return nil, ErrEmptyMesh
	}
	idx := newPointIndex(b)

	n := a.VertexCount()
	d := &Distance{Min: math.Inf(1), Max: math.Inf(-1)}
	limit := l.opts.SampleLimit
	if limit <= 0 || limit > n {
		limit = n
	}
	d.Samples = make([]float64, 0, limit)

	var sum, sumSq float64
	for i := 0; i < n; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		_, dist := idx.nearest(a.Vertex(i))
		sum += dist
		sumSq += dist * dist
		d.Min = math.Min(d.Min, dist)
		d.Max = math.Max(d.Max, dist)
		if len(d.Samples) < limit {
			d.Samples = append(d.Samples, dist)
		}
	}
	d.Mean = sum / float64(n)
	// Population standard deviation.
	variance := sumSq/float64(n) - d.Mean*d.Mean
	d.Std = math.Sqrt(math.Max(0, variance))

	l.log.Debug("measured distance", "vertices", n, "mean", d.Mean, "max", d.Max)
	return d, nil
}

// MatchVertices flags every vertex of each mesh whose nearest neighbour in
// the other mesh is within threshold.
func (l *Local) MatchVertices(ctx context.Context, a, b *mesh.Mesh, threshold float64) (*Match, error) {
	if !(threshold > 0) {
		return nil, fmt.Errorf("threshold %v must be positive", threshold)
	}
	if a.IsEmpty() || b.IsEmpty() {
		return nil, ErrEmptyMesh
	}

	flagsA, err := matchAgainst(ctx, a, newPointIndex(b), threshold)
	if err != nil {
		return nil, err
	}
	flagsB, err := matchAgainst(ctx, b, newPointIndex(a), threshold)
	if err != nil {
		return nil, err
	}
	return &Match{FlagsA: flagsA, FlagsB: flagsB}, nil
}

func matchAgainst(ctx context.Context, m *mesh.Mesh, other *pointIndex, threshold float64) ([]bool, error) {
	flags := make([]bool, m.VertexCount())
	for i := range flags {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		_, dist := other.nearest(m.Vertex(i))
		flags[i] = dist <= threshold
	}
	return flags, nil
}
