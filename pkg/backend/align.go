package backend

import (
	"context"
	"fmt"
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// rigid is a rotation followed by a translation.
type rigid struct {
	r [3][3]float64
	t v3.Vec
}

func identity() rigid {
	return rigid{r: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

func (x rigid) rotate(p v3.Vec) v3.Vec {
	return v3.Vec{
		X: x.r[0][0]*p.X + x.r[0][1]*p.Y + x.r[0][2]*p.Z,
		Y: x.r[1][0]*p.X + x.r[1][1]*p.Y + x.r[1][2]*p.Z,
		Z: x.r[2][0]*p.X + x.r[2][1]*p.Y + x.r[2][2]*p.Z,
	}
}

func (x rigid) apply(p v3.Vec) v3.Vec {
	return x.rotate(p).Add(x.t)
}

// then returns the transform applying x first and y second.
func (x rigid) then(y rigid) rigid {
	var out rigid
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out.r[i][j] += y.r[i][k] * x.r[k][j]
			}
		}
	}
	out.t = y.apply(x.t)
	return out
}

// matrix returns the row-major 4x4 homogeneous form.
func (x rigid) matrix() [16]float64 {
	return [16]float64{
		x.r[0][0], x.r[0][1], x.r[0][2], x.t.X,
		x.r[1][0], x.r[1][1], x.r[1][2], x.t.Y,
		x.r[2][0], x.r[2][1], x.r[2][2], x.t.Z,
		0, 0, 0, 1,
	}
}

// AlignMeshes rigidly moves b onto a with point-to-point ICP and returns the
// moved copy of b. Neither input is modified.
func (l *Local) AlignMeshes(ctx context.Context, a, b *mesh.Mesh) (*Alignment, error) {
	if a.IsEmpty() || b.IsEmpty() {
		return nil, ErrEmptyMesh
	}
	target := newPointIndex(a)
	src := sampleVertices(b, l.opts.MaxSamples)

	total := identity()
	cur := make([]v3.Vec, len(src))
	copy(cur, src)

	prev := math.Inf(1)
	iterations := 0
	maxIter := l.opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultOptions().MaxIterations
	}

	for iterations < maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, q, rmse := l.correspondences(cur, target)
		if len(p) < 3 {
			return nil, fmt.Errorf("only %d correspondences within %.4g, need at least 3",
				len(p), l.opts.MaxCorrespondence)
		}
		if prev-rmse < l.opts.Tolerance {
			break
		}
		prev = rmse

		step, err := bestRigid(p, q)
		if err != nil {
			return nil, err
		}
		for i := range cur {
			cur[i] = step.apply(cur[i])
		}
		total = total.then(step)
		iterations++
	}

	_, _, rmse := l.correspondences(cur, target)
	out := transformMesh(b, total)
	l.log.Debug("aligned mesh", "iterations", iterations, "rmse", rmse, "samples", len(src))

	return &Alignment{
		Mesh:       out,
		Transform:  total.matrix(),
		RMSE:       rmse,
		Iterations: iterations,
	}, nil
}

// correspondences pairs every point with its nearest target vertex, dropping
// pairs beyond the correspondence limit, and returns the RMSE of the kept pairs.
func (l *Local) correspondences(pts []v3.Vec, target *pointIndex) (p, q []v3.Vec, rmse float64) {
	p = make([]v3.Vec, 0, len(pts))
	q = make([]v3.Vec, 0, len(pts))
	var sumSq float64
	for _, pt := range pts {
		nn, d := target.nearest(pt)
		if l.opts.MaxCorrespondence > 0 && d > l.opts.MaxCorrespondence {
			continue
		}
		p = append(p, pt)
		q = append(q, nn)
		sumSq += d * d
	}
	if len(p) > 0 {
		rmse = math.Sqrt(sumSq / float64(len(p)))
	}
	return p, q, rmse
}

// sampleVertices picks at most max vertices with a fixed stride so repeated
// runs see the same samples.
func sampleVertices(m *mesh.Mesh, max int) []v3.Vec {
	n := m.VertexCount()
	stride := 1
	if max > 0 && n > max {
		stride = (n + max - 1) / max
	}
	out := make([]v3.Vec, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		out = append(out, m.Vertex(i))
	}
	return out
}

// bestRigid returns the rotation and translation minimising the squared
// distance from p[i] to q[i], using Horn's unit quaternion method.
func bestRigid(p, q []v3.Vec) (rigid, error) {
	n := float64(len(p))
	var cp, cq v3.Vec
	for i := range p {
		cp = cp.Add(p[i])
		cq = cq.Add(q[i])
	}
	cp = cp.MulScalar(1 / n)
	cq = cq.MulScalar(1 / n)

	var s [3][3]float64
	for i := range p {
		a := p[i].Sub(cp)
		b := q[i].Sub(cq)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				s[r][c] += av[r] * bv[c]
			}
		}
	}

	sxx, sxy, sxz := s[0][0], s[0][1], s[0][2]
	syx, syy, syz := s[1][0], s[1][1], s[1][2]
	szx, szy, szz := s[2][0], s[2][1], s[2][2]
	nm := [4][4]float64{
		{sxx + syy + szz, syz - szy, szx - sxz, sxy - syx},
		{syz - szy, sxx - syy - szz, sxy + syx, szx + sxz},
		{szx - sxz, sxy + syx, -sxx + syy - szz, syz + szy},
		{sxy - syx, szx + sxz, syz + szy, -sxx - syy + szz},
	}

	vals, vecs := jacobiEigen(nm)
	best := 0
	for i := 1; i < 4; i++ {
		if vals[i] > vals[best] {
			best = i
		}
	}
	w, x, y, z := vecs[0][best], vecs[1][best], vecs[2][best], vecs[3][best]
	norm := math.Sqrt(w*w + x*x + y*y + z*z)
	if norm == 0 || math.IsNaN(norm) {
		return rigid{}, fmt.Errorf("degenerate correspondence set")
	}
	w, x, y, z = w/norm, x/norm, y/norm, z/norm

	rot := rigid{r: [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}}
	rot.t = cq.Sub(rot.rotate(cp))
	return rot, nil
}

// jacobiEigen diagonalises a symmetric 4x4 matrix. It returns the eigenvalues
// and a matrix whose columns are the matching eigenvectors.
func jacobiEigen(a [4][4]float64) (vals [4]float64, vecs [4][4]float64) {
	for i := 0; i < 4; i++ {
		vecs[i][i] = 1
	}
	for sweep := 0; sweep < 64; sweep++ {
		off, diag := 0.0, 0.0
		for p := 0; p < 4; p++ {
			diag += a[p][p] * a[p][p]
			for q := p + 1; q < 4; q++ {
				off += a[p][q] * a[p][q]
			}
		}
		if off <= 1e-24*diag || off == 0 {
			break
		}
		for p := 0; p < 3; p++ {
			for q := p + 1; q < 4; q++ {
				if math.Abs(a[p][q]) < 1e-300 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := 1 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				if theta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for k := 0; k < 4; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < 4; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
				for k := 0; k < 4; k++ {
					vkp, vkq := vecs[k][p], vecs[k][q]
					vecs[k][p] = c*vkp - s*vkq
					vecs[k][q] = s*vkp + c*vkq
				}
			}
		}
	}
	for i := 0; i < 4; i++ {
		vals[i] = a[i][i]
	}
	return vals, vecs
}

// transformMesh returns a copy of m with x applied to vertices and its
// rotation applied to normals.
func transformMesh(m *mesh.Mesh, x rigid) *mesh.Mesh {
	out := m.Clone()
	for i := 0; i < m.VertexCount(); i++ {
		v := x.apply(m.Vertex(i))
		out.Vertices[i*3] = float32(v.X)
		out.Vertices[i*3+1] = float32(v.Y)
		out.Vertices[i*3+2] = float32(v.Z)

		n := x.rotate(m.Normal(i))
		if l := n.Length(); l > 0 {
			n = n.MulScalar(1 / l)
		}
		out.Normals[i*3] = float32(n.X)
		out.Normals[i*3+1] = float32(n.Y)
		out.Normals[i*3+2] = float32(n.Z)
	}
	return out
}
