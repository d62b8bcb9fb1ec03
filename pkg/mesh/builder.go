package mesh

// Builder assembles an indexed mesh from triangle soup. With welding enabled,
// vertices with bit-identical positions share one index and the first normal
// seen for a position is kept.
type Builder struct {
	m      *Mesh
	weld   bool
	lookup map[[3]float32]uint32
}

// NewBuilder returns a builder for a mesh with the given name.
func NewBuilder(name string, weld bool) *Builder {
	b := &Builder{
		m:    &Mesh{Name: name},
		weld: weld,
	}
	if weld {
		b.lookup = make(map[[3]float32]uint32)
	}
	return b
}

// AddVertex appends a vertex (or finds its welded twin) and returns its index.
func (b *Builder) AddVertex(p, n [3]float32) uint32 {
	if b.weld {
		if idx, ok := b.lookup[p]; ok {
			return idx
		}
	}
	idx := uint32(len(b.m.Vertices) / 3)
	b.m.Vertices = append(b.m.Vertices, p[0], p[1], p[2])
	b.m.Normals = append(b.m.Normals, n[0], n[1], n[2])
	if b.weld {
		b.lookup[p] = idx
	}
	return idx
}

// AddTriangle appends a triangle. Triangles that repeat a vertex index are
// dropped and reported as false.
func (b *Builder) AddTriangle(i0, i1, i2 uint32) bool {
	if i0 == i1 || i1 == i2 || i0 == i2 {
		return false
	}
	b.m.Indices = append(b.m.Indices, i0, i1, i2)
	return true
}

// HasNormals reports whether at least one vertex carries a non-zero normal.
func (b *Builder) HasNormals() bool {
	for _, f := range b.m.Normals {
		if f != 0 {
			return true
		}
	}
	return false
}

// Mesh returns the assembled mesh. Normals are computed from the triangles
// when no vertex carries one. The builder must not be used afterwards.
func (b *Builder) Mesh() *Mesh {
	if !b.HasNormals() {
		b.m.ComputeNormals()
	}
	if b.m.Vertices == nil {
		b.m.Vertices = []float32{}
		b.m.Normals = []float32{}
	}
	if b.m.Indices == nil {
		b.m.Indices = []uint32{}
	}
	return b.m
}
