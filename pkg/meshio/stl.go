package meshio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/meshdiff/pkg/mesh"
)

const (
	stlHeaderSize = 80
	stlFacetSize  = 50
)

// stlFacet is the on-disk layout of one binary STL triangle.
type stlFacet struct {
	Normal   [3]float32
	Vertices [3][3]float32
	Attr     uint16
}

// ParseSTL decodes an STL file. It automatically detects whether the data is
// ASCII or binary. Vertices are welded by exact position; a welded vertex keeps
// the normal of the first facet that introduced it.
func ParseSTL(raw []byte, name string) (*mesh.Mesh, error) {
	if isBinarySTL(raw) {
		return parseBinarySTL(raw, name)
	}
	if bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("solid")) {
		return parseASCIISTL(raw, name)
	}
	return parseBinarySTL(raw, name)
}

// isBinarySTL reports whether the triangle count in the header matches the
// payload size. Many exporters write "solid" into binary headers, so the size
// check wins over the keyword.
func isBinarySTL(raw []byte) bool {
	if len(raw) < stlHeaderSize+4 {
		return false
	}
	count := binary.LittleEndian.Uint32(raw[stlHeaderSize : stlHeaderSize+4])
	return uint64(stlHeaderSize+4)+uint64(count)*stlFacetSize == uint64(len(raw))
}

// parseASCIISTL parses an ASCII STL file
func parseASCIISTL(raw []byte, name string) (*mesh.Mesh, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	b := mesh.NewBuilder(name, true)

	var normal [3]float32
	var corners [][3]float32
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "facet":
			if len(fields) < 5 || fields[1] != "normal" {
				return nil, fmt.Errorf("stl line %d: malformed facet", lineNo)
			}
			n, err := parseTriple(fields[2:5])
			if err != nil {
				return nil, fmt.Errorf("stl line %d: normal: %w", lineNo, err)
			}
			normal = n
			corners = corners[:0]

		case "vertex":
			if len(fields) < 4 {
				return nil, fmt.Errorf("stl line %d: malformed vertex", lineNo)
			}
			v, err := parseTriple(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("stl line %d: vertex: %w", lineNo, err)
			}
			corners = append(corners, v)

		case "endfacet":
			if len(corners) != 3 {
				return nil, fmt.Errorf("stl line %d: facet has %d vertices, expected 3", lineNo, len(corners))
			}
			addFacet(b, normal, corners[0], corners[1], corners[2])
			corners = corners[:0]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ASCII STL: %w", err)
	}

	return b.Mesh(), nil
}

// parseBinarySTL parses a binary STL file
func parseBinarySTL(raw []byte, name string) (*mesh.Mesh, error) {
	if len(raw) < stlHeaderSize+4 {
		return nil, fmt.Errorf("binary stl: %d bytes is shorter than the header", len(raw))
	}
	count := binary.LittleEndian.Uint32(raw[stlHeaderSize : stlHeaderSize+4])
	need := uint64(stlHeaderSize+4) + uint64(count)*stlFacetSize
	if uint64(len(raw)) < need {
		return nil, fmt.Errorf("binary stl: header declares %d triangles but only %d bytes present", count, len(raw))
	}

	r := bytes.NewReader(raw[stlHeaderSize+4:])
	b := mesh.NewBuilder(name, true)

	for i := uint32(0); i < count; i++ {
		var f stlFacet
		if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
			return nil, fmt.Errorf("failed to read triangle %d: %w", i, err)
		}
		addFacet(b, f.Normal, f.Vertices[0], f.Vertices[1], f.Vertices[2])
	}

	return b.Mesh(), nil
}

func addFacet(b *mesh.Builder, n, v0, v1, v2 [3]float32) {
	i0 := b.AddVertex(v0, n)
	i1 := b.AddVertex(v1, n)
	i2 := b.AddVertex(v2, n)
	b.AddTriangle(i0, i1, i2)
}

func parseTriple(fields []string) ([3]float32, error) {
	var out [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return out, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// WriteSTL writes m as a binary STL. Facet normals are recomputed from the
// triangle winding.
func WriteSTL(w io.Writer, m *mesh.Mesh) error {
	header := make([]byte, stlHeaderSize)
	copy(header, "meshdiff "+m.Name)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.TriangleCount())); err != nil {
		return fmt.Errorf("write triangle count: %w", err)
	}

	bw := bufio.NewWriter(w)
	for t := 0; t < m.TriangleCount(); t++ {
		n := m.FaceNormal(t)
		f := stlFacet{Normal: [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}}
		for j, idx := range m.Triangle(t) {
			v := m.Vertex(int(idx))
			f.Vertices[j] = [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
		}
		if err := binary.Write(bw, binary.LittleEndian, &f); err != nil {
			return fmt.Errorf("write triangle %d: %w", t, err)
		}
	}
	return bw.Flush()
}
