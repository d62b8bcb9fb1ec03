package meshio

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// ParseOBJ decodes the geometry of a Wavefront OBJ file: positions, normals
// and faces. Polygons are fan-triangulated. Face corners may use the v,
// v/vt, v//vn and v/vt/vn forms with 1-based or negative (relative) indices.
// A vertex takes the first normal any face assigns to it; when the file has
// no normals at all they are computed from the faces.
func ParseOBJ(raw []byte, name string) (*mesh.Mesh, error) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var positions [][3]float32
	var normals [][3]float32
	var faces [][]objCorner
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: vertex needs 3 coordinates", lineNo)
			}
			p, err := parseTriple(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("obj line %d: vertex: %w", lineNo, err)
			}
			positions = append(positions, p)

		case "vn":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: normal needs 3 components", lineNo)
			}
			n, err := parseTriple(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("obj line %d: normal: %w", lineNo, err)
			}
			normals = append(normals, n)

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("obj line %d: face needs at least 3 vertices", lineNo)
			}
			face := make([]objCorner, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				c, err := parseCorner(tok, len(positions), len(normals))
				if err != nil {
					return nil, fmt.Errorf("obj line %d: %w", lineNo, err)
				}
				face = append(face, c)
			}
			faces = append(faces, face)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading OBJ: %w", err)
	}

	m := &mesh.Mesh{
		Name:     name,
		Vertices: make([]float32, 0, len(positions)*3),
		Normals:  make([]float32, len(positions)*3),
		Indices:  []uint32{},
	}
	for _, p := range positions {
		m.Vertices = append(m.Vertices, p[0], p[1], p[2])
	}

	assigned := make([]bool, len(positions))
	haveNormals := false
	for _, face := range faces {
		for _, c := range face {
			if c.normal < 0 || assigned[c.vertex] {
				continue
			}
			n := normals[c.normal]
			copy(m.Normals[c.vertex*3:c.vertex*3+3], n[:])
			assigned[c.vertex] = true
			haveNormals = true
		}
		// Fan triangulation around the first corner.
		for k := 1; k+1 < len(face); k++ {
			i0, i1, i2 := uint32(face[0].vertex), uint32(face[k].vertex), uint32(face[k+1].vertex)
			if i0 == i1 || i1 == i2 || i0 == i2 {
				continue
			}
			m.Indices = append(m.Indices, i0, i1, i2)
		}
	}
	if !haveNormals {
		m.ComputeNormals()
		return m, nil
	}

	// Fill vertices no face gave a normal to.
	var computed *mesh.Mesh
	for i, ok := range assigned {
		if ok {
			continue
		}
		if computed == nil {
			computed = m.Clone()
			computed.ComputeNormals()
		}
		copy(m.Normals[i*3:i*3+3], computed.Normals[i*3:i*3+3])
	}
	return m, nil
}

// objCorner is one resolved face corner; normal is -1 when absent.
type objCorner struct {
	vertex int
	normal int
}

func parseCorner(tok string, nPositions, nNormals int) (objCorner, error) {
	parts := strings.Split(tok, "/")
	v, err := resolveIndex(parts[0], nPositions)
	if err != nil {
		return objCorner{}, fmt.Errorf("face vertex %q: %w", tok, err)
	}
	c := objCorner{vertex: v, normal: -1}
	if len(parts) >= 3 && parts[2] != "" {
		n, err := resolveIndex(parts[2], nNormals)
		if err != nil {
			return objCorner{}, fmt.Errorf("face normal %q: %w", tok, err)
		}
		c.normal = n
	}
	return c, nil
}

// resolveIndex converts a 1-based or negative OBJ index to a 0-based one.
func resolveIndex(s string, count int) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i = count + i
	default:
		return 0, fmt.Errorf("index 0 is not valid")
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("index out of range (%d defined)", count)
	}
	return i, nil
}
