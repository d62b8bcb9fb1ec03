// Package meshio reads and writes the mesh file formats accepted by the
// comparison tool. STL (ASCII and binary) and Wavefront OBJ are decoded into
// indexed meshes; STEP and IGES are recognised but need a CAD kernel this
// build does not carry.
package meshio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/meshdiff/pkg/mesh"
)

var (
	// ErrUnsupportedFormat is returned for file extensions with no decoder.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrCADFormat is returned for STEP/IGES input.
	ErrCADFormat = errors.New("CAD kernel not available, convert to STL or OBJ")

	// ErrEmpty is returned when a file decodes to no triangles.
	ErrEmpty = errors.New("file contains no triangles")
)

// Format identifies a mesh file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatSTL
	FormatOBJ
	FormatSTEP
	FormatIGES
)

func (f Format) String() string {
	switch f {
	case FormatSTL:
		return "stl"
	case FormatOBJ:
		return "obj"
	case FormatSTEP:
		return "step"
	case FormatIGES:
		return "iges"
	}
	return "unknown"
}

// Extensions lists the file extensions the tool accepts in file pickers.
var Extensions = []string{".stl", ".obj", ".step", ".stp", ".iges", ".igs"}

// DetectFormat maps a filename to a format by extension, case-insensitively.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".stl":
		return FormatSTL
	case ".obj":
		return FormatOBJ
	case ".step", ".stp":
		return FormatSTEP
	case ".iges", ".igs":
		return FormatIGES
	}
	return FormatUnknown
}

// Parse decodes raw file contents into a validated mesh. The filename selects
// the decoder and becomes the mesh name.
func Parse(raw []byte, filename string) (*mesh.Mesh, error) {
	name := filepath.Base(filename)

	var (
		m   *mesh.Mesh
		err error
	)
	switch DetectFormat(filename) {
	case FormatSTL:
		m, err = ParseSTL(raw, name)
	case FormatOBJ:
		m, err = ParseOBJ(raw, name)
	case FormatSTEP, FormatIGES:
		return nil, fmt.Errorf("%s: %w", name, ErrCADFormat)
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}

	if m.TriangleCount() == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}
