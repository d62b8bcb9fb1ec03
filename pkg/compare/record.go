// Package compare holds the comparison state: two independently loaded mesh
// slots and the match and distance results computed against them.
//
// Every slot carries a generation number that changes whenever its geometry is
// installed, replaced or cleared. Results are stamped with the generations of
// the geometry they were computed from and the store refuses results whose
// stamp no longer matches.
package compare

import (
	"fmt"
	"strings"

	"github.com/chazu/meshdiff/pkg/mesh"
)

// Slot is one of the two comparison positions.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

// Slots lists both slots in render order.
var Slots = [2]Slot{SlotA, SlotB}

func (s Slot) String() string {
	if s == SlotB {
		return "B"
	}
	return "A"
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// Valid reports whether s names a real slot.
func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

// ParseSlot accepts "a", "b", "A" or "B".
func ParseSlot(name string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "a":
		return SlotA, nil
	case "b":
		return SlotB, nil
	}
	return 0, fmt.Errorf("unknown slot %q, expected A or B", name)
}

// ViewState is the per-record display state. It never affects geometry.
type ViewState struct {
	Visible   bool    `json:"visible"`
	Opacity   float64 `json:"opacity"` // 0..1
	Wireframe bool    `json:"wireframe"`
}

// DefaultOpacity matches the initial position of the opacity control.
const DefaultOpacity = 0.7

// DefaultView is the view state given to freshly loaded meshes.
func DefaultView() ViewState {
	return ViewState{Visible: true, Opacity: DefaultOpacity}
}

// MeshRecord is one loaded model. Records are immutable once installed in a
// Store; view changes install a modified copy that shares the mesh buffers.
type MeshRecord struct {
	Slot       Slot
	Name       string
	Mesh       *mesh.Mesh
	View       ViewState
	Generation uint64 // assigned by the store on install
}

// NewMeshRecord validates m and wraps it for slot. Buffer invariant violations
// are reported as a *ParseError naming the record.
func NewMeshRecord(slot Slot, name string, m *mesh.Mesh, view ViewState) (*MeshRecord, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("invalid slot %d", slot)
	}
	if m == nil {
		return nil, &ParseError{Filename: name, Err: fmt.Errorf("no geometry")}
	}
	if err := m.Validate(); err != nil {
		return nil, &ParseError{Filename: name, Err: err}
	}
	return &MeshRecord{Slot: slot, Name: name, Mesh: m, View: view}, nil
}

// VertexCount returns the number of vertices in the record's mesh.
func (r *MeshRecord) VertexCount() int {
	return r.Mesh.VertexCount()
}

// withView returns a copy carrying view.
func (r *MeshRecord) withView(view ViewState) *MeshRecord {
	c := *r
	c.View = view
	return &c
}
