// Package derive turns mesh records and match flags into renderable geometry
// descriptors. Everything here is a pure function of its inputs.
package derive

import (
	"fmt"

	"github.com/chazu/meshdiff/pkg/compare"
)

// Kind names the role a descriptor plays for its slot.
type Kind int

const (
	KindBase Kind = iota
	KindOverlay
	KindMatchOnly
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindOverlay:
		return "overlay"
	case KindMatchOnly:
		return "match-only"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Key identifies a descriptor across rebuilds.
type Key struct {
	Slot compare.Slot
	Kind Kind
}

func (k Key) String() string {
	return k.Slot.String() + "/" + k.Kind.String()
}

// Less orders keys by slot, then kind.
func (k Key) Less(o Key) bool {
	if k.Slot != o.Slot {
		return k.Slot < o.Slot
	}
	return k.Kind < o.Kind
}

// Material is the appearance of a descriptor.
type Material struct {
	Color        Color   `json:"-"`
	VertexColors bool    `json:"vertexColors"`
	Opacity      float32 `json:"opacity"`
	Transparent  bool    `json:"transparent"`
	Wireframe    bool    `json:"wireframe"`
	DoubleSided  bool    `json:"doubleSided"`
	DepthWrite   bool    `json:"depthWrite"`
}

// Descriptor is one renderable geometry+material unit.
//
// Vertices and Normals alias the source record's buffers and must be treated
// as read-only. Generation and MatchRevision identify the buffer contents:
// two descriptors with the same key and the same pair carry the same geometry.
type Descriptor struct {
	Key           Key
	Generation    uint64
	MatchRevision uint64

	Vertices []float32
	Normals  []float32
	Indices  []uint32
	Colors   []float32 // per-vertex RGB, overlay only

	Material Material
	Visible  bool
}

// SameGeometry reports whether d and o carry identical buffers.
func (d *Descriptor) SameGeometry(o *Descriptor) bool {
	return d.Key == o.Key && d.Generation == o.Generation && d.MatchRevision == o.MatchRevision
}

// Options selects optional layers.
type Options struct {
	Overlay bool
	Palette Palette
}

// Build derives the descriptors for one record. flags may be nil; when
// present it must hold one entry per vertex. matchRevision identifies flags
// and is ignored when flags is nil.
//
// The base descriptor is always produced. It is hidden while the overlay is
// shown. The overlay is produced when flags are present and opts.Overlay is
// set. The match-only descriptor is produced when flags are present and at
// least one triangle has all three vertices flagged.
func Build(rec *compare.MeshRecord, flags []bool, matchRevision uint64, opts Options) ([]Descriptor, error) {
	m := rec.Mesh
	if flags != nil && len(flags) != m.VertexCount() {
		return nil, fmt.Errorf("slot %s: %d match flags for %d vertices", rec.Slot, len(flags), m.VertexCount())
	}
	p := opts.Palette
	overlay := flags != nil && opts.Overlay

	base := Descriptor{
		Key:        Key{Slot: rec.Slot, Kind: KindBase},
		Generation: rec.Generation,
		Vertices:   m.Vertices,
		Normals:    m.Normals,
		Indices:    m.Indices,
		Material: Material{
			Color:       baseColor(p, rec.Slot),
			Opacity:     clamp01(float32(rec.View.Opacity)),
			Transparent: rec.View.Opacity < 1,
			Wireframe:   rec.View.Wireframe,
			DoubleSided: true,
			DepthWrite:  true,
		},
		Visible: rec.View.Visible && !overlay,
	}
	out := []Descriptor{base}

	if flags == nil {
		return out, nil
	}

	if overlay {
		out = append(out, Descriptor{
			Key:           Key{Slot: rec.Slot, Kind: KindOverlay},
			Generation:    rec.Generation,
			MatchRevision: matchRevision,
			Vertices:      m.Vertices,
			Normals:       m.Normals,
			Indices:       m.Indices,
			Colors:        VertexColors(flags, p.Match, nonMatchColor(p, rec.Slot)),
			Material: Material{
				VertexColors: true,
				Opacity:      p.OverlayOpacity,
				Transparent:  p.OverlayOpacity < 1,
				DoubleSided:  true,
				DepthWrite:   true,
			},
			Visible: rec.View.Visible,
		})
	}

	if idx := MatchingTriangles(m.Indices, flags); len(idx) > 0 {
		out = append(out, Descriptor{
			Key:           Key{Slot: rec.Slot, Kind: KindMatchOnly},
			Generation:    rec.Generation,
			MatchRevision: matchRevision,
			Vertices:      m.Vertices,
			Normals:       m.Normals,
			Indices:       idx,
			Material: Material{
				Color:       p.MatchOnly,
				Opacity:     p.MatchOnlyOpacity,
				Transparent: true,
				DoubleSided: true,
			},
			Visible: rec.View.Visible,
		})
	}
	return out, nil
}

// BuildScene derives the descriptors for every occupied slot of snap, A first.
func BuildScene(snap compare.Snapshot, p Palette) ([]Descriptor, error) {
	var out []Descriptor
	for _, slot := range compare.Slots {
		rec := snap.Slots[slot]
		if rec == nil {
			continue
		}
		var flags []bool
		var rev uint64
		if snap.Match != nil {
			flags = snap.Match.Flags(slot)
			rev = snap.Match.Revision
		}
		descs, err := Build(rec, flags, rev, Options{Overlay: snap.Display.Overlay, Palette: p})
		if err != nil {
			return nil, err
		}
		out = append(out, descs...)
	}
	return out, nil
}

// MatchingTriangles returns the index triples whose three vertices are all
// flagged, in source order. Vertex indices are not compacted.
func MatchingTriangles(indices []uint32, flags []bool) []uint32 {
	var out []uint32
	for t := 0; t+2 < len(indices); t += 3 {
		i0, i1, i2 := indices[t], indices[t+1], indices[t+2]
		if flags[i0] && flags[i1] && flags[i2] {
			out = append(out, i0, i1, i2)
		}
	}
	return out
}

// VertexColors builds a flat RGB buffer: match for flagged vertices,
// nonMatch for the rest.
func VertexColors(flags []bool, match, nonMatch Color) []float32 {
	out := make([]float32, len(flags)*3)
	for i, f := range flags {
		c := nonMatch
		if f {
			c = match
		}
		out[i*3] = c.R
		out[i*3+1] = c.G
		out[i*3+2] = c.B
	}
	return out
}

func baseColor(p Palette, s compare.Slot) Color {
	if s == compare.SlotB {
		return p.BaseB
	}
	return p.BaseA
}

func nonMatchColor(p Palette, s compare.Slot) Color {
	if s == compare.SlotB {
		return p.NonMatchB
	}
	return p.NonMatchA
}
