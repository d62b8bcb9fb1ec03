package compare

import "fmt"

// Basis records the slot generations a result was computed against.
type Basis [2]uint64

// Of returns the generation recorded for slot.
func (b Basis) Of(s Slot) uint64 {
	return b[s]
}

// BasisOf stamps a basis from two installed records.
func BasisOf(a, b *MeshRecord) Basis {
	return Basis{a.Generation, b.Generation}
}

// MatchStats summarises per-side matching.
type MatchStats struct {
	NumMatchingA     int     `json:"num_matching_a"`
	NumMatchingB     int     `json:"num_matching_b"`
	PercentMatchingA float64 `json:"percent_matching_a"`
	PercentMatchingB float64 `json:"percent_matching_b"`
	TotalVerticesA   int     `json:"total_vertices_a"`
	TotalVerticesB   int     `json:"total_vertices_b"`
}

// CountMatches derives stats from two flag arrays.
func CountMatches(flagsA, flagsB []bool) MatchStats {
	st := MatchStats{TotalVerticesA: len(flagsA), TotalVerticesB: len(flagsB)}
	for _, f := range flagsA {
		if f {
			st.NumMatchingA++
		}
	}
	for _, f := range flagsB {
		if f {
			st.NumMatchingB++
		}
	}
	st.PercentMatchingA = percent(st.NumMatchingA, st.TotalVerticesA)
	st.PercentMatchingB = percent(st.NumMatchingB, st.TotalVerticesB)
	return st
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// MatchResult holds per-vertex match flags for both slots.
type MatchResult struct {
	FlagsA    []bool
	FlagsB    []bool
	Stats     MatchStats
	Threshold float64
	Basis     Basis
	Revision  uint64 // assigned by the store on install
}

// NewMatchResult builds a result for the two records the match was computed
// from. Each flag array must have exactly one entry per vertex of its record.
func NewMatchResult(a, b *MeshRecord, flagsA, flagsB []bool, threshold float64) (*MatchResult, error) {
	if len(flagsA) != a.VertexCount() {
		return nil, fmt.Errorf("flags for A: %d entries for %d vertices", len(flagsA), a.VertexCount())
	}
	if len(flagsB) != b.VertexCount() {
		return nil, fmt.Errorf("flags for B: %d entries for %d vertices", len(flagsB), b.VertexCount())
	}
	return &MatchResult{
		FlagsA:    flagsA,
		FlagsB:    flagsB,
		Stats:     CountMatches(flagsA, flagsB),
		Threshold: threshold,
		Basis:     BasisOf(a, b),
	}, nil
}

// Flags returns the flag array for slot.
func (m *MatchResult) Flags(s Slot) []bool {
	if s == SlotB {
		return m.FlagsB
	}
	return m.FlagsA
}

// DistanceStats summarises nearest-point distances from A to B.
type DistanceStats struct {
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Mean    float64   `json:"mean"`
	Std     float64   `json:"std"`
	Samples []float64 `json:"samples"`
	Basis   Basis     `json:"-"`
}
