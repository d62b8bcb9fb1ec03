package compare

import (
	"fmt"
	"sync"
)

// ChangeKind says which part of the store a mutation touched.
type ChangeKind int

const (
	ChangeSlot ChangeKind = iota
	ChangeView
	ChangeMatch
	ChangeDistance
	ChangeDisplay
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSlot:
		return "slot"
	case ChangeView:
		return "view"
	case ChangeMatch:
		return "match"
	case ChangeDistance:
		return "distance"
	case ChangeDisplay:
		return "display"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is the notification delivered to subscribers after a mutation.
// Each mutating call delivers exactly one Change.
type Change struct {
	Kind ChangeKind
	Slot Slot // meaningful for ChangeSlot and ChangeView

	// Dropped lists derived results removed by the same mutation.
	Dropped []ChangeKind
}

// Display is the store-wide display state. Opacity and Wireframe are applied
// to every loaded record and to records loaded later.
type Display struct {
	Opacity   float64
	Wireframe bool
	Overlay   bool
}

// Snapshot is a consistent read of the whole store.
type Snapshot struct {
	Slots    [2]*MeshRecord
	Match    *MatchResult
	Distance *DistanceStats
	Display  Display
	Basis    Basis
}

// Store is the single source of truth for comparison state. It is safe for
// concurrent use. Subscribers are called synchronously after the mutating
// call has released the lock, in subscription order.
type Store struct {
	mu       sync.RWMutex
	slots    [2]*MeshRecord
	gens     Basis
	seq      uint64
	match    *MatchResult
	distance *DistanceStats
	display  Display

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Change)
}

// NewStore returns an empty store with the default display state.
func NewStore() *Store {
	return &Store{display: Display{Opacity: DefaultOpacity}}
}

// Subscribe registers fn for change notifications and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	subs := append([]subscriber(nil), s.subs...)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.fn(c)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Slot returns the record in slot, or nil when it is empty.
func (s *Store) Slot(slot Slot) *MeshRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[slot]
}

// Basis returns the current generation of both slots.
func (s *Store) Basis() Basis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens
}

// MatchResult returns the current match result, or nil.
func (s *Store) MatchResult() *MatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.match
}

// DistanceStats returns the latest distance statistics, or nil.
func (s *Store) DistanceStats() *DistanceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.distance
}

// Display returns the store-wide display state.
func (s *Store) Display() Display {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.display
}

// View returns the view state new records should start with.
func (s *Store) View() ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ViewState{Visible: true, Opacity: s.display.Opacity, Wireframe: s.display.Wireframe}
}

// Snapshot returns a consistent read of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Slots:    s.slots,
		Match:    s.match,
		Distance: s.distance,
		Display:  s.display,
		Basis:    s.gens,
	}
}

// ---------------------------------------------------------------------------
// Geometry mutations
// ---------------------------------------------------------------------------

// invalidate drops the slot's record and every result computed against it.
// The caller holds s.mu.
func (s *Store) invalidate(slot Slot) []ChangeKind {
	var dropped []ChangeKind
	s.slots[slot] = nil
	s.seq++
	s.gens[slot] = s.seq
	if s.match != nil {
		s.match = nil
		dropped = append(dropped, ChangeMatch)
	}
	if s.distance != nil {
		s.distance = nil
		dropped = append(dropped, ChangeDistance)
	}
	return dropped
}

// SetSlot installs rec in its slot, first invalidating whatever the slot held.
// The installed copy, stamped with its new generation, is returned.
func (s *Store) SetSlot(rec *MeshRecord) *MeshRecord {
	s.mu.Lock()
	dropped := s.invalidate(rec.Slot)
	installed := *rec
	installed.Generation = s.gens[rec.Slot]
	s.slots[rec.Slot] = &installed
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSlot, Slot: rec.Slot, Dropped: dropped})
	return &installed
}

// ReplaceGeometry swaps the geometry of an occupied slot provided both slots
// still hold the generations in basis. The slot keeps its current view state.
// A mismatch returns ErrStaleResult and leaves the store untouched.
func (s *Store) ReplaceGeometry(rec *MeshRecord, basis Basis) (*MeshRecord, error) {
	s.mu.Lock()
	cur := s.slots[rec.Slot]
	if cur == nil || s.gens != basis {
		s.mu.Unlock()
		return nil, fmt.Errorf("replace slot %s: %w", rec.Slot, ErrStaleResult)
	}
	dropped := s.invalidate(rec.Slot)
	installed := *rec
	installed.View = cur.View
	installed.Generation = s.gens[rec.Slot]
	s.slots[rec.Slot] = &installed
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSlot, Slot: rec.Slot, Dropped: dropped})
	return &installed, nil
}

// ClearSlot removes the slot's record together with every match result and
// distance statistic computed against it. Clearing an empty slot still
// advances its generation so in-flight work for it is discarded.
func (s *Store) ClearSlot(slot Slot) {
	s.mu.Lock()
	dropped := s.invalidate(slot)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSlot, Slot: slot, Dropped: dropped})
}

// ---------------------------------------------------------------------------
// Result mutations
// ---------------------------------------------------------------------------

// SetMatchResult installs m if both slots still hold the geometry it was
// computed from, otherwise it returns ErrStaleResult.
func (s *Store) SetMatchResult(m *MatchResult) error {
	s.mu.Lock()
	if !s.currentLocked(m.Basis) {
		s.mu.Unlock()
		return fmt.Errorf("match result: %w", ErrStaleResult)
	}
	if len(m.FlagsA) != s.slots[SlotA].VertexCount() || len(m.FlagsB) != s.slots[SlotB].VertexCount() {
		s.mu.Unlock()
		return fmt.Errorf("match result: flag count does not match vertex count")
	}
	s.seq++
	installed := *m
	installed.Revision = s.seq
	s.match = &installed
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMatch})
	return nil
}

// SetDistanceStats installs d if both slots still hold the geometry it was
// computed from, otherwise it returns ErrStaleResult.
func (s *Store) SetDistanceStats(d *DistanceStats) error {
	s.mu.Lock()
	if !s.currentLocked(d.Basis) {
		s.mu.Unlock()
		return fmt.Errorf("distance stats: %w", ErrStaleResult)
	}
	s.distance = d
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDistance})
	return nil
}

func (s *Store) currentLocked(b Basis) bool {
	return s.slots[SlotA] != nil && s.slots[SlotB] != nil && s.gens == b
}

// ---------------------------------------------------------------------------
// View mutations
// ---------------------------------------------------------------------------

// SetVisible shows or hides the record in slot.
func (s *Store) SetVisible(slot Slot, visible bool) error {
	s.mu.Lock()
	cur := s.slots[slot]
	if cur == nil {
		s.mu.Unlock()
		return fmt.Errorf("set visibility of %s: %w", slot, ErrSlotEmpty)
	}
	view := cur.View
	view.Visible = visible
	s.slots[slot] = cur.withView(view)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeView, Slot: slot})
	return nil
}

// SetOpacity sets the base opacity (0..1) of every loaded record and of
// records loaded later.
func (s *Store) SetOpacity(opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return fmt.Errorf("opacity %.3f outside [0,1]", opacity)
	}
	s.mu.Lock()
	s.display.Opacity = opacity
	s.updateViewsLocked(func(v *ViewState) { v.Opacity = opacity })
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDisplay})
	return nil
}

// SetWireframe toggles wireframe rendering of every loaded record and of
// records loaded later.
func (s *Store) SetWireframe(on bool) {
	s.mu.Lock()
	s.display.Wireframe = on
	s.updateViewsLocked(func(v *ViewState) { v.Wireframe = on })
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDisplay})
}

// SetOverlay enables or disables the match-colored overlay.
func (s *Store) SetOverlay(on bool) {
	s.mu.Lock()
	s.display.Overlay = on
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDisplay})
}

func (s *Store) updateViewsLocked(fn func(*ViewState)) {
	for _, slot := range Slots {
		cur := s.slots[slot]
		if cur == nil {
			continue
		}
		view := cur.View
		fn(&view)
		s.slots[slot] = cur.withView(view)
	}
}
