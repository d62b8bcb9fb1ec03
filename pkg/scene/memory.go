package scene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/meshdiff/pkg/derive"
)

// Memory is an in-process Scene that records every resource it is asked to
// create and release. The headless CLI renders into it and tests use it to
// verify that nothing leaks.
type Memory struct {
	mu         sync.Mutex
	objects    map[uuid.UUID]*Object
	geometries map[uuid.UUID]struct{}
	materials  map[uuid.UUID]struct{}
	stats      MemoryStats
}

// MemoryStats counts resource lifecycle events.
type MemoryStats struct {
	GeometriesCreated  int
	GeometriesReleased int
	MaterialsCreated   int
	MaterialsReleased  int
	Updates            int
	CameraResets       int
}

// NewMemory returns an empty in-memory scene.
func NewMemory() *Memory {
	return &Memory{
		objects:    make(map[uuid.UUID]*Object),
		geometries: make(map[uuid.UUID]struct{}),
		materials:  make(map[uuid.UUID]struct{}),
	}
}

var _ Scene = (*Memory)(nil)

// Add stores a copy of obj.
func (m *Memory) Add(obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.ID]; ok {
		return fmt.Errorf("object %s already in scene", obj.ID)
	}
	c := *obj
	m.objects[obj.ID] = &c
	m.geometries[obj.GeometryID] = struct{}{}
	m.materials[obj.MaterialID] = struct{}{}
	m.stats.GeometriesCreated++
	m.stats.MaterialsCreated++
	return nil
}

// Update refreshes the material and visibility of a stored object.
func (m *Memory) Update(obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.objects[obj.ID]
	if !ok {
		return fmt.Errorf("object %s not in scene", obj.ID)
	}
	cur.Descriptor.Material = obj.Descriptor.Material
	cur.Descriptor.Visible = obj.Descriptor.Visible
	m.stats.Updates++
	return nil
}

// Remove releases the object's geometry and material.
func (m *Memory) Remove(obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.ID]; !ok {
		return fmt.Errorf("object %s not in scene", obj.ID)
	}
	delete(m.objects, obj.ID)
	delete(m.geometries, obj.GeometryID)
	delete(m.materials, obj.MaterialID)
	m.stats.GeometriesReleased++
	m.stats.MaterialsReleased++
	return nil
}

// ResetCamera records the reset.
func (m *Memory) ResetCamera() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.CameraResets++
	return nil
}

// Objects returns copies of the objects in the scene ordered by key.
func (m *Memory) Objects() []Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Object, 0, len(m.objects))
	for _, o := range m.objects {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// Find returns a copy of the object for key.
func (m *Memory) Find(key derive.Key) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.objects {
		if o.Key() == key {
			return *o, true
		}
	}
	return Object{}, false
}

// Stats returns the lifecycle counters.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// LiveResources returns the number of geometries and materials not yet released.
func (m *Memory) LiveResources() (geometries, materials int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.geometries), len(m.materials)
}
