package main

import (
	"sort"
	"sync"

	"github.com/chazu/meshdiff/pkg/derive"
	"github.com/chazu/meshdiff/pkg/scene"
)

// Event names emitted to the frontend.
const (
	EventSceneAdd    = "scene:add"
	EventSceneUpdate = "scene:update"
	EventSceneRemove = "scene:remove"
	EventCameraReset = "camera:reset"
	EventStatus      = "status"
	EventBusy        = "busy"
)

// emitFunc delivers one event to the frontend.
type emitFunc func(name string, data any)

// MaterialData is the JSON form of a derived material.
type MaterialData struct {
	Color        string  `json:"color"`
	VertexColors bool    `json:"vertexColors"`
	Opacity      float32 `json:"opacity"`
	Transparent  bool    `json:"transparent"`
	Wireframe    bool    `json:"wireframe"`
	DoubleSided  bool    `json:"doubleSided"`
	DepthWrite   bool    `json:"depthWrite"`
}

// SceneObject is the payload of scene:add and scene:update. Buffers are
// omitted from updates because the geometry is unchanged.
type SceneObject struct {
	ID       string       `json:"id"`
	Key      string       `json:"key"`
	Slot     string       `json:"slot"`
	Kind     string       `json:"kind"`
	Visible  bool         `json:"visible"`
	Material MaterialData `json:"material"`
	Vertices []float32    `json:"vertices,omitempty"`
	Normals  []float32    `json:"normals,omitempty"`
	Indices  []uint32     `json:"indices,omitempty"`
	Colors   []float32    `json:"colors,omitempty"`
}

// RemoveData is the payload of scene:remove.
type RemoveData struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// CameraData is the payload of camera:reset.
type CameraData struct {
	Position [3]float64 `json:"position"`
	Target   [3]float64 `json:"target"`
}

func materialData(m derive.Material) MaterialData {
	return MaterialData{
		Color:        m.Color.Hex(),
		VertexColors: m.VertexColors,
		Opacity:      m.Opacity,
		Transparent:  m.Transparent,
		Wireframe:    m.Wireframe,
		DoubleSided:  m.DoubleSided,
		DepthWrite:   m.DepthWrite,
	}
}

func sceneObject(obj *scene.Object, withBuffers bool) SceneObject {
	d := obj.Descriptor
	so := SceneObject{
		ID:       obj.ID.String(),
		Key:      d.Key.String(),
		Slot:     d.Key.Slot.String(),
		Kind:     d.Key.Kind.String(),
		Visible:  d.Visible,
		Material: materialData(d.Material),
	}
	if withBuffers {
		so.Vertices = d.Vertices
		so.Normals = d.Normals
		so.Indices = d.Indices
		so.Colors = d.Colors
	}
	return so
}

// eventScene is the scene.Scene the desktop app renders into. It forwards
// every change as a frontend event and remembers the live objects so a
// freshly loaded frontend can fetch the whole scene.
type eventScene struct {
	mu   sync.Mutex
	emit emitFunc
	live map[string]*scene.Object
}

var _ scene.Scene = (*eventScene)(nil)

func newEventScene() *eventScene {
	return &eventScene{live: make(map[string]*scene.Object)}
}

// setEmitter installs the event sink; nil drops events.
func (s *eventScene) setEmitter(emit emitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emit
}

func (s *eventScene) send(name string, data any) {
	if s.emit != nil {
		s.emit(name, data)
	}
}

func (s *eventScene) Add(obj *scene.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *obj
	s.live[obj.ID.String()] = &cp
	s.send(EventSceneAdd, sceneObject(obj, true))
	return nil
}

func (s *eventScene) Update(obj *scene.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *obj
	s.live[obj.ID.String()] = &cp
	s.send(EventSceneUpdate, sceneObject(obj, false))
	return nil
}

func (s *eventScene) Remove(obj *scene.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, obj.ID.String())
	s.send(EventSceneRemove, RemoveData{ID: obj.ID.String(), Key: obj.Key().String()})
	return nil
}

func (s *eventScene) ResetCamera() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(EventCameraReset, CameraData{Position: scene.DefaultCamera})
	return nil
}

// objects returns every live object with buffers, ordered by key.
func (s *eventScene) objects() []SceneObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	objs := make([]*scene.Object, 0, len(s.live))
	for _, o := range s.live {
		objs = append(objs, o)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key().Less(objs[j].Key()) })
	out := make([]SceneObject, len(objs))
	for i, o := range objs {
		out[i] = sceneObject(o, true)
	}
	return out
}
