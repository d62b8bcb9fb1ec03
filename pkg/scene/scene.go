// Package scene keeps the live scene in step with the descriptor set produced
// by the derive package. The Reconciler is the only code that mutates a
// Scene; everything else works on plain descriptors.
package scene

import (
	"github.com/google/uuid"

	"github.com/chazu/meshdiff/pkg/derive"
)

// Object is one scene resource: a geometry and a material created together
// from a descriptor and released together.
type Object struct {
	ID         uuid.UUID
	GeometryID uuid.UUID
	MaterialID uuid.UUID
	Descriptor derive.Descriptor
}

// Key returns the descriptor identity the object was created for.
func (o *Object) Key() derive.Key {
	return o.Descriptor.Key
}

// Scene is the rendering collaborator. Implementations own GPU or remote
// resources; Remove must release both the geometry and the material.
type Scene interface {
	Add(obj *Object) error
	Update(obj *Object) error // material or visibility changed, geometry unchanged
	Remove(obj *Object) error
	ResetCamera() error
}

// DefaultCamera is the camera position restored by ResetCamera.
var DefaultCamera = [3]float64{100, 100, 100}
