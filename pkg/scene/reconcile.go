package scene

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/chazu/meshdiff/pkg/derive"
)

// Diff lists what a reconciliation changed.
type Diff struct {
	Added   []derive.Key
	Removed []derive.Key
	Updated []derive.Key
}

// Empty reports whether the reconciliation changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Reconciler owns every object it has added to its scene, tracked by
// descriptor key. It is not safe for concurrent use.
type Reconciler struct {
	scene Scene
	live  map[derive.Key]*Object
}

// NewReconciler returns a reconciler driving s.
func NewReconciler(s Scene) *Reconciler {
	return &Reconciler{
		scene: s,
		live:  make(map[derive.Key]*Object),
	}
}

// Reconcile makes the scene hold exactly descs. Objects whose key is gone are
// removed; objects whose geometry changed are removed and re-added; objects
// whose material or visibility changed are updated in place. Reconciling the
// same set twice changes nothing the second time.
func (r *Reconciler) Reconcile(descs []derive.Descriptor) (Diff, error) {
	var diff Diff

	want := make(map[derive.Key]derive.Descriptor, len(descs))
	for _, d := range descs {
		if _, dup := want[d.Key]; dup {
			return diff, fmt.Errorf("duplicate descriptor %s", d.Key)
		}
		want[d.Key] = d
	}

	// Removals first so replaced resources are released before new ones exist.
	for _, key := range r.sortedLive() {
		if _, ok := want[key]; ok {
			continue
		}
		if err := r.remove(key); err != nil {
			return diff, err
		}
		diff.Removed = append(diff.Removed, key)
	}

	keys := make([]derive.Key, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sortKeys(keys)

	for _, key := range keys {
		d := want[key]
		obj, ok := r.live[key]
		switch {
		case !ok:
			if err := r.add(d); err != nil {
				return diff, err
			}
			diff.Added = append(diff.Added, key)

		case !obj.Descriptor.SameGeometry(&d):
			if err := r.remove(key); err != nil {
				return diff, err
			}
			diff.Removed = append(diff.Removed, key)
			if err := r.add(d); err != nil {
				return diff, err
			}
			diff.Added = append(diff.Added, key)

		case obj.Descriptor.Material != d.Material || obj.Descriptor.Visible != d.Visible:
			updated := *obj
			updated.Descriptor.Material = d.Material
			updated.Descriptor.Visible = d.Visible
			if err := r.scene.Update(&updated); err != nil {
				return diff, fmt.Errorf("update %s: %w", key, err)
			}
			r.live[key] = &updated
			diff.Updated = append(diff.Updated, key)
		}
	}
	return diff, nil
}

// Release removes every object the reconciler owns. It keeps going after a
// failed removal and returns the joined errors.
func (r *Reconciler) Release() (Diff, error) {
	var diff Diff
	var errs []error
	for _, key := range r.sortedLive() {
		if err := r.remove(key); err != nil {
			errs = append(errs, err)
			continue
		}
		diff.Removed = append(diff.Removed, key)
	}
	return diff, errors.Join(errs...)
}

// ResetCamera forwards a camera reset to the scene.
func (r *Reconciler) ResetCamera() error {
	return r.scene.ResetCamera()
}

// Live returns the keys currently represented in the scene, sorted.
func (r *Reconciler) Live() []derive.Key {
	return r.sortedLive()
}

// Object returns the live object for key, or nil.
func (r *Reconciler) Object(key derive.Key) *Object {
	return r.live[key]
}

func (r *Reconciler) add(d derive.Descriptor) error {
	obj := &Object{
		ID:         uuid.New(),
		GeometryID: uuid.New(),
		MaterialID: uuid.New(),
		Descriptor: d,
	}
	if err := r.scene.Add(obj); err != nil {
		return fmt.Errorf("add %s: %w", d.Key, err)
	}
	r.live[d.Key] = obj
	return nil
}

func (r *Reconciler) remove(key derive.Key) error {
	obj := r.live[key]
	if err := r.scene.Remove(obj); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	delete(r.live, key)
	return nil
}

func (r *Reconciler) sortedLive() []derive.Key {
	keys := make([]derive.Key, 0, len(r.live))
	for k := range r.live {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []derive.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
