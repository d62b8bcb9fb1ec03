package compare

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleResult marks a backend result computed against geometry that has
	// since been replaced or cleared. It is dropped, never shown to the operator.
	ErrStaleResult = errors.New("stale result discarded")

	// ErrBusy is returned when an action of the same kind is already in flight.
	ErrBusy = errors.New("action already in progress")

	// ErrSlotEmpty is returned by store operations that need an occupied slot.
	ErrSlotEmpty = errors.New("slot is empty")
)

// ParseError reports a file that could not be turned into a valid mesh.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("parse failed: %v", e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// BackendError reports a failed alignment, measurement or match.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// PreconditionError reports an action rejected before any backend call,
// either because a required slot is empty or because its input is invalid.
type PreconditionError struct {
	Action  string
	Missing []Slot
	Reason  string
}

func (e *PreconditionError) Error() string {
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, s := range e.Missing {
			names[i] = s.String()
		}
		return fmt.Sprintf("%s needs both meshes loaded (missing %s)", e.Action, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

// BusyError wraps ErrBusy with the rejected action name.
type BusyError struct {
	Action string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, ErrBusy)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// IsStale reports whether err means a result was discarded as stale.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleResult)
}
