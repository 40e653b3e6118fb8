package stream

import (
	"fmt"

	"terrastream.dev/internal/grid"
)

// Handle is the opaque ownership token for a factory-created
// renderable+collider. The streamer releases each handle exactly once.
type Handle = any

// PatchFactory is the engine seam. Create must allocate a renderable
// surface and a static collider covering a size×size square centered at
// center; Destroy must release everything behind the handle.
type PatchFactory interface {
	Create(center grid.Vec3, size float64) (Handle, error)
	Destroy(h Handle) error
}

// Patch is one streamed unit of terrain. Created once when its cell
// enters the working set, destroyed once when it leaves; never mutated
// in place.
type Patch struct {
	Cell   grid.Cell
	Handle Handle
}

// FactoryError wraps a factory failure with the cell it happened on.
type FactoryError struct {
	Op   string // "create" or "destroy"
	Cell grid.Cell
	Err  error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("%s patch (%d,%d): %v", e.Op, e.Cell.CX, e.Cell.CZ, e.Err)
}

func (e *FactoryError) Unwrap() error { return e.Err }
