// Package scene is an in-memory stand-in for an engine scene graph: it
// allocates one quad mesh plus one static box collider per patch and
// hands the streamer an opaque node handle.
package scene

import (
	"fmt"

	"github.com/google/uuid"

	"terrastream.dev/internal/grid"
	"terrastream.dev/internal/stream"
)

// Node is one spawned patch: flat quad geometry and its collider.
type Node struct {
	ID       uuid.UUID
	Center   grid.Vec3
	Size     float64
	Mesh     QuadMesh
	Collider BoxCollider
}

// QuadMesh is a flat size×size quad centered on the node, four corners
// wound counter-clockwise viewed from +Y.
type QuadMesh struct {
	Vertices [4]grid.Vec3
	Indices  [6]int
}

// BoxCollider is a thin static AABB under the quad.
type BoxCollider struct {
	Min grid.Vec3
	Max grid.Vec3
}

// Graph owns every live node. Accessed only from the sim loop goroutine.
type Graph struct {
	nodes map[uuid.UUID]*Node

	createdTotal   uint64
	destroyedTotal uint64
}

func NewGraph() *Graph {
	return &Graph{nodes: map[uuid.UUID]*Node{}}
}

var _ stream.PatchFactory = (*Graph)(nil)

func (g *Graph) Create(center grid.Vec3, size float64) (stream.Handle, error) {
	if size <= 0 {
		return nil, fmt.Errorf("scene: patch size must be > 0, got %v", size)
	}
	n := &Node{
		ID:     uuid.New(),
		Center: center,
		Size:   size,
	}
	half := size / 2
	n.Mesh = QuadMesh{
		Vertices: [4]grid.Vec3{
			{X: center.X - half, Y: center.Y, Z: center.Z - half},
			{X: center.X - half, Y: center.Y, Z: center.Z + half},
			{X: center.X + half, Y: center.Y, Z: center.Z + half},
			{X: center.X + half, Y: center.Y, Z: center.Z - half},
		},
		Indices: [6]int{0, 1, 2, 0, 2, 3},
	}
	n.Collider = BoxCollider{
		Min: grid.Vec3{X: center.X - half, Y: center.Y - colliderDepth, Z: center.Z - half},
		Max: grid.Vec3{X: center.X + half, Y: center.Y, Z: center.Z + half},
	}
	g.nodes[n.ID] = n
	g.createdTotal++
	return n, nil
}

func (g *Graph) Destroy(h stream.Handle) error {
	n, ok := h.(*Node)
	if !ok {
		return fmt.Errorf("scene: foreign handle %T", h)
	}
	if _, live := g.nodes[n.ID]; !live {
		return fmt.Errorf("scene: node %s already released", n.ID)
	}
	delete(g.nodes, n.ID)
	g.destroyedTotal++
	return nil
}

func (g *Graph) Live() int { return len(g.nodes) }

func (g *Graph) Totals() (created, destroyed uint64) {
	return g.createdTotal, g.destroyedTotal
}

const colliderDepth = 1.0
