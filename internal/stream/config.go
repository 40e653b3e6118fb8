package stream

import "fmt"

// Config is fixed at construction. Re-tuning a live streamer is not
// supported; build a new one.
type Config struct {
	// CellSize is the world-space edge length of one patch. Must be > 0.
	CellSize float64
	// RenderDistance is the radius, in cells, of the square neighborhood
	// kept loaded around the observer. 0 keeps only the observer's cell.
	RenderDistance int
	// BaseElevation is the world height at which patches are placed.
	BaseElevation float64
}

func (c Config) validate() error {
	if c.CellSize <= 0 {
		return fmt.Errorf("stream: cell size must be > 0, got %v", c.CellSize)
	}
	if c.RenderDistance < 0 {
		return fmt.Errorf("stream: render distance must be >= 0, got %d", c.RenderDistance)
	}
	return nil
}

// WorkingSetSize is the patch count a fully built-out neighborhood holds.
func (c Config) WorkingSetSize() int {
	side := 2*c.RenderDistance + 1
	return side * side
}
