package grid

import "math"

// Cell identifies one square of the infinite grid partition of the
// world plane. Value type; used as a map key.
type Cell struct {
	CX int
	CZ int
}

// Vec3 is a world-space position. Y is up.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Sentinel returns a cell no legitimate position can quantize to.
// Used as the pre-first-update observed cell so the first tick
// always triggers a full build-out.
func Sentinel() Cell {
	return Cell{CX: math.MinInt32, CZ: math.MinInt32}
}

// CellAt maps a continuous world position to its grid cell by flooring
// each horizontal axis toward negative infinity. Y is ignored.
// Flooring (not truncation) keeps the partition gap-free across zero:
// x=-0.1 with cellSize 50 lands in cell -1, not 0.
func CellAt(pos Vec3, cellSize float64) Cell {
	return Cell{
		CX: int(math.Floor(pos.X / cellSize)),
		CZ: int(math.Floor(pos.Z / cellSize)),
	}
}

// Center returns the geometric center of a cell at the given elevation.
func Center(c Cell, cellSize, elevation float64) Vec3 {
	return Vec3{
		X: float64(c.CX)*cellSize + cellSize/2,
		Y: elevation,
		Z: float64(c.CZ)*cellSize + cellSize/2,
	}
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Chebyshev is the cell-grid distance: max of the axis deltas.
func Chebyshev(a, b Cell) int {
	dx := AbsInt(a.CX - b.CX)
	dz := AbsInt(a.CZ - b.CZ)
	if dx > dz {
		return dx
	}
	return dz
}
