// Package observer provides position sources for the streamer. The
// streamer only ever sees a world position per tick; how it is produced
// is the source's business.
package observer

import (
	"errors"
	"math"

	"terrastream.dev/internal/grid"
)

// Source yields the observer's current world position, polled once per
// tick by the sim loop.
type Source interface {
	Position() grid.Vec3
}

// Walker walks a looping waypoint path at a fixed speed. Advance is
// called once per tick from the sim loop goroutine; no locks.
type Walker struct {
	path  []grid.Vec3
	speed float64 // units per second

	seg  int
	pos  grid.Vec3
	dist float64 // traveled along current segment
}

func NewWalker(path []grid.Vec3, speed float64) (*Walker, error) {
	if len(path) < 2 {
		return nil, errors.New("observer: walker path needs at least 2 waypoints")
	}
	if speed <= 0 {
		return nil, errors.New("observer: walker speed must be > 0")
	}
	total := 0.0
	for i := range path {
		total += dist2D(path[i], path[(i+1)%len(path)])
	}
	if total == 0 {
		return nil, errors.New("observer: walker path has zero length")
	}
	return &Walker{path: path, speed: speed, pos: path[0]}, nil
}

func (w *Walker) Position() grid.Vec3 { return w.pos }

// Advance moves the walker dt seconds along the path, wrapping across
// waypoints and looping back to the first.
func (w *Walker) Advance(dt float64) {
	remain := w.speed * dt
	for remain > 0 {
		a := w.path[w.seg]
		b := w.path[(w.seg+1)%len(w.path)]
		segLen := dist2D(a, b)
		if segLen == 0 {
			w.seg = (w.seg + 1) % len(w.path)
			w.dist = 0
			continue
		}
		left := segLen - w.dist
		if remain < left {
			w.dist += remain
			remain = 0
		} else {
			remain -= left
			w.seg = (w.seg + 1) % len(w.path)
			w.dist = 0
		}
		a = w.path[w.seg]
		b = w.path[(w.seg+1)%len(w.path)]
		segLen = dist2D(a, b)
		t := 0.0
		if segLen > 0 {
			t = w.dist / segLen
		}
		w.pos = grid.Vec3{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
		}
	}
}

func dist2D(a, b grid.Vec3) float64 {
	dx := b.X - a.X
	dz := b.Z - a.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// Fixed is a Source pinned to one position. Used by tests and the
// replay tool.
type Fixed struct{ At grid.Vec3 }

func (f Fixed) Position() grid.Vec3 { return f.At }
