// Package stream maintains a working set of terrain patches covering a
// square neighborhood around a moving observer, creating patches that
// enter the neighborhood and destroying patches that leave it.
package stream

import (
	"errors"
	"log"
	"sort"

	"terrastream.dev/internal/grid"
)

// Streamer owns the working set. It is single-threaded by design:
// OnObserverMoved must be called from one goroutine only (the sim loop),
// once per tick. No locks.
type Streamer struct {
	cfg     Config
	factory PatchFactory
	log     *log.Logger

	patches  map[grid.Cell]*Patch
	lastCell grid.Cell
}

func New(cfg Config, factory PatchFactory, logger *log.Logger) (*Streamer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("stream: nil patch factory")
	}
	return &Streamer{
		cfg:      cfg,
		factory:  factory,
		log:      logger,
		patches:  map[grid.Cell]*Patch{},
		lastCell: grid.Sentinel(),
	}, nil
}

// Update reports what one OnObserverMoved call did. A no-op tick (observer
// still inside the last cell) reports Moved=false and empty slices.
type Update struct {
	Moved     bool
	Cell      grid.Cell
	Created   []grid.Cell
	Destroyed []grid.Cell
	Loaded    int
}

// OnObserverMoved quantizes the observer position and reconciles the
// working set against the wanted neighborhood. Stale patches are
// destroyed before any new patch is created, so peak live handles during
// an update is |old ∪ new|, not |old| + |new|.
//
// A failed Create leaves its cell absent from the working set; it is
// retried only when a later cell crossing re-runs the diff. The returned
// error aggregates per-cell create failures; the rest of the update
// still completes.
func (s *Streamer) OnObserverMoved(pos grid.Vec3) (Update, error) {
	cell := grid.CellAt(pos, s.cfg.CellSize)
	if cell == s.lastCell {
		return Update{Cell: cell, Loaded: len(s.patches)}, nil
	}

	wanted := s.wantedCells(cell)

	var up Update
	up.Moved = true
	up.Cell = cell

	// Removal pass. Destroy failures are non-fatal: the entry is dropped
	// either way, the factory keeps leak responsibility for the handle.
	for c, p := range s.patches {
		if _, keep := wanted[c]; keep {
			continue
		}
		if err := s.factory.Destroy(p.Handle); err != nil && s.log != nil {
			s.log.Printf("stream: %v", &FactoryError{Op: "destroy", Cell: c, Err: err})
		}
		delete(s.patches, c)
		up.Destroyed = append(up.Destroyed, c)
	}

	// Creation pass.
	var createErrs []error
	for c := range wanted {
		if _, ok := s.patches[c]; ok {
			continue
		}
		h, err := s.factory.Create(grid.Center(c, s.cfg.CellSize, s.cfg.BaseElevation), s.cfg.CellSize)
		if err != nil {
			createErrs = append(createErrs, &FactoryError{Op: "create", Cell: c, Err: err})
			continue
		}
		s.patches[c] = &Patch{Cell: c, Handle: h}
		up.Created = append(up.Created, c)
	}

	s.lastCell = cell
	up.Loaded = len(s.patches)
	sortCells(up.Created)
	sortCells(up.Destroyed)
	return up, errors.Join(createErrs...)
}

func (s *Streamer) wantedCells(center grid.Cell) map[grid.Cell]struct{} {
	r := s.cfg.RenderDistance
	wanted := make(map[grid.Cell]struct{}, s.cfg.WorkingSetSize())
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			wanted[grid.Cell{CX: center.CX + dx, CZ: center.CZ + dz}] = struct{}{}
		}
	}
	return wanted
}

func (s *Streamer) Len() int { return len(s.patches) }

func (s *Streamer) Contains(c grid.Cell) bool {
	_, ok := s.patches[c]
	return ok
}

// HandleAt returns the live handle for a cell, or nil.
func (s *Streamer) HandleAt(c grid.Cell) Handle {
	p, ok := s.patches[c]
	if !ok {
		return nil
	}
	return p.Handle
}

// LoadedCells returns the working-set keys in deterministic order.
func (s *Streamer) LoadedCells() []grid.Cell {
	out := make([]grid.Cell, 0, len(s.patches))
	for c := range s.patches {
		out = append(out, c)
	}
	sortCells(out)
	return out
}

func sortCells(cells []grid.Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].CX != cells[j].CX {
			return cells[i].CX < cells[j].CX
		}
		return cells[i].CZ < cells[j].CZ
	})
}
