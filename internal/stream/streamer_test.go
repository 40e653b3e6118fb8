package stream

import (
	"errors"
	"testing"

	"terrastream.dev/internal/grid"
)

// stubFactory records create/destroy traffic and can fail selected cells.
type stubFactory struct {
	created   []grid.Vec3
	destroyed []Handle
	failAt    map[grid.Cell]error
	cellSize  float64

	// ordering assertion, armed by TestCrossing_DestroysBeforeCreating
	strictOrder               bool
	destroysBeforeFirstCreate int
	sawCreate                 bool
}

func (f *stubFactory) Create(center grid.Vec3, size float64) (Handle, error) {
	cell := grid.CellAt(center, f.cellSize)
	if err, ok := f.failAt[cell]; ok {
		return nil, err
	}
	f.sawCreate = true
	h := &struct{ c grid.Cell }{c: cell}
	f.created = append(f.created, center)
	return h, nil
}

func (f *stubFactory) Destroy(h Handle) error {
	if f.strictOrder && f.sawCreate {
		return errors.New("destroy after create within one update")
	}
	f.destroysBeforeFirstCreate++
	f.destroyed = append(f.destroyed, h)
	return nil
}

func newTestStreamer(t *testing.T, cfg Config, f PatchFactory) *Streamer {
	t.Helper()
	s, err := New(cfg, f, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RejectsBadCellSize(t *testing.T) {
	if _, err := New(Config{CellSize: 0, RenderDistance: 1}, &stubFactory{}, nil); err == nil {
		t.Fatalf("expected error for cell size 0")
	}
	if _, err := New(Config{CellSize: -5, RenderDistance: 1}, &stubFactory{}, nil); err == nil {
		t.Fatalf("expected error for negative cell size")
	}
	if _, err := New(Config{CellSize: 50, RenderDistance: -1}, &stubFactory{}, nil); err == nil {
		t.Fatalf("expected error for negative render distance")
	}
}

func TestFirstUpdate_BuildsFullNeighborhood(t *testing.T) {
	f := &stubFactory{cellSize: 50}
	s := newTestStreamer(t, Config{CellSize: 50, RenderDistance: 2}, f)

	up, err := s.OnObserverMoved(grid.Vec3{X: 0, Y: 1, Z: 0})
	if err != nil {
		t.Fatalf("OnObserverMoved: %v", err)
	}
	if !up.Moved {
		t.Fatalf("first update must not be a no-op")
	}
	want := 25 // (2*2+1)^2
	if s.Len() != want || up.Loaded != want || len(up.Created) != want {
		t.Fatalf("working set %d loaded %d created %d, want %d", s.Len(), up.Loaded, len(up.Created), want)
	}
	if len(up.Destroyed) != 0 {
		t.Fatalf("cold start destroyed %d patches", len(up.Destroyed))
	}
}

func TestNoOpGate_SameCell(t *testing.T) {
	f := &stubFactory{cellSize: 50}
	s := newTestStreamer(t, Config{CellSize: 50, RenderDistance: 1}, f)

	if _, err := s.OnObserverMoved(grid.Vec3{X: 10, Z: 10}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	before := len(f.created)

	// Anywhere inside cell (0,0), repeatedly.
	for _, pos := range []grid.Vec3{{X: 49.9, Z: 0.1}, {X: 0, Z: 49.9}, {X: 25, Z: 25}} {
		up, err := s.OnObserverMoved(pos)
		if err != nil {
			t.Fatalf("steady state update: %v", err)
		}
		if up.Moved || len(up.Created) != 0 || len(up.Destroyed) != 0 {
			t.Fatalf("expected no-op at %+v, got %+v", pos, up)
		}
	}
	if len(f.created) != before || len(f.destroyed) != 0 {
		t.Fatalf("factory touched during steady state: %d created, %d destroyed", len(f.created)-before, len(f.destroyed))
	}
	if s.Len() != 9 {
		t.Fatalf("working set changed in steady state: %d", s.Len())
	}
}

func TestCrossing_ExactDiff(t *testing.T) {
	f := &stubFactory{cellSize: 50}
	s := newTestStreamer(t, Config{CellSize: 50, RenderDistance: 1}, f)

	if _, err := s.OnObserverMoved(grid.Vec3{}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Handles of the 6 cells both neighborhoods share.
	keptHandles := map[grid.Cell]Handle{}
	for _, c := range s.LoadedCells() {
		if c.CX >= 0 {
			keptHandles[c] = s.HandleAt(c)
		}
	}

	up, err := s.OnObserverMoved(grid.Vec3{X: 60})
	if err != nil {
		t.Fatalf("crossing update: %v", err)
	}
	if up.Cell != (grid.Cell{CX: 1, CZ: 0}) {
		t.Fatalf("current cell = %+v, want (1,0)", up.Cell)
	}

	wantDestroyed := []grid.Cell{{CX: -1, CZ: -1}, {CX: -1, CZ: 0}, {CX: -1, CZ: 1}}
	wantCreated := []grid.Cell{{CX: 2, CZ: -1}, {CX: 2, CZ: 0}, {CX: 2, CZ: 1}}
	if len(up.Destroyed) != 3 || len(up.Created) != 3 {
		t.Fatalf("diff = %d destroyed / %d created, want 3/3", len(up.Destroyed), len(up.Created))
	}
	for i := range wantDestroyed {
		if up.Destroyed[i] != wantDestroyed[i] {
			t.Fatalf("destroyed[%d] = %+v, want %+v", i, up.Destroyed[i], wantDestroyed[i])
		}
		if up.Created[i] != wantCreated[i] {
			t.Fatalf("created[%d] = %+v, want %+v", i, up.Created[i], wantCreated[i])
		}
	}
	if s.Len() != 9 {
		t.Fatalf("working set = %d, want 9", s.Len())
	}

	// Shared cells keep the same handle instances.
	for c, h := range keptHandles {
		if got := s.HandleAt(c); got != h {
			t.Fatalf("patch %+v was recreated", c)
		}
	}
}

func TestCrossing_DestroysBeforeCreating(t *testing.T) {
	f := &stubFactory{cellSize: 50}
	s := newTestStreamer(t, Config{CellSize: 50, RenderDistance: 1}, f)

	if _, err := s.OnObserverMoved(grid.Vec3{}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	f.strictOrder = true
	f.sawCreate = false
	f.destroysBeforeFirstCreate = 0

	// Teleport far enough that nothing overlaps: full 9 out, 9 in.
	if _, err := s.OnObserverMoved(grid.Vec3{X: 1000, Z: 1000}); err != nil {
		t.Fatalf("teleport update: %v", err)
	}
	if f.destroysBeforeFirstCreate != 9 {
		t.Fatalf("%d destroys completed before first create, want 9", f.destroysBeforeFirstCreate)
	}
}

func TestCreateFailure_IsolatedAndReported(t *testing.T) {
	bad := grid.Cell{CX: 1, CZ: 1}
	f := &stubFactory{cellSize: 50, failAt: map[grid.Cell]error{bad: errors.New("out of vram")}}
	s := newTestStreamer(t, Config{CellSize: 50, RenderDistance: 1}, f)

	up, err := s.OnObserverMoved(grid.Vec3{})
	if err == nil {
		t.Fatalf("expected aggregated create error")
	}
	var fe *FactoryError
	if !errors.As(err, &fe) || fe.Cell != bad || fe.Op != "create" {
		t.Fatalf("error does not reference the failed cell: %v", err)
	}
	if s.Len() != 8 || up.Loaded != 8 {
		t.Fatalf("working set = %d, want 8", s.Len())
	}
	if s.Contains(bad) {
		t.Fatalf("failed cell must stay absent")
	}

	// Still inside the same cell: the gate holds, no inline retry.
	up2, err := s.OnObserverMoved(grid.Vec3{X: 5, Z: 5})
	if err != nil || up2.Moved {
		t.Fatalf("expected no-op after failure, got %+v err=%v", up2, err)
	}
	if s.Contains(bad) {
		t.Fatalf("failed cell retried without a cell crossing")
	}

	// Next crossing re-runs the diff and heals the hole.
	delete(f.failAt, bad)
	if _, err := s.OnObserverMoved(grid.Vec3{X: 60}); err != nil {
		t.Fatalf("crossing update: %v", err)
	}
	if !s.Contains(bad) || s.Len() != 9 {
		t.Fatalf("failed cell not recreated on next diff: len=%d", s.Len())
	}
}

func TestDestroyFailure_EntryStillRemoved(t *testing.T) {
	f := &failingDestroyFactory{}
	s := newTestStreamer(t, Config{CellSize: 50, RenderDistance: 0}, f)

	if _, err := s.OnObserverMoved(grid.Vec3{}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	up, err := s.OnObserverMoved(grid.Vec3{X: 60})
	if err != nil {
		t.Fatalf("destroy failures must not surface as update errors: %v", err)
	}
	if len(up.Destroyed) != 1 || s.Contains(grid.Cell{CX: 0, CZ: 0}) {
		t.Fatalf("stale entry kept after destroy failure")
	}
	if s.Len() != 1 {
		t.Fatalf("working set = %d, want 1", s.Len())
	}
}

type failingDestroyFactory struct{ n int }

func (f *failingDestroyFactory) Create(center grid.Vec3, size float64) (Handle, error) {
	f.n++
	return f.n, nil
}

func (f *failingDestroyFactory) Destroy(h Handle) error {
	return errors.New("gpu driver hiccup")
}
