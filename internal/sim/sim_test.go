package sim

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"terrastream.dev/internal/grid"
	"terrastream.dev/internal/observer"
	"terrastream.dev/internal/protocol"
	"terrastream.dev/internal/scene"
	"terrastream.dev/internal/stream"
)

func testConfig() Config {
	return Config{
		TickRateHz: 20,
		Stream:     stream.Config{CellSize: 50, RenderDistance: 1},
	}
}

func TestStep_ColdStartThenSteadyState(t *testing.T) {
	g := scene.NewGraph()
	src := &observer.Fixed{At: grid.Vec3{X: 10, Z: 10}}
	s, err := New(testConfig(), src, g, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.step(0.05)
	m := s.Metrics()
	if m.Tick != 1 || m.Loaded != 9 || m.Crossings != 1 || m.CreatedTotal != 9 {
		t.Fatalf("metrics after cold start = %+v", m)
	}
	if g.Live() != 9 {
		t.Fatalf("scene live = %d, want 9", g.Live())
	}

	// Same cell: gate holds, nothing changes.
	s.step(0.05)
	m = s.Metrics()
	if m.Tick != 2 || m.Crossings != 1 || m.CreatedTotal != 9 || m.DestroyedTotal != 0 {
		t.Fatalf("metrics after steady tick = %+v", m)
	}
}

func TestStep_WalkerCrossesCells(t *testing.T) {
	g := scene.NewGraph()
	// 60 units/s straight east: first tick crosses into cell (1,0).
	w, err := observer.NewWalker([]grid.Vec3{{X: 45}, {X: 6000}}, 60)
	if err != nil {
		t.Fatalf("NewWalker: %v", err)
	}
	s, err := New(testConfig(), w, g, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.step(1) // x: 45 -> 105, cell 2
	m := s.Metrics()
	if m.Crossings != 1 || m.Loaded != 9 {
		t.Fatalf("metrics = %+v", m)
	}
	s.step(1) // x: 105 -> 165, cell 3: one column out, one in
	m = s.Metrics()
	if m.Crossings != 2 || m.CreatedTotal != 12 || m.DestroyedTotal != 3 || m.Loaded != 9 {
		t.Fatalf("metrics = %+v", m)
	}
	created, destroyed := g.Totals()
	if created != 12 || destroyed != 3 {
		t.Fatalf("scene totals = %d/%d", created, destroyed)
	}
}

func TestAttach_WelcomeAndPatchesFrames(t *testing.T) {
	g := scene.NewGraph()
	w, err := observer.NewWalker([]grid.Vec3{{X: 0}, {X: 6000}}, 60)
	if err != nil {
		t.Fatalf("NewWalker: %v", err)
	}
	s, err := New(testConfig(), w, g, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	out := make(chan []byte, 64)
	welcome := s.Attach("S1", out)
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID != "S1" {
		t.Fatalf("welcome = %+v", welcome)
	}
	if welcome.StreamParams.CellSize != 50 || welcome.StreamParams.RenderDistance != 1 {
		t.Fatalf("stream params = %+v", welcome.StreamParams)
	}

	// The walker moves 3 units per tick at 20 Hz, so a crossing frame
	// arrives within a second or two. The cold-start frame may have been
	// emitted before the session attached; any frame carries the full
	// working-set count.
	select {
	case frame := <-out:
		var msg protocol.PatchesMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if msg.Type != protocol.TypePatches || msg.Loaded != 9 || len(msg.Created) == 0 {
			t.Fatalf("frame = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no PATCHES frame within 5s")
	}

	s.Detach("S1")
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
