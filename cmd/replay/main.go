package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"terrastream.dev/internal/grid"
	"terrastream.dev/internal/persistence/journal"
	"terrastream.dev/internal/stream"
	"terrastream.dev/internal/tuning"
)

// nullFactory allocates nothing; replay only checks the diff algebra.
type nullFactory struct{ n int }

func (f *nullFactory) Create(center grid.Vec3, size float64) (stream.Handle, error) {
	f.n++
	return f.n, nil
}

func (f *nullFactory) Destroy(h stream.Handle) error { return nil }

func main() {
	var (
		journalDir = flag.String("journal", "", "journal directory (data/runs/<id>/journal)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml used for the recording")
	)
	flag.Parse()

	if *journalDir == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			tune = tuning.Defaults()
		} else {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
	}

	recs, err := journal.ReadAll(*journalDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("journal is empty")
		return
	}

	cfg := stream.Config{
		CellSize:       tune.CellSize,
		RenderDistance: tune.RenderDistance,
		BaseElevation:  tune.BaseElevation,
	}
	s, err := stream.New(cfg, &nullFactory{}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "streamer:", err)
		os.Exit(1)
	}

	var created, destroyed, mismatches int
	for _, rec := range recs {
		up, err := s.OnObserverMoved(grid.Vec3{X: rec.Pos[0], Y: rec.Pos[1], Z: rec.Pos[2]})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay update:", err)
			os.Exit(1)
		}
		created += len(up.Created)
		destroyed += len(up.Destroyed)

		// Recorded runs can hold fewer patches than the replay when the
		// live factory failed; more is a real divergence.
		if !up.Moved || up.Cell != (grid.Cell{CX: rec.Cell[0], CZ: rec.Cell[1]}) || rec.Loaded > up.Loaded {
			mismatches++
			fmt.Printf("tick %d: recorded cell=%v loaded=%d, replay cell=%+v loaded=%d moved=%v\n",
				rec.Tick, rec.Cell, rec.Loaded, up.Cell, up.Loaded, up.Moved)
		}
		if up.Loaded != cfg.WorkingSetSize() {
			mismatches++
			fmt.Printf("tick %d: working set %d, want %d\n", rec.Tick, up.Loaded, cfg.WorkingSetSize())
		}
	}

	fmt.Printf("replayed %d updates: %d created, %d destroyed, final working set %d\n",
		len(recs), created, destroyed, s.Len())
	if mismatches > 0 {
		fmt.Printf("FAIL: %d mismatches\n", mismatches)
		os.Exit(1)
	}
	fmt.Println("OK: journal consistent with streamer behavior")
}
