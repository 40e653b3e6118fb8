package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"terrastream.dev/internal/grid"
	"terrastream.dev/internal/observer"
	"terrastream.dev/internal/persistence/indexdb"
	"terrastream.dev/internal/persistence/journal"
	"terrastream.dev/internal/scene"
	"terrastream.dev/internal/sim"
	"terrastream.dev/internal/stream"
	"terrastream.dev/internal/transport/inspector"
	"terrastream.dev/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		runID      = flag.String("run", "", "run id (default: start time)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[streamd] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	rid := strings.TrimSpace(*runID)
	if rid == "" {
		rid = time.Now().UTC().Format("20060102T150405Z")
	}
	runDir := filepath.Join(*dataDir, "runs", rid)
	_ = os.MkdirAll(runDir, 0o755)

	var jw *journal.Writer
	if tune.JournalEnabled {
		jw = journal.NewWriter(filepath.Join(runDir, "journal"))
		defer jw.Close()
	}

	var idx *indexdb.SQLiteIndex
	if tune.IndexEnabled {
		idx, err = indexdb.OpenSQLite(filepath.Join(runDir, "index.db"), rid)
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}

	walker, err := observer.NewWalker(walkerPath(tune), tune.Walker.Speed)
	if err != nil {
		logger.Fatalf("walker: %v", err)
	}

	graph := scene.NewGraph()
	s, err := sim.New(sim.Config{
		TickRateHz: tune.TickRateHz,
		Stream: stream.Config{
			CellSize:       tune.CellSize,
			RenderDistance: tune.RenderDistance,
			BaseElevation:  tune.BaseElevation,
		},
	}, walker, graph, jw, idx, logger)
	if err != nil {
		logger.Fatalf("sim: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := s.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("sim stopped: %v", err)
		}
	}()

	insp := inspector.NewServer(s, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := s.Metrics()
		fmt.Fprintf(rw, "# HELP terrastream_tick Current sim tick.\n")
		fmt.Fprintf(rw, "terrastream_tick %d\n", m.Tick)
		fmt.Fprintf(rw, "# HELP terrastream_patches_loaded Live patches in the working set.\n")
		fmt.Fprintf(rw, "terrastream_patches_loaded %d\n", m.Loaded)
		fmt.Fprintf(rw, "terrastream_cell_crossings_total %d\n", m.Crossings)
		fmt.Fprintf(rw, "terrastream_patches_created_total %d\n", m.CreatedTotal)
		fmt.Fprintf(rw, "terrastream_patches_destroyed_total %d\n", m.DestroyedTotal)
		fmt.Fprintf(rw, "terrastream_create_errors_total %d\n", m.CreateErrors)
		fmt.Fprintf(rw, "terrastream_inspector_dropped_frames_total %d\n", m.DroppedFrames)
		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "terrastream_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "terrastream_index_dropped_total %d\n", st.DropTotal)
		}
	})
	mux.HandleFunc("/v1/inspect", insp.Handler())
	if os.Getenv("TS_PPROF") == "1" {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	}

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		logger.Printf("listening on %s (run %s)", *addr, rid)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	s.Stop()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = server.Shutdown(shutCtx)
}

func walkerPath(t tuning.Tuning) []grid.Vec3 {
	out := make([]grid.Vec3, 0, len(t.Walker.Path))
	for _, p := range t.Walker.Path {
		out = append(out, grid.Vec3{X: p[0], Y: t.BaseElevation, Z: p[1]})
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
