// Package sim drives the demo: one goroutine owns the walker, the
// streamer and every sink. All streamer state is touched only from the
// Run loop goroutine; cross-goroutine readers get atomics.
package sim

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"terrastream.dev/internal/grid"
	"terrastream.dev/internal/observer"
	"terrastream.dev/internal/persistence/indexdb"
	"terrastream.dev/internal/persistence/journal"
	"terrastream.dev/internal/protocol"
	"terrastream.dev/internal/stream"
)

type Config struct {
	TickRateHz int
	Stream     stream.Config
}

// Metrics is a cross-goroutine snapshot, refreshed once per tick.
type Metrics struct {
	Tick           uint64
	Loaded         int
	Crossings      uint64
	CreatedTotal   uint64
	DestroyedTotal uint64
	CreateErrors   uint64
	DroppedFrames  uint64
}

type attachReq struct {
	id  string
	out chan []byte
	ack chan protocol.WelcomeMsg
}

type Sim struct {
	cfg      Config
	log      *log.Logger
	src      observer.Source
	advance  func(dt float64)
	streamer *stream.Streamer
	journal  *journal.Writer
	index    *indexdb.SQLiteIndex

	tick    atomic.Uint64
	metrics atomic.Value // Metrics

	stop     chan struct{}
	attach   chan attachReq
	detach   chan string
	sessions map[string]chan []byte

	crossings      uint64
	createdTotal   uint64
	destroyedTotal uint64
	createErrors   uint64
	droppedFrames  uint64
}

// New wires the loop. journal and index may be nil. If src also
// implements Advance(dt), the loop steps it once per tick.
func New(cfg Config, src observer.Source, factory stream.PatchFactory, jw *journal.Writer, idx *indexdb.SQLiteIndex, logger *log.Logger) (*Sim, error) {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	st, err := stream.New(cfg.Stream, factory, logger)
	if err != nil {
		return nil, err
	}
	s := &Sim{
		cfg:      cfg,
		log:      logger,
		src:      src,
		streamer: st,
		journal:  jw,
		index:    idx,
		stop:     make(chan struct{}),
		attach:   make(chan attachReq),
		detach:   make(chan string),
		sessions: map[string]chan []byte{},
	}
	if a, ok := src.(interface{ Advance(dt float64) }); ok {
		s.advance = a.Advance
	}
	s.metrics.Store(Metrics{})
	return s, nil
}

func (s *Sim) CurrentTick() uint64 { return s.tick.Load() }

func (s *Sim) Metrics() Metrics { return s.metrics.Load().(Metrics) }

func (s *Sim) StreamParams() protocol.StreamParams {
	return protocol.StreamParams{
		TickRateHz:     s.cfg.TickRateHz,
		CellSize:       s.cfg.Stream.CellSize,
		RenderDistance: s.cfg.Stream.RenderDistance,
		BaseElevation:  s.cfg.Stream.BaseElevation,
	}
}

// Attach registers an inspector session and returns its WELCOME.
// Blocks until the loop picks the request up.
func (s *Sim) Attach(id string, out chan []byte) protocol.WelcomeMsg {
	req := attachReq{id: id, out: out, ack: make(chan protocol.WelcomeMsg, 1)}
	s.attach <- req
	return <-req.ack
}

func (s *Sim) Detach(id string) { s.detach <- id }

func (s *Sim) Stop() { close(s.stop) }

func (s *Sim) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dt := interval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.attach:
			s.sessions[req.id] = req.out
			req.ack <- protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				SessionID:       req.id,
				Tick:            s.tick.Load(),
				StreamParams:    s.StreamParams(),
			}
		case id := <-s.detach:
			delete(s.sessions, id)
		case <-ticker.C:
			s.step(dt)
		}
	}
}

func (s *Sim) step(dt float64) {
	tick := s.tick.Add(1)
	if s.advance != nil {
		s.advance(dt)
	}
	pos := s.src.Position()

	up, err := s.streamer.OnObserverMoved(pos)
	if err != nil {
		s.createErrors++
		if s.log != nil {
			s.log.Printf("tick %d: %v", tick, err)
		}
	}
	if up.Moved {
		s.crossings++
		s.createdTotal += uint64(len(up.Created))
		s.destroyedTotal += uint64(len(up.Destroyed))
		s.emit(tick, pos, up, err)
	}

	s.metrics.Store(Metrics{
		Tick:           tick,
		Loaded:         s.streamer.Len(),
		Crossings:      s.crossings,
		CreatedTotal:   s.createdTotal,
		DestroyedTotal: s.destroyedTotal,
		CreateErrors:   s.createErrors,
		DroppedFrames:  s.droppedFrames,
	})
}

func (s *Sim) emit(tick uint64, pos grid.Vec3, up stream.Update, upErr error) {
	rec := journal.UpdateRecord{
		Tick:      tick,
		Pos:       [3]float64{pos.X, pos.Y, pos.Z},
		Cell:      [2]int{up.Cell.CX, up.Cell.CZ},
		Created:   cellPairs(up.Created),
		Destroyed: cellPairs(up.Destroyed),
		Loaded:    up.Loaded,
	}
	if upErr != nil {
		rec.CreateErrors = []string{upErr.Error()}
	}
	if s.journal != nil {
		if err := s.journal.Write(rec); err != nil && s.log != nil {
			s.log.Printf("journal write: %v", err)
		}
	}
	if s.index != nil {
		s.index.RecordUpdate(rec)
	}

	if len(s.sessions) == 0 {
		return
	}
	frame, err := json.Marshal(protocol.PatchesMsg{
		Type:      protocol.TypePatches,
		Tick:      tick,
		Cell:      rec.Cell,
		Created:   rec.Created,
		Destroyed: rec.Destroyed,
		Loaded:    rec.Loaded,
	})
	if err != nil {
		return
	}
	for _, out := range s.sessions {
		select {
		case out <- frame:
		default:
			// Slow inspector: drop the frame, keep the session.
			s.droppedFrames++
		}
	}
}

func cellPairs(cells []grid.Cell) [][2]int {
	out := make([][2]int, 0, len(cells))
	for _, c := range cells {
		out = append(out, [2]int{c.CX, c.CZ})
	}
	return out
}
