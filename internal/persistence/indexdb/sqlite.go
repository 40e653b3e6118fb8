// Package indexdb keeps a SQLite read-model of streamer updates for the
// /metrics endpoint and offline inspection. It never feeds back into
// the sim; the journal stays the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"terrastream.dev/internal/persistence/journal"
)

type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan journal.UpdateRecord
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropTotal atomic.Uint64
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.Exec(`INSERT OR REPLACE INTO runs(run_id, started_at) VALUES(?,?)`, runID, now); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		// One record per cell crossing; a modest buffer rides out disk stalls.
		ch: make(chan journal.UpdateRecord, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS updates (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			created INTEGER NOT NULL,
			destroyed INTEGER NOT NULL,
			loaded INTEGER NOT NULL,
			create_errors INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_updates_cell ON updates(run_id, cx, cz);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordUpdate enqueues one update row. Drops when the writer falls
// behind; the journal remains the source of truth.
func (s *SQLiteIndex) RecordUpdate(rec journal.UpdateRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- rec:
	default:
		s.dropTotal.Add(1)
	}
}

type Stats struct {
	DropTotal     uint64
	QueueDepth    int
	QueueCapacity int
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTotal:     s.dropTotal.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

// Summary aggregates the current run for /metrics and cmd/replay.
type Summary struct {
	Updates        int
	CreatedTotal   int
	DestroyedTotal int
	LastTick       uint64
	LastLoaded     int
}

func (s *SQLiteIndex) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(created),0), COALESCE(SUM(destroyed),0),
		       COALESCE(MAX(tick),0)
		FROM updates WHERE run_id = ?`, s.runID)
	if err := row.Scan(&sum.Updates, &sum.CreatedTotal, &sum.DestroyedTotal, &sum.LastTick); err != nil {
		return sum, err
	}
	if sum.Updates > 0 {
		row = s.db.QueryRowContext(ctx, `SELECT loaded FROM updates WHERE run_id = ? AND tick = ?`, s.runID, sum.LastTick)
		if err := row.Scan(&sum.LastLoaded); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO updates(run_id,tick,cx,cz,created,destroyed,loaded,create_errors) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		// Can't index without the statement; drain so Close can finish.
		for range s.ch {
		}
		return
	}
	defer insert.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}
	defer commit()

	flushTimer := time.NewTicker(500 * time.Millisecond)
	defer flushTimer.Stop()

	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				return
			}
			begin()
			if tx == nil {
				continue
			}
			_, _ = tx.Stmt(insert).Exec(s.runID, rec.Tick, rec.Cell[0], rec.Cell[1],
				len(rec.Created), len(rec.Destroyed), rec.Loaded, len(rec.CreateErrors))
			opCount++
			if opCount >= commitEvery {
				commit()
			}
		case <-flushTimer.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
