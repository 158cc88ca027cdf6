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

	persistlog "voxelclient.ai/internal/persistence/log"
)

// SQLiteIndex mirrors trace records into SQLite for ad hoc queries. Writes
// are queued to a single writer goroutine; a full queue drops the record.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan persistlog.Record
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropLightJob atomic.Uint64
	dropChunk    atomic.Uint64
	written      atomic.Uint64
	failed       atomic.Uint64
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropLightJobTotal uint64
	DropChunkTotal    uint64
	WrittenTotal      uint64
	FailedTotal       uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{db: db, ch: make(chan persistlog.Record, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS light_jobs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			job_id TEXT NOT NULL,
			color TEXT NOT NULL,
			outcome TEXT NOT NULL,
			retry INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			elapsed_ms REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_light_jobs_outcome ON light_jobs(outcome);`,
		`CREATE INDEX IF NOT EXISTS idx_light_jobs_job ON light_jobs(job_id);`,
		`CREATE TABLE IF NOT EXISTS chunk_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			event TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			chunk_id TEXT NOT NULL,
			source TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_pos ON chunk_events(cx, cz, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
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

// WriteRecord queues r. It never blocks; the JSONL trace stays the source
// of truth when the index falls behind.
func (s *SQLiteIndex) WriteRecord(r persistlog.Record) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- r:
	default:
		if r.Kind == persistlog.KindLightJob {
			s.dropLightJob.Add(1)
		} else {
			s.dropChunk.Add(1)
		}
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropLightJobTotal: s.dropLightJob.Load(),
		DropChunkTotal:    s.dropChunk.Load(),
		WrittenTotal:      s.written.Load(),
		FailedTotal:       s.failed.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertJob, _ := s.db.Prepare(`INSERT INTO light_jobs(at,job_id,color,outcome,retry,chunks,elapsed_ms) VALUES(?,?,?,?,?,?,?)`)
	insertChunk, _ := s.db.Prepare(`INSERT INTO chunk_events(at,event,cx,cz,chunk_id,source) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertJob != nil {
			_ = insertJob.Close()
		}
		if insertChunk != nil {
			_ = insertChunk.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
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
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(opCount) + 1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		at := r.At.UTC().Format(time.RFC3339Nano)
		var err error
		switch r.Kind {
		case persistlog.KindLightJob:
			if insertJob == nil {
				continue
			}
			_, err = tx.Stmt(insertJob).Exec(at, r.JobID, r.Color, r.Outcome, r.Retry, r.Chunks, r.ElapsedMS)
		case persistlog.KindChunk:
			if insertChunk == nil {
				continue
			}
			_, err = tx.Stmt(insertChunk).Exec(at, r.Event, r.CX, r.CZ, r.ID, r.Source)
		default:
			continue
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

// OutcomeCounts groups light job rows by outcome.
func (s *SQLiteIndex) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	return countBy(ctx, s.db, `SELECT outcome, COUNT(*) FROM light_jobs GROUP BY outcome`)
}

// ChunkEventCounts groups chunk rows by event kind.
func (s *SQLiteIndex) ChunkEventCounts(ctx context.Context) (map[string]int, error) {
	return countBy(ctx, s.db, `SELECT event, COUNT(*) FROM chunk_events GROUP BY event`)
}

func countBy(ctx context.Context, db *sql.DB, query string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
