// Package indexdb keeps a queryable SQLite index next to the region files:
// streaming sessions and per-chunk save events. The region files remain the
// source of truth; the index is advisory and writes to it may be dropped
// under load.
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
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	sessionID atomic.Int64
}

type reqKind int

const (
	reqSessionEnd reqKind = iota + 1
	reqSave
	reqBarrier
)

type req struct {
	kind reqKind

	session sessionRow
	save    SaveEvent
	done    chan struct{}
}

type sessionRow struct {
	ID        int64
	WorldName string
	Seed      int64
	StartedAt string
	EndedAt   string
}

// SaveEvent records one chunk blob landing in a region file.
type SaveEvent struct {
	CX     int
	CZ     int
	Bytes  int
	Reason string // "evict", "flush", "shutdown"
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{
		db: db,
		// Sized for eviction bursts when the viewpoint jumps.
		ch: make(chan req, 16384),
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
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			world_name TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			session_id INTEGER NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			reason TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_pos ON saves(cx, cz);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_session ON saves(session_id);`,
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

// BeginSession records the world being opened and returns the session id
// used by subsequent save events. Synchronous; runs once per open.
func (s *SQLiteIndex) BeginSession(worldName string, seed int64) (int64, error) {
	if s == nil || s.closed.Load() {
		return 0, nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		`INSERT INTO sessions(world_name,seed,started_at) VALUES(?,?,?)`,
		worldName, seed, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.sessionID.Store(id)
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return 0, err
	}
	return id, nil
}

// EndSession stamps the open session's end time.
func (s *SQLiteIndex) EndSession() {
	if s == nil || s.closed.Load() {
		return
	}
	r := sessionRow{
		ID:      s.sessionID.Load(),
		EndedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSessionEnd, session: r}:
	default:
	}
}

// RecordSave indexes one chunk save. Non-blocking; dropped if the indexer
// falls behind.
func (s *SQLiteIndex) RecordSave(ev SaveEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSave, save: ev}:
	default:
	}
}

// SaveCount reports how many save events the index holds for a position.
func (s *SQLiteIndex) SaveCount(cx, cz int) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM saves WHERE cx=? AND cz=?`, cx, cz).Scan(&n)
	return n, err
}

// Flush blocks until every event enqueued before the call is committed.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqBarrier, done: done}
	<-done
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSave, _ := s.db.Prepare(`INSERT INTO saves(session_id,cx,cz,bytes,reason,saved_at) VALUES(?,?,?,?,?,?)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET ended_at=? WHERE id=?`)
	defer func() {
		if insertSave != nil {
			_ = insertSave.Close()
		}
		if endSession != nil {
			_ = endSession.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 512
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
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSave:
			ev := r.save
			if insertSave != nil {
				now := time.Now().UTC().Format(time.RFC3339Nano)
				if _, err := tx.Stmt(insertSave).Exec(
					s.sessionID.Load(), ev.CX, ev.CZ, ev.Bytes, ev.Reason, now,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSessionEnd:
			se := r.session
			if endSession != nil {
				if _, err := tx.Stmt(endSession).Exec(se.EndedAt, se.ID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			// An ending session should be visible immediately.
			commit()

		case reqBarrier:
			commit()
			close(r.done)
		}
		flushIfNeeded()
	}

	commit()
}
