// Package indexdb maintains a queryable SQLite index of the interaction
// history. It is a secondary read model: writes are buffered and dropped
// under backpressure, the JSONL logs remain the source of truth.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqCommand reqKind = iota + 1
	reqUpdate
)

type req struct {
	kind reqKind

	cmd    world.CommandRecord
	update protocol.UpdateBatch
	at     time.Time
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return open(path, 65536)
}

func open(path string, queue int) (*SQLiteIndex, error) {
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
		// High buffer: looped actions can emit command bursts far faster
		// than a commit cycle without stalling the world.
		ch: make(chan req, queue),
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
		`CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			applied INTEGER NOT NULL,
			code TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_type ON commands(type, seq);`,
		`CREATE TABLE IF NOT EXISTS updates (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			grippers INTEGER NOT NULL,
			objs INTEGER NOT NULL,
			config INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
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

// RecordCommand implements world.CommandRecorder. Never blocks; entries are
// dropped when the indexer falls behind.
func (s *SQLiteIndex) RecordCommand(rec world.CommandRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCommand, cmd: rec}:
	default:
		s.dropped.Add(1)
	}
}

// PushUpdate implements world.UpdateSink, same backpressure rule.
func (s *SQLiteIndex) PushUpdate(batch protocol.UpdateBatch) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqUpdate, update: batch, at: time.Now().UTC()}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded under backpressure.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// CountCommands returns the number of indexed commands, for the given
// session or all sessions when sessionID is empty.
func (s *SQLiteIndex) CountCommands(sessionID string) (int, error) {
	var n int
	var err error
	if sessionID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM commands`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM commands WHERE session_id=?`, sessionID).Scan(&n)
	}
	return n, err
}

func (s *SQLiteIndex) CountUpdates() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM updates`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	insertCommand, _ := s.db.Prepare(`INSERT INTO commands(ts,session_id,type,applied,code,raw_json) VALUES(?,?,?,?,?,?)`)
	insertUpdate, _ := s.db.Prepare(`INSERT INTO updates(ts,grippers,objs,config,raw_json) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertCommand != nil {
			_ = insertCommand.Close()
		}
		if insertUpdate != nil {
			_ = insertUpdate.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.Begin()
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
		case reqCommand:
			if insertCommand == nil {
				continue
			}
			applied := 0
			if r.cmd.Applied {
				applied = 1
			}
			if _, err := tx.Stmt(insertCommand).Exec(
				r.cmd.Time.Format(time.RFC3339Nano),
				r.cmd.SessionID,
				r.cmd.Type,
				applied,
				r.cmd.Code,
				string(r.cmd.Raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqUpdate:
			if insertUpdate == nil {
				continue
			}
			raw, _ := json.Marshal(r.update)
			config := 0
			if r.update.Config {
				config = 1
			}
			if _, err := tx.Stmt(insertUpdate).Exec(
				r.at.Format(time.RFC3339Nano),
				len(r.update.Grippers),
				len(r.update.Objs),
				config,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
