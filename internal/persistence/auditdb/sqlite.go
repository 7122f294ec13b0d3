// Package auditdb keeps a queryable SQLite history of finished digs and
// player sessions. The simulation hands records over through a buffered
// channel; a single writer goroutine batches them into transactions, so a
// slow disk never stalls a tick. The JSONL event log remains the complete
// record; this index drops rows when it falls behind.
package auditdb

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

	"tileworld/internal/game"
)

const (
	queueSize     = 65536
	commitEvery   = 500
	commitMaxWait = time.Second
)

// DigRow is one finished dig as stored.
type DigRow struct {
	Tick       uint64    `json:"tick"`
	SessionID  string    `json:"sessionId"`
	EntityID   uint64    `json:"entityId"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Block      uint8     `json:"block"`
	Tool       string    `json:"tool"`
	StartTick  uint64    `json:"startTick"`
	Outcome    string    `json:"outcome"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Stats reports queue health.
type Stats struct {
	QueueDepth       int    `json:"queueDepth"`
	QueueCapacity    int    `json:"queueCapacity"`
	DropDigTotal     uint64 `json:"dropDigTotal"`
	DropSessionTotal uint64 `json:"dropSessionTotal"`
	WrittenTotal     uint64 `json:"writtenTotal"`
	ErrorTotal       uint64 `json:"errorTotal"`
}

type reqKind int

const (
	reqDig reqKind = iota + 1
	reqSession
	reqSync
)

type req struct {
	kind    reqKind
	dig     game.DigRecord
	session game.SessionRecord
	done    chan struct{}
}

// SQLiteIndex implements game.Journal on top of SQLite.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropDig     atomic.Uint64
	dropSession atomic.Uint64
	written     atomic.Uint64
	errors      atomic.Uint64
}

// OpenSQLite opens (creating if needed) the index at path and starts the
// writer goroutine.
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
	// One writer connection plus one for debug readers (WAL)
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditdb pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditdb schema: %w", err)
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queueSize),
	}
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
		`CREATE TABLE IF NOT EXISTS digs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			block INTEGER NOT NULL,
			tool TEXT NOT NULL,
			start_tick INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_digs_pos_tick ON digs(x, y, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_digs_session ON digs(session_id, tick);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			event TEXT NOT NULL,
			tick INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_session ON sessions(session_id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
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

// RecordDig implements game.Journal. It never blocks.
func (s *SQLiteIndex) RecordDig(rec game.DigRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqDig, dig: rec}:
	default:
		s.dropDig.Add(1)
	}
}

// RecordSession implements game.Journal. It never blocks.
func (s *SQLiteIndex) RecordSession(rec game.SessionRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: rec}:
	default:
		s.dropSession.Add(1)
	}
}

// Sync waits until every record queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns queue and write counters.
func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropDigTotal:     s.dropDig.Load(),
		DropSessionTotal: s.dropSession.Load(),
		WrittenTotal:     s.written.Load(),
		ErrorTotal:       s.errors.Load(),
	}
}

// RecentDigs returns up to limit committed digs, newest first. An outcome
// filter of "" matches every outcome.
func (s *SQLiteIndex) RecentDigs(ctx context.Context, outcome string, limit int) ([]DigRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick, session_id, entity_id, x, y, block, tool, start_tick, outcome, recorded_at
		FROM digs
		WHERE (? = '' OR outcome = ?)
		ORDER BY id DESC
		LIMIT ?`, outcome, outcome, limit)
	if err != nil {
		return nil, fmt.Errorf("query digs: %w", err)
	}
	defer rows.Close()

	var out []DigRow
	for rows.Next() {
		var (
			r       DigRow
			tick    int64
			entity  int64
			start   int64
			block   int64
			recAtTS string
		)
		if err := rows.Scan(&tick, &r.SessionID, &entity, &r.X, &r.Y, &block, &r.Tool, &start, &r.Outcome, &recAtTS); err != nil {
			return nil, fmt.Errorf("scan dig: %w", err)
		}
		r.Tick, r.EntityID, r.StartTick, r.Block = uint64(tick), uint64(entity), uint64(start), uint8(block)
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recAtTS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DigsAt returns every committed dig recorded for block (x, y).
func (s *SQLiteIndex) DigsAt(ctx context.Context, x, y int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM digs WHERE x = ? AND y = ? AND outcome = 'committed'`, x, y).Scan(&n)
	return n, err
}

// SessionCount returns how many join records exist.
func (s *SQLiteIndex) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE event = 'join'`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertDig, _ := s.db.Prepare(`INSERT INTO digs(tick,session_id,entity_id,x,y,block,tool,start_tick,outcome,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT INTO sessions(session_id,entity_id,name,event,tick,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertDig != nil {
			_ = insertDig.Close()
		}
		if insertSession != nil {
			_ = insertSession.Close()
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.errors.Add(1)
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
			s.errors.Add(1)
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
		s.errors.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC()

		switch r.kind {
		case reqDig:
			d := r.dig
			at := d.At
			if at.IsZero() {
				at = now
			}
			if insertDig != nil {
				if _, err := tx.Stmt(insertDig).Exec(
					int64(d.Tick),
					d.SessionID,
					int64(d.EntityID),
					d.X, d.Y,
					int64(d.Block),
					d.Tool,
					int64(d.StartTick),
					d.Outcome,
					at.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSession:
			se := r.session
			at := se.At
			if at.IsZero() {
				at = now
			}
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(
					se.SessionID,
					int64(se.EntityID),
					se.Name,
					se.Event,
					int64(se.Tick),
					at.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}

		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}
