// Package memory is the two-tier conversational store: a bounded per-channel
// short-term window and an embedding-indexed long-term table, both in one
// SQLite database, plus the daily consolidation batch that migrates the
// former into the latter.
package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

type Engine struct {
	db *sql.DB
	mu sync.Mutex

	shortTermLimit int

	chMu  sync.Mutex
	chans map[string]*sync.Mutex
}

func NewEngine(dbPath string, shortTermLimit int) (*Engine, error) {
	if shortTermLimit <= 0 {
		shortTermLimit = 20
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{
		db:             db,
		shortTermLimit: shortTermLimit,
		chans:          make(map[string]*sync.Mutex),
	}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS short_term (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_short_term_channel ON short_term(channel, id)`,
		`CREATE TABLE IF NOT EXISTS long_term (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			importance REAL NOT NULL DEFAULT 0.5,
			tags TEXT NOT NULL DEFAULT '[]',
			created_date TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_long_term_date ON long_term(created_date, importance)`,
		`CREATE INDEX IF NOT EXISTS idx_long_term_channel ON long_term(channel, created_date)`,
		`CREATE TABLE IF NOT EXISTS consolidation_runs (
			run_date TEXT NOT NULL,
			channel TEXT NOT NULL,
			completed_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (run_date, channel)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// channelLock returns the exclusive section guarding one channel's
// short-term window. Pipeline appends and the consolidation drain both
// take it, so a drain never interleaves with a write.
func (e *Engine) channelLock(channel string) *sync.Mutex {
	e.chMu.Lock()
	defer e.chMu.Unlock()
	mu, ok := e.chans[channel]
	if !ok {
		mu = &sync.Mutex{}
		e.chans[channel] = mu
	}
	return mu
}

// Stats reports row counts for status reporting.
func (e *Engine) Stats() (Stats, error) {
	var s Stats
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM short_term`).Scan(&s.ShortTermCount); err != nil {
		return s, fmt.Errorf("count short_term: %w", err)
	}
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM long_term`).Scan(&s.LongTermCount); err != nil {
		return s, fmt.Errorf("count long_term: %w", err)
	}
	if err := e.db.QueryRow(`SELECT COUNT(DISTINCT channel) FROM short_term`).Scan(&s.ChannelCount); err != nil {
		return s, fmt.Errorf("count channels: %w", err)
	}
	err := e.db.QueryRow(`SELECT run_date FROM consolidation_runs ORDER BY run_date DESC LIMIT 1`).Scan(&s.LastRunDate)
	if err != nil && err != sql.ErrNoRows {
		return s, fmt.Errorf("last run date: %w", err)
	}
	return s, nil
}
