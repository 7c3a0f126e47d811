// Package decisionlog 持久化每一次共识裁决，方便后续排查/复盘。
// 文本决策日志是人看的，这里是程序查的。
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"orca/internal/types"

	_ "modernc.org/sqlite"
)

type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// Record 是一条落库的裁决记录。
type Record struct {
	ID         int64        `json:"id"`
	TS         int64        `json:"ts"`
	TraceID    string       `json:"trace_id"`
	Symbol     string       `json:"symbol"`
	Action     string       `json:"action"`
	Confidence float64      `json:"confidence"`
	Regime     string       `json:"regime"`
	Reason     string       `json:"reason,omitempty"`
	Votes      []types.Vote `json:"votes,omitempty"`
}

// Query 用于筛选历史裁决。
type Query struct {
	Symbol string
	Action string
	Limit  int
	Offset int
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, ownsDB: true}, nil
}

// UseExternalDB 允许复用外部初始化的 SQLite 连接，避免多连接锁冲突。
func (s *Store) UseExternalDB(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("external db 不能为空")
	}
	if err := ensureSchema(db); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsDB && s.db != nil && s.db != db {
		_ = s.db.Close()
	}
	s.db = db
	s.ownsDB = false
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			trace_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			confidence REAL,
			regime TEXT,
			reason TEXT,
			votes_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_ts ON decisions(symbol, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_trace ON decisions(trace_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing decision log schema: %w", err)
		}
	}
	return nil
}

// Append 落库一条裁决。
func (s *Store) Append(ctx context.Context, d types.Decision) error {
	votes, err := json.Marshal(d.Votes)
	if err != nil {
		return fmt.Errorf("marshaling votes: %w", err)
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("decision log store is closed")
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO decisions (ts, trace_id, symbol, action, confidence, regime, reason, votes_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CreatedAt.Unix(), d.TraceID, d.Symbol, string(d.Action), d.Confidence,
		string(d.Regime.Trend), d.Reason, string(votes))
	return err
}

// List 按时间倒序返回匹配的裁决。
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("decision log store is closed")
	}

	where := "1=1"
	args := []any{}
	if q.Symbol != "" {
		where += " AND symbol = ?"
		args = append(args, q.Symbol)
	}
	if q.Action != "" {
		where += " AND action = ?"
		args = append(args, q.Action)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, q.Offset)

	rows, err := db.QueryContext(ctx,
		`SELECT id, ts, trace_id, symbol, action, confidence, regime, reason, votes_json
		 FROM decisions WHERE `+where+` ORDER BY ts DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var votesJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TS, &rec.TraceID, &rec.Symbol, &rec.Action,
			&rec.Confidence, &rec.Regime, &rec.Reason, &votesJSON); err != nil {
			return nil, err
		}
		if votesJSON.Valid && votesJSON.String != "" {
			// 票面 JSON 解不开就带着空票返回，记录本身还有用
			_ = json.Unmarshal([]byte(votesJSON.String), &rec.Votes)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
