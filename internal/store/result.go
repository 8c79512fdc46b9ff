package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"quantra/internal/backtest"
	"quantra/internal/task"
)

// ResultStore 持久化已结束任务的结果，单个 runs.db 存全部任务。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveRun 落盘一次任务：主表指标 + 成交明细 + 净值曲线 + 过程日志。
func (s *ResultStore) SaveRun(ctx context.Context, run task.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("result store 已关闭")
	}

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result backtest.Result
	if run.Result != nil {
		result = *run.Result
	}
	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, status, params_json, error,
			total_return, annualized_return, max_drawdown,
			sharpe_ratio, sortino_ratio, calmar_ratio,
			win_rate, profit_factor, total_trades,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, error=excluded.error,
			total_return=excluded.total_return,
			annualized_return=excluded.annualized_return,
			max_drawdown=excluded.max_drawdown,
			sharpe_ratio=excluded.sharpe_ratio,
			sortino_ratio=excluded.sortino_ratio,
			calmar_ratio=excluded.calmar_ratio,
			win_rate=excluded.win_rate,
			profit_factor=excluded.profit_factor,
			total_trades=excluded.total_trades,
			updated_at=excluded.updated_at`,
		run.ID, run.Status, string(paramsJSON), run.Error,
		result.TotalReturn, result.AnnualizedReturn, result.MaxDrawdown,
		result.SharpeRatio, result.SortinoRatio, result.CalmarRatio,
		result.WinRate, result.ProfitFactor, result.TotalTrades,
		run.CreatedAt.UnixMilli(), now)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for _, t := range result.Trades {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO trades (run_id, trade_id, order_id, symbol, side, price, quantity, fee, ts, pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, t.ID, t.OrderID, t.Symbol, string(t.Side), t.Price, t.Quantity, t.Fee, t.Timestamp, t.PnL); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for _, p := range result.EquityCurve {
		if _, err = tx.ExecContext(ctx, `INSERT INTO snapshots (run_id, ts, equity) VALUES (?, ?, ?)`,
			run.ID, p.Timestamp, p.Equity); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM logs WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for _, entry := range result.Logs {
		var raw []byte
		raw, err = json.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO logs (run_id, ts, entry_json) VALUES (?, ?, ?)`,
			run.ID, entry.Timestamp, string(raw)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RunRow 是主表里的一行摘要。
type RunRow struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	Error            string  `json:"error,omitempty"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	TotalTrades      int     `json:"total_trades"`
	Params           string  `json:"params"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
}

// ListRuns 按创建时间倒序返回历史任务摘要。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store 已关闭")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, COALESCE(error, ''), total_return, annualized_return, max_drawdown,
		       sharpe_ratio, sortino_ratio, calmar_ratio, win_rate, profit_factor, total_trades,
		       params_json, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.Status, &r.Error, &r.TotalReturn, &r.AnnualizedReturn, &r.MaxDrawdown,
			&r.SharpeRatio, &r.SortinoRatio, &r.CalmarRatio, &r.WinRate, &r.ProfitFactor, &r.TotalTrades,
			&r.Params, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunTrades 返回某次任务的成交明细。
func (s *ResultStore) RunTrades(ctx context.Context, runID string) ([]backtest.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store 已关闭")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, order_id, symbol, side, price, quantity, fee, ts, pnl
		FROM trades WHERE run_id = ? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backtest.Trade
	for rows.Next() {
		var t backtest.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Price, &t.Quantity, &t.Fee, &t.Timestamp, &t.PnL); err != nil {
			return nil, err
		}
		t.Side = backtest.OrderSide(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RunEquity 返回某次任务的净值曲线。
func (s *ResultStore) RunEquity(ctx context.Context, runID string) ([]backtest.EquityPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store 已关闭")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ts, equity FROM snapshots WHERE run_id = ? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backtest.EquityPoint
	for rows.Next() {
		var p backtest.EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Equity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunLogs 返回某次任务的逐 K 线过程日志。
func (s *ResultStore) RunLogs(ctx context.Context, runID string, limit int) ([]backtest.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("result store 已关闭")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `SELECT entry_json FROM logs WHERE run_id = ? ORDER BY ts ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backtest.LogEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var entry backtest.LogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			params_json TEXT NOT NULL,
			error TEXT,
			total_return REAL NOT NULL DEFAULT 0,
			annualized_return REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			sharpe_ratio REAL NOT NULL DEFAULT 0,
			sortino_ratio REAL NOT NULL DEFAULT 0,
			calmar_ratio REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			profit_factor REAL NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			fee REAL NOT NULL,
			ts INTEGER NOT NULL,
			pnl REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			entry_json TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_run ON logs(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
