// Package journal persists runs, orders, fills, and completed trades to a
// SQLite database for post-trade review.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"futures-exec-go/broker"
	"futures-exec-go/execution"
)

var _ execution.Journal = (*Journaler)(nil)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time TEXT NOT NULL,
		end_time TEXT,
		env TEXT,
		tags TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		run_id INTEGER,
		timestamp TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty INTEGER NOT NULL,
		order_type TEXT NOT NULL,
		limit_price TEXT,
		stop_price TEXT,
		status TEXT,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);`,
	`CREATE TABLE IF NOT EXISTS fills (
		fill_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		run_id INTEGER,
		timestamp TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty INTEGER NOT NULL,
		price TEXT NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);`,
	`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty INTEGER NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL,
		pnl_ticks TEXT NOT NULL,
		pnl_usd TEXT NOT NULL,
		exit_reason TEXT NOT NULL,
		signal_reason TEXT,
		entry_time TEXT NOT NULL,
		closed_at TEXT NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);`,
}

// Journaler writes trading activity to SQLite. Prices are stored as TEXT to
// keep decimal values exact. Write failures are logged, never propagated:
// journaling must not interfere with order handling.
type Journaler struct {
	db    *sql.DB
	runID int64
	log   *zap.Logger
}

// Open creates the database (and its directory) if needed and applies the
// schema.
func Open(dbPath string, log *zap.Logger) (*Journaler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal schema: %w", err)
		}
	}
	return &Journaler{db: db, log: log}, nil
}

// StartRun records a new run and scopes subsequent writes to it.
func (j *Journaler) StartRun(env, tags string) error {
	res, err := j.db.Exec(
		`INSERT INTO runs (start_time, env, tags) VALUES (?, ?, ?)`,
		time.Now().Format(time.RFC3339), env, tags,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	j.runID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("start run id: %w", err)
	}
	j.log.Info("journal run started", zap.Int64("run_id", j.runID))
	return nil
}

// Close stamps the run's end time and closes the database.
func (j *Journaler) Close() error {
	if j.runID != 0 {
		if _, err := j.db.Exec(
			`UPDATE runs SET end_time = ? WHERE id = ?`,
			time.Now().Format(time.RFC3339), j.runID,
		); err != nil {
			j.log.Warn("journal run close", zap.Error(err))
		}
	}
	return j.db.Close()
}

func (j *Journaler) LogOrder(o broker.Order) {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO orders
		 (order_id, run_id, timestamp, symbol, side, qty, order_type, limit_price, stop_price, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, j.runID, o.CreatedAt.Format(time.RFC3339Nano),
		o.Request.Symbol, string(o.Request.Side), o.Request.Qty, string(o.Request.Type),
		o.Request.LimitPrice.String(), o.Request.StopPrice.String(), string(o.Status),
	)
	if err != nil {
		j.log.Error("journal order write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (j *Journaler) LogFill(f broker.Fill) {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO fills
		 (fill_id, order_id, run_id, timestamp, symbol, side, qty, price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, j.runID, f.Timestamp.Format(time.RFC3339Nano),
		f.Symbol, string(f.Side), f.Qty, f.Price.String(),
	)
	if err != nil {
		j.log.Error("journal fill write failed", zap.String("fill_id", f.ID), zap.Error(err))
	}
}

func (j *Journaler) LogTrade(r execution.TradeResult) {
	_, err := j.db.Exec(
		`INSERT INTO trades
		 (run_id, symbol, side, qty, entry_price, exit_price, pnl_ticks, pnl_usd,
		  exit_reason, signal_reason, entry_time, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, r.Symbol, string(r.Side), r.Qty,
		r.EntryPrice.String(), r.ExitPrice.String(),
		r.PnLTicks.String(), r.PnLUSD.String(),
		r.ExitReason, r.Reason,
		r.EntryTime.Format(time.RFC3339Nano), r.ClosedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		j.log.Error("journal trade write failed", zap.String("symbol", r.Symbol), zap.Error(err))
	}
}
