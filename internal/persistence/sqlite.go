package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the journal at path and migrates it.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			price TEXT NOT NULL,
			requested INTEGER NOT NULL,
			filled INTEGER NOT NULL DEFAULT 0,
			checks INTEGER NOT NULL DEFAULT 0,
			reprices INTEGER NOT NULL DEFAULT 0,
			last_order_id TEXT,
			in_flight_order_id TEXT,
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_symbol ON cycles(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at)`,

		`CREATE TABLE IF NOT EXISTS order_attempts (
			cycle_id TEXT NOT NULL REFERENCES cycles(cycle_id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			order_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			price TEXT NOT NULL,
			volume INTEGER NOT NULL,
			traded INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL,
			submitted_at DATETIME NOT NULL,
			PRIMARY KEY (cycle_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_order_id ON order_attempts(order_id)`,

		`CREATE TABLE IF NOT EXISTS controller_state (
			symbol TEXT PRIMARY KEY,
			last_updated DATETIME NOT NULL,
			in_flight_order_id TEXT,
			stopped INTEGER NOT NULL DEFAULT 0,
			stop_reason TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveCycle stores a cycle and replaces its attempts in one transaction.
func (r *SQLiteRepository) SaveCycle(ctx context.Context, c CycleRecord) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO cycles
		(cycle_id, symbol, side, outcome, price, requested, filled, checks, reprices,
		 last_order_id, in_flight_order_id, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CycleID,
		c.Symbol,
		int(c.Side),
		c.Outcome,
		c.Price.String(),
		c.Requested,
		c.Filled,
		c.Checks,
		c.Reprices,
		nullString(c.LastOrderID),
		nullString(c.InFlightOrderID),
		nullString(c.Error),
		c.StartedAt.UTC(),
		c.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_attempts WHERE cycle_id = ?`, c.CycleID); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}

	for i, a := range c.Attempts {
		seq := a.Seq
		if seq == 0 {
			seq = i + 1
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO order_attempts
			(cycle_id, seq, order_id, client_id, price, volume, traded, status, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.CycleID,
			seq,
			a.OrderID,
			a.ClientID,
			a.Price.String(),
			a.Volume,
			a.Traded,
			int(a.Status),
			a.SubmittedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert attempt %d: %w", seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

const cycleColumns = `cycle_id, symbol, side, outcome, price, requested, filled, checks, reprices,
	last_order_id, in_flight_order_id, error, started_at, finished_at`

// GetCycle returns a cycle with its attempts, or nil if unknown.
func (r *SQLiteRepository) GetCycle(ctx context.Context, cycleID string) (*CycleRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE cycle_id = ?`, cycleID)

	c, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cycle: %w", err)
	}

	c.Attempts, err = r.attempts(ctx, c.CycleID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RecentCycles returns the newest cycles first. An empty symbol matches all.
func (r *SQLiteRepository) RecentCycles(ctx context.Context, symbol string, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + cycleColumns + ` FROM cycles`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []CycleRecord
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}

	for i := range cycles {
		cycles[i].Attempts, err = r.attempts(ctx, cycles[i].CycleID)
		if err != nil {
			return nil, err
		}
	}
	return cycles, nil
}

// CycleStats counts cycles started in [from, to] by side and outcome.
func (r *SQLiteRepository) CycleStats(ctx context.Context, from, to time.Time) ([]OutcomeCount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT side, outcome, COUNT(*), COALESCE(SUM(filled), 0)
		FROM cycles WHERE started_at BETWEEN ? AND ?
		GROUP BY side, outcome ORDER BY side, outcome`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query cycle stats: %w", err)
	}
	defer rows.Close()

	var stats []OutcomeCount
	for rows.Next() {
		var s OutcomeCount
		var side int
		if err := rows.Scan(&side, &s.Outcome, &s.Cycles, &s.Filled); err != nil {
			return nil, fmt.Errorf("scan cycle stats: %w", err)
		}
		s.Side = types.Side(side)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *SQLiteRepository) attempts(ctx context.Context, cycleID string) ([]AttemptRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT seq, order_id, client_id, price, volume, traded, status, submitted_at
		FROM order_attempts WHERE cycle_id = ? ORDER BY seq`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []AttemptRecord
	for rows.Next() {
		var a AttemptRecord
		var price string
		var status int
		if err := rows.Scan(&a.Seq, &a.OrderID, &a.ClientID, &price, &a.Volume, &a.Traded, &status, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Price, _ = decimal.NewFromString(price)
		a.Status = types.OrderStatus(status)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (CycleRecord, error) {
	var c CycleRecord
	var side int
	var price string
	var lastOrderID, inFlight, errMsg sql.NullString

	err := s.Scan(
		&c.CycleID,
		&c.Symbol,
		&side,
		&c.Outcome,
		&price,
		&c.Requested,
		&c.Filled,
		&c.Checks,
		&c.Reprices,
		&lastOrderID,
		&inFlight,
		&errMsg,
		&c.StartedAt,
		&c.FinishedAt,
	)
	if err != nil {
		return c, err
	}

	c.Side = types.Side(side)
	c.Price, _ = decimal.NewFromString(price)
	c.LastOrderID = lastOrderID.String
	c.InFlightOrderID = inFlight.String
	c.Error = errMsg.String
	return c, nil
}

// SaveState upserts the controller state for its symbol.
func (r *SQLiteRepository) SaveState(ctx context.Context, state ControllerState) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO controller_state
		(symbol, last_updated, in_flight_order_id, stopped, stop_reason)
		VALUES (?, ?, ?, ?, ?)`,
		state.Symbol,
		state.LastUpdated.UTC(),
		nullString(state.InFlightOrderID),
		state.Stopped,
		nullString(state.StopReason),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// GetState returns the saved state for symbol, or nil if none.
func (r *SQLiteRepository) GetState(ctx context.Context, symbol string) (*ControllerState, error) {
	var state ControllerState
	var inFlight, reason sql.NullString

	err := r.db.QueryRowContext(ctx, `SELECT symbol, last_updated, in_flight_order_id, stopped, stop_reason
		FROM controller_state WHERE symbol = ?`, symbol).Scan(
		&state.Symbol,
		&state.LastUpdated,
		&inFlight,
		&state.Stopped,
		&reason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	state.InFlightOrderID = inFlight.String
	state.StopReason = reason.String
	return &state, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repository = (*SQLiteRepository)(nil)
