// Package sqlite persists bars, oscillator checkpoints, positions and
// signals in a single SQLite database. WAL mode with a single writer
// connection; bar writes batch into one transaction per call.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"anomaly-trader/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements model.Store on SQLite.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens (or creates) the database at path with WAL mode and the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol   TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   INTEGER,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS oscillator_states (
			symbol     TEXT PRIMARY KEY,
			period     INTEGER NOT NULL,
			avg_gain   REAL    NOT NULL,
			avg_loss   REAL    NOT NULL,
			prev_close REAL    NOT NULL,
			count      INTEGER NOT NULL,
			last_ts    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			id   TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			data   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

		CREATE TABLE IF NOT EXISTS signals (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			direction TEXT    NOT NULL,
			severity  REAL    NOT NULL,
			data      TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts);
	`)
	return err
}

// WriteBars upserts bars in a single transaction.
func (s *Store) WriteBars(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(b.Symbol, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ReadBars returns stored bars for symbol after afterTS, ordered by
// timestamp ascending for correct replay order.
func (s *Store) ReadBars(ctx context.Context, symbol string, afterTS time.Time) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterTS.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&b.Symbol, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LoadOscillatorState returns the stored checkpoint for symbol, nil if none.
func (s *Store) LoadOscillatorState(ctx context.Context, symbol string) (*model.OscillatorState, error) {
	var st model.OscillatorState
	var lastTS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, period, avg_gain, avg_loss, prev_close, count, last_ts
		FROM oscillator_states WHERE symbol = ?
	`, symbol).Scan(&st.Symbol, &st.Period, &st.AvgGain, &st.AvgLoss, &st.PrevClose, &st.Count, &lastTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read oscillator state: %w", err)
	}
	st.LastTS = time.Unix(lastTS, 0).UTC()
	return &st, nil
}

// SaveOscillatorState upserts the checkpoint for its symbol.
func (s *Store) SaveOscillatorState(ctx context.Context, st model.OscillatorState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO oscillator_states (symbol, period, avg_gain, avg_loss, prev_close, count, last_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.Symbol, st.Period, st.AvgGain, st.AvgLoss, st.PrevClose, st.Count, st.LastTS.Unix())
	if err != nil {
		return fmt.Errorf("sqlite save oscillator state: %w", err)
	}
	return nil
}

// LoadOpenPositions returns all positions with status OPEN.
func (s *Store) LoadOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM positions WHERE status = ?`, string(model.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		var p model.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// SavePosition upserts a position by id. The full struct is stored as JSON
// with status mirrored into a column for the open-positions index.
func (s *Store) SavePosition(ctx context.Context, pos model.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (id, symbol, status, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, pos.ID, pos.Symbol, string(pos.Status), string(pos.JSON()), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite save position: %w", err)
	}
	return nil
}

// RecordSignal appends an emitted signal for audit.
func (s *Store) RecordSignal(ctx context.Context, sig model.AnomalySignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, ts, direction, severity, data)
		VALUES (?, ?, ?, ?, ?)
	`, sig.Symbol, sig.TS.Unix(), string(sig.Direction), sig.Severity, string(sig.JSON()))
	if err != nil {
		return fmt.Errorf("sqlite record signal: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
