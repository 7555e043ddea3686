package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"demandindex-plus/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCandles reads candles for symbol/tf with idx >= fromIndex.
// Results are ordered by index ascending for correct replay order.
func (r *Reader) ReadCandles(ctx context.Context, symbol string, tf int, fromIndex int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, tf, idx, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ? AND idx >= ?
		ORDER BY idx ASC
	`, symbol, tf, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsMilli int64
		if err := rows.Scan(&c.Symbol, &c.TF, &c.Index, &tsMilli, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.UnixMilli(tsMilli).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadResults reads stored closed-bar results for symbol/tf with idx >= fromIndex.
func (r *Reader) ReadResults(ctx context.Context, symbol string, tf int, fromIndex int) ([]model.DIResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, tf, idx, ts, di, sma, di_color, paint, signal
		FROM di_results
		WHERE symbol = ? AND tf = ? AND idx >= ?
		ORDER BY idx ASC
	`, symbol, tf, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("sqlite query di_results: %w", err)
	}
	defer rows.Close()

	var results []model.DIResult
	for rows.Next() {
		var res model.DIResult
		var tsMilli int64
		var diColor, paint, signal string
		if err := rows.Scan(&res.Symbol, &res.TF, &res.Index, &tsMilli, &res.DI, &res.SMA, &diColor, &paint, &signal); err != nil {
			return nil, fmt.Errorf("sqlite scan di_results: %w", err)
		}
		res.TS = time.UnixMilli(tsMilli).UTC()
		res.DIColor, res.Paint, res.Signal = model.Color(diColor), model.Color(paint), model.SignalKind(signal)
		results = append(results, res)
	}
	return results, rows.Err()
}

// Symbols lists the symbols with stored candles for tf.
func (r *Reader) Symbols(ctx context.Context, tf int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM candles WHERE tf = ? ORDER BY symbol`, tf)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent indicator engine snapshot.
// Returns nil, nil if no snapshot exists.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	return latestSnapshot(r.db)
}

func latestSnapshot(db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRow(`
		SELECT data FROM indicator_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
