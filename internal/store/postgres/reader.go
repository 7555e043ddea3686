package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// Reader serves stored candles from PostgreSQL. The warehouse has no bar
// index column; a candle's index is its position in time order.
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader connects to dsn using the pool settings from the environment.
func NewReader(ctx context.Context, dsn string) (*Reader, error) {
	pool, err := NewPool(ctx, dsn, PoolConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Printf("[postgres] connected")
	return &Reader{pool: pool}, nil
}

const candlesQuery = `
	select ts, open::text, high::text, low::text, close::text, volume::text
	from candles
	where symbol = $1 and tf = $2
	order by ts asc
	offset $3`

// ReadCandles returns candles for symbol/tf from position fromIndex on.
func (r *Reader) ReadCandles(ctx context.Context, symbol string, tf int, fromIndex int) ([]model.Candle, error) {
	if fromIndex < 0 {
		fromIndex = 0
	}
	rows, err := r.pool.Query(ctx, candlesQuery, symbol, tf, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("postgres query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var ts time.Time
		var fields [5]string
		if err := rows.Scan(&ts, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4]); err != nil {
			return nil, fmt.Errorf("postgres scan candles: %w", err)
		}
		c, err := buildCandle(symbol, tf, fromIndex+len(candles), ts, fields)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// buildCandle parses numeric text columns open, high, low, close, volume.
func buildCandle(symbol string, tf, idx int, ts time.Time, fields [5]string) (model.Candle, error) {
	var vals [5]decimal.Decimal
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return model.Candle{}, fmt.Errorf("postgres candle %s@%s: %w", symbol, ts.Format(time.RFC3339), err)
		}
		vals[i] = d
	}
	return model.Candle{
		Symbol: symbol,
		TF:     tf,
		Index:  idx,
		TS:     ts.UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}

// Symbols lists the symbols with candles on tf.
func (r *Reader) Symbols(ctx context.Context, tf int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `select distinct symbol from candles where tf = $1 order by symbol`, tf)
	if err != nil {
		return nil, fmt.Errorf("postgres query symbols: %w", err)
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

// Close releases the pool.
func (r *Reader) Close() error {
	r.pool.Close()
	return nil
}
