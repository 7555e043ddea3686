package postgres

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"demandindex-plus/internal/model"
)

const insertCandle = `
	insert into candles (symbol, tf, ts, open, high, low, close, volume)
	values ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric)
	on conflict (symbol, tf, ts) do nothing`

// Writer loads candles into the warehouse table. Rows already present for a
// symbol, timeframe and time are left untouched.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter connects to dsn and makes sure the candles table exists.
func NewWriter(ctx context.Context, dsn string) (*Writer, error) {
	pool, err := NewPool(ctx, dsn, PoolConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Printf("[postgres] writer ready")
	return &Writer{pool: pool}, nil
}

// WriteCandles inserts candles in one batch round trip.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(insertCandle, c.Symbol, c.TF, c.TS,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
	}

	br := w.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres insert candle %s@%s: %w", candles[i].Symbol, candles[i].TS, err)
		}
	}
	return nil
}

// Close releases the pool.
func (w *Writer) Close() error {
	w.pool.Close()
	return nil
}
