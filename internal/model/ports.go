package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the indicator service from concrete storage
// implementations (Redis, SQLite, Postgres).

// CandleReader reads stored candles for backfill and replay.
type CandleReader interface {
	// ReadCandles returns candles for symbol/tf with Index >= fromIndex, ordered by index.
	ReadCandles(ctx context.Context, symbol string, tf int, fromIndex int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// CandleWriter persists closed candles.
type CandleWriter interface {
	WriteCandles(ctx context.Context, candles []Candle) error
}

// ResultWriter writes indicator results in batches.
type ResultWriter interface {
	WriteResultBatch(ctx context.Context, results []DIResult)
}

// AlertPublisher broadcasts alert events to other services.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, ev AlertEvent) error
}

// SnapshotStore reads and writes indicator engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}
