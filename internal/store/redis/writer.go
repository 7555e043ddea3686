package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unsafe"

	"demandindex-plus/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	snapshotTTL      = 24 * time.Hour

	// SnapshotKey holds the latest JSON engine snapshot.
	SnapshotKey = "snapshot:demandindex"
	// AlertStream and AlertChannel carry alert events for other services.
	AlertStream  = "alerts:demandindex"
	AlertChannel = "pub:alerts:demandindex"
	// ConfigChannel receives indicator settings as JSON for live reconfiguration.
	ConfigChannel = "config:demandindex"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes candles, indicator results, alerts and snapshots to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// streamMaxLen keeps roughly 3h of bars for tf: 10800/TF + buffer.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 200
	}
	n := int64(10800/tf) + 100
	if n < 200 {
		n = 200
	}
	return n
}

// WriteCandles appends closed candles to their streams so indicator
// consumers pick them up. Forming candles are published on Pub/Sub only.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range candles {
		c := &candles[i]
		jsonData := string(c.JSON())
		if c.Forming {
			pipe.Publish(ctx, model.CandleChannel(c.TF, c.Symbol), jsonData)
			continue
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: c.StreamKey(),
			MaxLen: streamMaxLen(c.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis candle pipeline (%d candles): %w", len(candles), err)
	}
	return nil
}

// WriteResultBatch writes multiple results in a single Redis pipeline and
// logs failures. Use BufferedWriter to add the circuit breaker.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.DIResult) {
	if err := w.writeResults(ctx, results); err != nil {
		log.Printf("[redis] %v", err)
	}
}

// writeResults batches XADD + SET + PUBLISH for all results into one network roundtrip.
// Live previews are published only.
func (w *Writer) writeResults(ctx context.Context, results []model.DIResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range results {
		res := &results[i]

		jsonBytes := res.JSON()
		// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
		jsonData := *(*string)(unsafe.Pointer(&jsonBytes))
		pubsubCh := res.PubSubChannel()

		if res.Live {
			pipe.Publish(ctx, pubsubCh, jsonData)
			continue
		}

		// Confirmed: XADD + SET + PUBLISH
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: res.StreamKey(),
			MaxLen: streamMaxLen(res.TF),
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		latestKey := model.LatestResultKey(res.TF, res.Symbol)
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("result batch pipeline error (%d results): %w", len(results), err)
	}
	return nil
}

// PublishAlert appends the alert to the alert stream and publishes it.
func (w *Writer) PublishAlert(ctx context.Context, ev model.AlertEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: AlertStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Publish(ctx, AlertChannel, string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis alert pipeline: %w", err)
	}
	return nil
}

// PublishConfig broadcasts indicator settings on ConfigChannel. Running
// services layer them over their current settings.
func (w *Writer) PublishConfig(ctx context.Context, data []byte) (int64, error) {
	return w.client.Publish(ctx, ConfigChannel, string(data)).Result()
}

// SaveSnapshotJSON stores an encoded engine snapshot with a 24h TTL
// (snapshots are also kept in SQLite for durability).
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.client.Set(ctx, SnapshotKey, string(data), snapshotTTL).Err()
}

// ReadLatestSnapshotJSON loads the latest engine snapshot.
// Returns nil, nil if no snapshot exists.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := w.client.Get(ctx, SnapshotKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil // no snapshot found
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", SnapshotKey, err)
	}
	return data, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
