package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"demandindex-plus/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	// snapshotsKept is how many engine snapshots survive pruning.
	snapshotsKept = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/demandindex.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func open(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

// Prices and indicator values are stored as decimal TEXT so they round-trip exactly.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			tf     INTEGER NOT NULL,
			idx    INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			open   TEXT    NOT NULL,
			high   TEXT    NOT NULL,
			low    TEXT    NOT NULL,
			close  TEXT    NOT NULL,
			volume TEXT    NOT NULL,
			PRIMARY KEY (symbol, tf, idx)
		);

		CREATE TABLE IF NOT EXISTS di_results (
			symbol   TEXT    NOT NULL,
			tf       INTEGER NOT NULL,
			idx      INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			di       TEXT    NOT NULL,
			sma      TEXT    NOT NULL,
			di_color TEXT    NOT NULL,
			paint    TEXT    NOT NULL DEFAULT '',
			signal   TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (symbol, tf, idx)
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads indexed candles from candleCh and inserts them in batched transactions.
// Flushes every batchSize candles OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(context.Background(), batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// WriteCandles stores indexed candles in one transaction. Existing rows with
// the same symbol, timeframe and index are replaced.
func (w *Writer) WriteCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return w.insertBatch(ctx, candles)
}

// insertBatch inserts a batch of candles in a single transaction.
func (w *Writer) insertBatch(ctx context.Context, candles []model.Candle) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, tf, idx, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, c.TF, c.Index, c.TS.UnixMilli(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// WriteResultBatch stores closed-bar results. Live previews are skipped.
// Errors are logged; the caller keeps running.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.DIResult) {
	if err := w.insertResults(ctx, results); err != nil {
		log.Printf("[sqlite] result batch insert error: %v", err)
	}
}

func (w *Writer) insertResults(ctx context.Context, results []model.DIResult) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO di_results (symbol, tf, idx, ts, di, sma, di_color, paint, signal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if r.Live {
			continue
		}
		_, err := stmt.ExecContext(ctx, r.Symbol, r.TF, r.Index, r.TS.UnixMilli(),
			r.DI.String(), r.SMA.String(), string(r.DIColor), string(r.Paint), string(r.Signal))
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// NextIndex returns one past the highest stored bar index for symbol/tf,
// or 0 when nothing is stored.
func (w *Writer) NextIndex(ctx context.Context, symbol string, tf int) (int, error) {
	var idx sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(idx) FROM candles WHERE symbol = ? AND tf = ?`,
		symbol, tf,
	).Scan(&idx)
	if err != nil {
		return 0, err
	}
	if !idx.Valid {
		return 0, nil
	}
	return int(idx.Int64) + 1, nil
}

// LastTimestamp returns the newest stored candle time for symbol/tf.
// The zero time means no candles are stored.
func (w *Writer) LastTimestamp(ctx context.Context, symbol string, tf int) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND tf = ?`,
		symbol, tf,
	).Scan(&ts)
	if err != nil || !ts.Valid {
		return time.Time{}, err
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// SaveSnapshotJSON saves an encoded indicator engine snapshot and prunes old ones.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	_, err := w.db.Exec(`INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.Exec(`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)`, snapshotsKept)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}

	return nil
}

// ReadLatestSnapshotJSON loads the newest snapshot. Returns nil, nil if none exists.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	return latestSnapshot(w.db)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
