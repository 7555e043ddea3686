package indicator

import (
	"context"
	"log"

	"demandindex-plus/internal/model"
)

// CandleSource is the read side needed for backfill.
type CandleSource interface {
	ReadCandles(ctx context.Context, symbol string, tf int, fromIndex int) ([]model.Candle, error)
}

// Restorer orchestrates engine state restoration on service startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start,
// then catches up from stored candles.
type Restorer struct {
	cfg        Config
	newTracker func() LevelTracker
	opts       []Option
}

// NewRestorer creates a Restorer building engines for cfg.
func NewRestorer(cfg Config, newTracker func() LevelTracker, opts ...Option) *Restorer {
	return &Restorer{cfg: cfg, newTracker: newTracker, opts: opts}
}

// RestoreFromSnap restores an engine from snap. A nil or unusable snapshot
// yields a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found, cold starting indicator engine")
		return NewEngine(r.cfg, r.newTracker, r.opts...)
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, symbols=%d)",
		snap.Version, snap.StreamID, len(snap.Symbols))

	engine, err := RestoreEngine(r.cfg, r.newTracker, snap, r.opts...)
	if err != nil {
		log.Printf("[restorer] WARNING: snapshot restore failed: %v; falling back to cold start", err)
		return NewEngine(r.cfg, r.newTracker, r.opts...)
	}

	log.Printf("[restorer] restored indicator engine from snapshot")
	return engine, nil
}

// ReplayCandles feeds closed candles into the engine in order. Candles the
// engine already covers are rejected as out of order and skipped.
// Returns the number of candles applied.
func (r *Restorer) ReplayCandles(engine *Engine, candles []model.Candle) int {
	count := 0
	for _, c := range candles {
		if c.Forming {
			continue
		}
		if _, err := engine.Process(c); err != nil {
			continue
		}
		count++
	}
	log.Printf("[restorer] replayed %d candles to catch up", count)
	return count
}

// Backfill reads every stored candle past each instance's last bar and feeds
// it to the engine. If onResult is non-nil it receives each result, letting
// the caller republish history.
func (r *Restorer) Backfill(ctx context.Context, engine *Engine, src CandleSource,
	symbols []string, tf int, onResult func(model.DIResult)) int {
	if src == nil {
		return 0
	}

	total := 0
	for _, sym := range symbols {
		from := engine.NextIndex(sym, tf)
		candles, err := src.ReadCandles(ctx, sym, tf, from)
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read %s candles from store: %v", sym, err)
			continue
		}

		fed := 0
		for _, c := range candles {
			c.Forming = false
			res, err := engine.Process(c)
			if err != nil {
				log.Printf("[restorer] %s bar %d: %v", sym, c.Index, err)
				continue
			}
			if onResult != nil {
				onResult(res)
			}
			fed++
		}
		total += fed
		if fed > 0 {
			log.Printf("[restorer] backfilled %d candles for %s from bar %d", fed, sym, from)
		}
	}
	return total
}
